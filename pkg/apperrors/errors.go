package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrAuthRequired      = errors.New("authentication required")
	ErrAccessDenied      = errors.New("access denied")
	ErrValidationFailed  = errors.New("payload validation failed")
)
