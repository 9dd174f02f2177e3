package query

import (
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
)

// fieldNamePattern is the only shape of field name accepted as an identifier.
// Filter field names come from caller-controlled JSON keys and end up inside
// data->>'name' expressions, so anything outside this charset is rejected.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateFieldName rejects field names that cannot be safely interpolated
// as jsonb key identifiers. Values are always bound; this guards the one
// place where caller input reaches query text.
func ValidateFieldName(name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("%w: invalid field name %q", apperrors.ErrInvalidFilter, name)
	}
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid field name %q", apperrors.ErrInvalidFilter, name)
	}
	if isSQLi, _ := libinjection.IsSQLi(name); isSQLi {
		return fmt.Errorf("%w: field name %q rejected", apperrors.ErrInvalidFilter, name)
	}
	return nil
}
