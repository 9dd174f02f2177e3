package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/access"
	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/auth"
	"github.com/crewdesk/crewdesk-engine/pkg/services"
)

// FilterRequest is the body of POST /api/entities/{type}/filter.
type FilterRequest struct {
	Filter map[string]any `json:"filter"`
	Sort   string         `json:"sort"`
	Limit  int            `json:"limit"`
}

// EntityHandler exposes the generic entity store over HTTP.
type EntityHandler struct {
	service services.EntityService
	logger  *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(service services.EntityService, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the entity routes, wrapped by identity extraction
// and the access middleware appropriate to each operation.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware, accessMW *access.Middleware) {
	mux.HandleFunc("GET /api/entities/{type}/list",
		authMW.ExtractIdentity(accessMW.ScopeReads(h.List)))
	mux.HandleFunc("POST /api/entities/{type}/filter",
		authMW.ExtractIdentity(accessMW.ScopeReads(h.Filter)))
	mux.HandleFunc("POST /api/entities/{type}/create",
		authMW.ExtractIdentity(accessMW.CheckCreate(h.Create)))
	mux.HandleFunc("POST /api/entities/{type}/bulk-create",
		authMW.ExtractIdentity(accessMW.CheckBulkCreate(h.BulkCreate)))
	mux.HandleFunc("PUT /api/entities/{type}/{id}",
		authMW.ExtractIdentity(accessMW.CheckMutation(h.Update)))
	mux.HandleFunc("DELETE /api/entities/{type}/{id}",
		authMW.ExtractIdentity(accessMW.CheckMutation(h.Delete)))
}

// List handles GET /api/entities/{type}/list
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	limit, ok := h.parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	scope, _ := access.GetScopeFilter(r.Context())

	rows, err := h.service.List(r.Context(), entityType, r.URL.Query().Get("sort"), limit, scope)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list entities", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusOK, rows); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Filter handles POST /api/entities/{type}/filter
func (h *EntityHandler) Filter(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	scope, _ := access.GetScopeFilter(r.Context())

	rows, err := h.service.Filter(r.Context(), entityType, req.Filter, req.Sort, req.Limit, scope)
	if err != nil {
		h.writeServiceError(w, err, "Failed to filter entities", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusOK, rows); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/entities/{type}/create
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badRequest(w, "invalid_request", "Request body must be a JSON object")
		return
	}

	row, err := h.service.Create(r.Context(), entityType, payload, h.callerEmail(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to create entity", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, row); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// BulkCreate handles POST /api/entities/{type}/bulk-create
func (h *EntityHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	var payloads []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		h.badRequest(w, "invalid_request", "Request body must be a JSON array of objects")
		return
	}

	rows, err := h.service.BulkCreate(r.Context(), entityType, payloads, h.callerEmail(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to bulk create entities", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, rows); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/entities/{type}/{id}
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.badRequest(w, "invalid_id", "Invalid entity id format")
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.badRequest(w, "invalid_request", "Request body must be a JSON object")
		return
	}

	row, err := h.service.Update(r.Context(), entityType, id, patch)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update entity", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusOK, row); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/entities/{type}/{id}
// Responds with the cascade manifest describing everything removed.
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.badRequest(w, "invalid_id", "Invalid entity id format")
		return
	}

	result, err := h.service.Delete(r.Context(), entityType, id, h.callerEmail(r))
	if err != nil {
		h.writeServiceError(w, err, "Failed to delete entity", entityType)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EntityHandler) callerEmail(r *http.Request) string {
	if ident, ok := auth.GetIdentity(r.Context()); ok {
		return ident.Email
	}
	return ""
}

func (h *EntityHandler) parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.badRequest(w, "invalid_limit", "Limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func (h *EntityHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps service errors onto the HTTP taxonomy. Classified
// errors surface their message; anything else is a generic 500.
func (h *EntityHandler) writeServiceError(w http.ResponseWriter, err error, logMessage, entityType string) {
	var statusCode int
	var errorCode string

	switch {
	case errors.Is(err, apperrors.ErrInvalidEntityType):
		statusCode, errorCode = http.StatusBadRequest, "invalid_entity_type"
	case errors.Is(err, apperrors.ErrInvalidFilter):
		statusCode, errorCode = http.StatusBadRequest, "invalid_filter"
	case errors.Is(err, apperrors.ErrValidationFailed):
		statusCode, errorCode = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperrors.ErrNotFound):
		statusCode, errorCode = http.StatusNotFound, "not_found"
	default:
		h.logger.Error(logMessage,
			zap.String("entity_type", entityType),
			zap.Error(err))
		if werr := ErrorResponse(w, http.StatusInternalServerError, "internal_error", logMessage); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	if werr := ErrorResponse(w, statusCode, errorCode, err.Error()); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
