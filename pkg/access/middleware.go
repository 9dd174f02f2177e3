package access

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/auth"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

// EntityFinder is the point-lookup the middleware needs to check ownership
// of a single row. Satisfied by the entity store.
type EntityFinder interface {
	FindByID(ctx context.Context, entityType string, id uuid.UUID) (*models.Entity, error)
}

type contextKey string

// scopeFilterKey is the context key for the scope filter attached to reads.
const scopeFilterKey contextKey = "scope_filter"

// WithScopeFilter stores a scope filter in the context.
func WithScopeFilter(ctx context.Context, sf *models.ScopeFilter) context.Context {
	return context.WithValue(ctx, scopeFilterKey, sf)
}

// GetScopeFilter retrieves the scope filter attached by the middleware.
// Absent means the request is unrestricted.
func GetScopeFilter(ctx context.Context) (*models.ScopeFilter, bool) {
	sf, ok := ctx.Value(scopeFilterKey).(*models.ScopeFilter)
	return sf, ok && sf != nil
}

// Middleware gates entity routes on project membership before they reach the
// store. Entity types with no project affiliation, and admin callers, pass
// through unchanged.
type Middleware struct {
	resolver Resolver
	finder   EntityFinder
	registry *models.Registry
	logger   *zap.Logger
}

// NewMiddleware creates the access middleware.
func NewMiddleware(resolver Resolver, finder EntityFinder, registry *models.Registry, logger *zap.Logger) *Middleware {
	return &Middleware{
		resolver: resolver,
		finder:   finder,
		registry: registry,
		logger:   logger,
	}
}

// ScopeReads attaches a scope filter to list/filter requests so the store
// ANDs the membership restriction into its query.
func (m *Middleware) ScopeReads(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := r.PathValue("type")
		scope := m.registry.ScopeOf(entityType)
		if scope == models.ScopeNone {
			next(w, r)
			return
		}

		ident, set, ok := m.resolve(w, r)
		if !ok {
			return
		}
		if set.Unrestricted {
			next(w, r)
			return
		}

		sf := &models.ScopeFilter{
			EntityType: entityType,
			Scope:      scope,
			ProjectIDs: set.Slice(),
		}
		m.logger.Debug("Attached scope filter",
			zap.String("entity_type", entityType),
			zap.String("email", ident.Email),
			zap.Int("projects", len(sf.ProjectIDs)))
		next(w, r.WithContext(WithScopeFilter(r.Context(), sf)))
	}
}

// CheckMutation performs the point ownership check on single-entity
// update/delete requests identified by an explicit id. A nonexistent target
// passes through so the downstream 404 surfaces instead of a masking 403.
func (m *Middleware) CheckMutation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := r.PathValue("type")
		scope := m.registry.ScopeOf(entityType)
		if scope == models.ScopeNone {
			next(w, r)
			return
		}

		_, set, ok := m.resolve(w, r)
		if !ok {
			return
		}
		if set.Unrestricted {
			next(w, r)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			// Let the handler reject the malformed id.
			next(w, r)
			return
		}

		allowed, err := m.rowAccessible(r.Context(), entityType, scope, id, set)
		if err != nil {
			m.internalError(w, err)
			return
		}
		if !allowed {
			m.accessDenied(w)
			return
		}
		next(w, r)
	}
}

// CheckCreate enforces the creation rules: a project-root payload gets the
// creator appended to its team_members, and a direct child's project_id must
// be accessible.
func (m *Middleware) CheckCreate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := r.PathValue("type")
		scope := m.registry.ScopeOf(entityType)
		if scope == models.ScopeNone {
			next(w, r)
			return
		}

		ident, set, ok := m.resolve(w, r)
		if !ok {
			return
		}
		if set.Unrestricted {
			next(w, r)
			return
		}

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			m.internalError(w, err)
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Malformed body: restore it and let the handler reject it.
			restoreBody(r, raw)
			next(w, r)
			return
		}

		switch scope {
		case models.ScopeProject:
			appendCreator(payload, ident.Email)
			raw, err = json.Marshal(payload)
			if err != nil {
				m.internalError(w, err)
				return
			}
		case models.ScopeChild:
			if !m.payloadProjectAccessible(payload, set) {
				m.accessDenied(w)
				return
			}
		}

		restoreBody(r, raw)
		next(w, r)
	}
}

// CheckBulkCreate applies the creation rules to every payload in the array.
func (m *Middleware) CheckBulkCreate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := r.PathValue("type")
		scope := m.registry.ScopeOf(entityType)
		if scope == models.ScopeNone {
			next(w, r)
			return
		}

		ident, set, ok := m.resolve(w, r)
		if !ok {
			return
		}
		if set.Unrestricted {
			next(w, r)
			return
		}

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			m.internalError(w, err)
			return
		}

		var payloads []map[string]any
		if err := json.Unmarshal(raw, &payloads); err != nil {
			restoreBody(r, raw)
			next(w, r)
			return
		}

		switch scope {
		case models.ScopeProject:
			for _, payload := range payloads {
				appendCreator(payload, ident.Email)
			}
			raw, err = json.Marshal(payloads)
			if err != nil {
				m.internalError(w, err)
				return
			}
		case models.ScopeChild:
			for _, payload := range payloads {
				if !m.payloadProjectAccessible(payload, set) {
					m.accessDenied(w)
					return
				}
			}
		}

		restoreBody(r, raw)
		next(w, r)
	}
}

// resolve requires an authenticated caller and computes their project set.
// Returns ok=false after writing the response when the request is finished.
func (m *Middleware) resolve(w http.ResponseWriter, r *http.Request) (*auth.Identity, *ProjectSet, bool) {
	ident, ok := auth.GetIdentity(r.Context())
	if !ok {
		m.authRequired(w)
		return nil, nil, false
	}

	set, err := m.resolver.AccessibleProjects(r.Context(), ident.Email, ident.Role)
	if err != nil {
		m.logger.Error("Failed to resolve accessible projects",
			zap.String("email", ident.Email),
			zap.Error(err))
		m.internalError(w, err)
		return nil, nil, false
	}
	return ident, set, true
}

// rowAccessible checks whether the target row's project is in the user's set.
// Missing rows are accessible by definition; the handler's 404 surfaces.
func (m *Middleware) rowAccessible(ctx context.Context, entityType string, scope models.ScopeClass, id uuid.UUID, set *ProjectSet) (bool, error) {
	switch scope {
	case models.ScopeProject:
		if set.Contains(id) {
			return true, nil
		}
		_, err := m.finder.FindByID(ctx, entityType, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return false, nil

	case models.ScopeChild:
		e, err := m.finder.FindByID(ctx, entityType, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return m.payloadProjectAccessible(e.Data, set), nil

	case models.ScopeIndirect:
		e, err := m.finder.FindByID(ctx, entityType, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}

		link, ok := m.registry.ParentLink(entityType)
		if !ok {
			return false, nil
		}
		parentID, ok := payloadUUID(e.Data, link.ForeignKey)
		if !ok {
			return false, nil
		}
		parent, err := m.finder.FindByID(ctx, link.ParentType, parentID)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Orphaned row: membership cannot be established.
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return m.payloadProjectAccessible(parent.Data, set), nil
	}
	return true, nil
}

func (m *Middleware) payloadProjectAccessible(payload map[string]any, set *ProjectSet) bool {
	projectID, ok := payloadUUID(payload, models.ProjectForeignKey)
	if !ok {
		return false
	}
	return set.Contains(projectID)
}

func payloadUUID(payload map[string]any, key string) (uuid.UUID, bool) {
	s, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// appendCreator ensures the creator's email is in the project's member list
// so a creator can never lock themselves out of their own project.
func appendCreator(payload map[string]any, email string) {
	members, _ := payload[models.ProjectMembersField].([]any)
	for _, m := range members {
		if s, ok := m.(string); ok && s == email {
			return
		}
	}
	payload[models.ProjectMembersField] = append(members, email)
}

func restoreBody(r *http.Request, raw []byte) {
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
}

func (m *Middleware) authRequired(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "auth_required", apperrors.ErrAuthRequired.Error())
}

func (m *Middleware) accessDenied(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "access_denied", apperrors.ErrAccessDenied.Error())
}

func (m *Middleware) internalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "internal_error", "Failed to resolve access scope")
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
