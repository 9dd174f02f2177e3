// Package access computes and enforces project-membership scoping: which
// project rows a user may touch, and how each entity type relates to the
// Project aggregate root.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/database"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

// RoleAdmin bypasses all project scoping.
const RoleAdmin = "admin"

// ProjectSet is the set of project ids a user may access. Unrestricted is
// the admin sentinel: every membership check passes without consulting IDs.
type ProjectSet struct {
	Unrestricted bool
	IDs          map[uuid.UUID]struct{}
}

// Contains reports whether the set grants access to a project id.
func (s *ProjectSet) Contains(id uuid.UUID) bool {
	if s == nil {
		return false
	}
	if s.Unrestricted {
		return true
	}
	_, ok := s.IDs[id]
	return ok
}

// Slice returns the project ids in the set. Nil for unrestricted sets.
func (s *ProjectSet) Slice() []uuid.UUID {
	if s == nil || s.Unrestricted {
		return nil
	}
	out := make([]uuid.UUID, 0, len(s.IDs))
	for id := range s.IDs {
		out = append(out, id)
	}
	return out
}

// Resolver computes a user's accessible-project set, caching results briefly
// per email. Write paths that change project membership must call Invalidate.
type Resolver interface {
	AccessibleProjects(ctx context.Context, email, role string) (*ProjectSet, error)
	Invalidate(email string)
	InvalidateAll()
}

type resolver struct {
	db       *database.DB
	registry *models.Registry
	cache    *scopeCache
	logger   *zap.Logger
}

// NewResolver creates a membership resolver with the given cache TTL.
func NewResolver(db *database.DB, registry *models.Registry, ttl time.Duration, logger *zap.Logger) Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &resolver{
		db:       db,
		registry: registry,
		cache:    newScopeCache(ttl),
		logger:   logger.Named("access-resolver"),
	}
}

// AccessibleProjects returns the projects whose team_members list contains
// the user's email. Admins get the unrestricted sentinel without a query.
func (r *resolver) AccessibleProjects(ctx context.Context, email, role string) (*ProjectSet, error) {
	if role == RoleAdmin {
		return &ProjectSet{Unrestricted: true}, nil
	}

	if set, ok := r.cache.get(email); ok {
		return set, nil
	}

	table, err := r.registry.Table(models.TypeProject)
	if err != nil {
		return nil, err
	}

	member, err := json.Marshal([]string{email})
	if err != nil {
		return nil, fmt.Errorf("failed to encode membership probe: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT id FROM "+table+" WHERE data -> '"+models.ProjectMembersField+"' @> $1::jsonb",
		string(member))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve accessible projects: %w", err)
	}
	defer rows.Close()

	set := &ProjectSet{IDs: make(map[uuid.UUID]struct{})}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		set.IDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read project ids: %w", err)
	}

	r.cache.set(email, set)
	r.logger.Debug("Resolved accessible projects",
		zap.String("email", email),
		zap.Int("count", len(set.IDs)))
	return set, nil
}

// Invalidate drops the cached set for one user.
func (r *resolver) Invalidate(email string) {
	r.cache.invalidate(email)
}

// InvalidateAll drops every cached set. Called when a project's membership
// list changes, since the affected users cannot be derived from the email key.
func (r *resolver) InvalidateAll() {
	r.cache.invalidateAll()
}

var _ Resolver = (*resolver)(nil)
