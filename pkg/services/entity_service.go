// Package services hosts the application layer between the HTTP handlers and
// the entity store: payload validation, row formatting, and scope-cache
// invalidation on membership-changing writes.
package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/access"
	"github.com/crewdesk/crewdesk-engine/pkg/entity"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

// EntityStore is the persistence surface the service consumes. Satisfied by
// the entity store; abstracted for testing.
type EntityStore interface {
	List(ctx context.Context, entityType string, opts entity.ListOptions) ([]*models.Entity, error)
	Filter(ctx context.Context, entityType string, filter map[string]any, opts entity.ListOptions) ([]*models.Entity, error)
	Create(ctx context.Context, entityType string, data map[string]any, createdBy string) (*models.Entity, error)
	BulkCreate(ctx context.Context, entityType string, payloads []map[string]any, createdBy string) ([]*models.Entity, error)
	Update(ctx context.Context, entityType string, id uuid.UUID, patch map[string]any) (*models.Entity, error)
	Delete(ctx context.Context, entityType string, id uuid.UUID, deletedBy string) (*entity.DeleteResult, error)
}

// EntityService exposes the entity operations in their caller-facing shape:
// formatted rows with payload keys flattened alongside metadata.
type EntityService interface {
	List(ctx context.Context, entityType, sort string, limit int, scope *models.ScopeFilter) ([]map[string]any, error)
	Filter(ctx context.Context, entityType string, filter map[string]any, sort string, limit int, scope *models.ScopeFilter) ([]map[string]any, error)
	Create(ctx context.Context, entityType string, payload map[string]any, createdBy string) (map[string]any, error)
	BulkCreate(ctx context.Context, entityType string, payloads []map[string]any, createdBy string) ([]map[string]any, error)
	Update(ctx context.Context, entityType string, id uuid.UUID, patch map[string]any) (map[string]any, error)
	Delete(ctx context.Context, entityType string, id uuid.UUID, deletedBy string) (*entity.DeleteResult, error)
}

type entityService struct {
	store     EntityStore
	validator *PayloadValidator
	resolver  access.Resolver
	logger    *zap.Logger
}

// NewEntityService creates the entity service.
func NewEntityService(store EntityStore, validator *PayloadValidator, resolver access.Resolver, logger *zap.Logger) EntityService {
	return &entityService{
		store:     store,
		validator: validator,
		resolver:  resolver,
		logger:    logger.Named("entity-service"),
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) List(ctx context.Context, entityType, sort string, limit int, scope *models.ScopeFilter) ([]map[string]any, error) {
	rows, err := s.store.List(ctx, entityType, entity.ListOptions{Sort: sort, Limit: limit, Scope: scope})
	if err != nil {
		return nil, err
	}
	return formatRows(rows), nil
}

func (s *entityService) Filter(ctx context.Context, entityType string, filter map[string]any, sort string, limit int, scope *models.ScopeFilter) ([]map[string]any, error) {
	rows, err := s.store.Filter(ctx, entityType, filter, entity.ListOptions{Sort: sort, Limit: limit, Scope: scope})
	if err != nil {
		return nil, err
	}
	return formatRows(rows), nil
}

func (s *entityService) Create(ctx context.Context, entityType string, payload map[string]any, createdBy string) (map[string]any, error) {
	if err := s.validator.Validate(entityType, payload); err != nil {
		return nil, err
	}

	row, err := s.store.Create(ctx, entityType, payload, createdBy)
	if err != nil {
		return nil, err
	}

	if entityType == models.TypeProject {
		// A new project defines a new membership list.
		s.resolver.InvalidateAll()
	}
	return row.Formatted(), nil
}

func (s *entityService) BulkCreate(ctx context.Context, entityType string, payloads []map[string]any, createdBy string) ([]map[string]any, error) {
	for _, payload := range payloads {
		if err := s.validator.Validate(entityType, payload); err != nil {
			return nil, err
		}
	}

	rows, err := s.store.BulkCreate(ctx, entityType, payloads, createdBy)
	if err != nil {
		return nil, err
	}

	if entityType == models.TypeProject {
		s.resolver.InvalidateAll()
	}
	return formatRows(rows), nil
}

func (s *entityService) Update(ctx context.Context, entityType string, id uuid.UUID, patch map[string]any) (map[string]any, error) {
	row, err := s.store.Update(ctx, entityType, id, patch)
	if err != nil {
		return nil, err
	}

	if entityType == models.TypeProject {
		if _, touched := patch[models.ProjectMembersField]; touched {
			// The membership list changed; cached scopes for every
			// affected user are stale and the key is unknown here.
			s.resolver.InvalidateAll()
		}
	}
	return row.Formatted(), nil
}

func (s *entityService) Delete(ctx context.Context, entityType string, id uuid.UUID, deletedBy string) (*entity.DeleteResult, error) {
	result, err := s.store.Delete(ctx, entityType, id, deletedBy)
	if err != nil {
		return nil, err
	}

	if entityType == models.TypeProject {
		s.resolver.InvalidateAll()
	}
	return result, nil
}

func formatRows(rows []*models.Entity) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = row.Formatted()
	}
	return out
}
