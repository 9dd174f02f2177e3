// Package entity implements the generic CRUD facade over the whitelisted
// JSONB entity tables, including transactional bulk creation and cascading
// deletes driven by the registry's ownership map.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/database"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
	"github.com/crewdesk/crewdesk-engine/pkg/query"
)

const entityColumns = "id, data, created_date, updated_date, created_by"

// Store provides list/filter/create/update/delete over the entity tables.
// Every operation validates its entity type against the registry whitelist.
type Store struct {
	db       *database.DB
	registry *models.Registry
	logger   *zap.Logger
}

// ListOptions carries the optional sort, limit and scope restriction for
// read operations.
type ListOptions struct {
	Sort  string
	Limit int
	Scope *models.ScopeFilter
}

// NewStore creates a new entity store.
func NewStore(db *database.DB, registry *models.Registry, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		registry: registry,
		logger:   logger.Named("entity-store"),
	}
}

// Registry exposes the store's entity registry.
func (s *Store) Registry() *models.Registry {
	return s.registry
}

// List returns all rows of an entity type, subject to the options' sort,
// limit and scope restriction.
func (s *Store) List(ctx context.Context, entityType string, opts ListOptions) ([]*models.Entity, error) {
	return s.Filter(ctx, entityType, nil, opts)
}

// Filter returns the rows matching a MongoDB-style filter object, ANDed with
// the scope restriction when one is present.
func (s *Store) Filter(ctx context.Context, entityType string, filter map[string]any, opts ListOptions) ([]*models.Entity, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	b := query.NewBuilder()
	where, err := query.Where(b, filter)
	if err != nil {
		return nil, err
	}
	scopeCond, err := s.scopeCondition(b, table, opts.Scope)
	if err != nil {
		return nil, err
	}
	orderBy, err := query.OrderBy(opts.Sort)
	if err != nil {
		return nil, err
	}

	var conds []string
	if where != "" {
		conds = append(conds, where)
	}
	if scopeCond != "" {
		conds = append(conds, scopeCond)
	}

	sql := "SELECT " + entityColumns + " FROM " + table
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.Query(ctx, sql, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", table, err)
	}
	return entities, nil
}

// FindByID returns a single row by id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, entityType string, id uuid.UUID) (*models.Entity, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, "SELECT "+entityColumns+" FROM "+table+" WHERE id = $1", id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", entityType, err)
	}
	return e, nil
}

// Create inserts one row, assigning its id and timestamps.
func (s *Store) Create(ctx context.Context, entityType string, data map[string]any, createdBy string) (*models.Entity, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	e, raw, err := newEntity(data, createdBy)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(ctx,
		"INSERT INTO "+table+" (id, data, created_date, updated_date, created_by) VALUES ($1, $2, $3, $4, $5)",
		e.ID, raw, e.CreatedDate, e.UpdatedDate, nullable(e.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	return e, nil
}

// BulkCreate inserts all payloads inside one transaction; a failure on any
// item rolls back every previously inserted one.
func (s *Store) BulkCreate(ctx context.Context, entityType string, payloads []map[string]any, createdBy string) ([]*models.Entity, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entities := make([]*models.Entity, 0, len(payloads))
	for i, data := range payloads {
		e, raw, err := newEntity(data, createdBy)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO "+table+" (id, data, created_date, updated_date, created_by) VALUES ($1, $2, $3, $4, $5)",
			e.ID, raw, e.CreatedDate, e.UpdatedDate, nullable(e.CreatedBy))
		if err != nil {
			return nil, fmt.Errorf("failed to bulk create %s (item %d): %w", entityType, i, err)
		}
		entities = append(entities, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bulk create: %w", err)
	}
	return entities, nil
}

// Update shallow-merges the patch into the row's payload and refreshes
// updated_date. Keys in the patch overwrite; other keys are untouched.
// Returns ErrNotFound if the row does not exist.
func (s *Store) Update(ctx context.Context, entityType string, id uuid.UUID, patch map[string]any) (*models.Entity, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	if patch == nil {
		patch = map[string]any{}
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}

	row := s.db.QueryRow(ctx,
		"UPDATE "+table+" SET data = data || $2::jsonb, updated_date = $3 WHERE id = $1 RETURNING "+entityColumns,
		id, raw, time.Now().UTC())
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update %s: %w", entityType, err)
	}
	return e, nil
}

// scopeCondition appends the access-scope predicate for the scope filter.
// An empty string means unrestricted.
func (s *Store) scopeCondition(b *query.Builder, table string, sf *models.ScopeFilter) (string, error) {
	if sf == nil {
		return "", nil
	}

	switch sf.Scope {
	case models.ScopeProject:
		if len(sf.ProjectIDs) == 0 {
			return "FALSE", nil
		}
		return "id = ANY(" + b.Bind(sf.ProjectIDs) + ")", nil

	case models.ScopeChild:
		if len(sf.ProjectIDs) == 0 {
			return "FALSE", nil
		}
		return "data ->> '" + models.ProjectForeignKey + "' = ANY(" + b.Bind(idStrings(sf.ProjectIDs)) + ")", nil

	case models.ScopeIndirect:
		if len(sf.ProjectIDs) == 0 {
			return "FALSE", nil
		}
		link, ok := s.registry.ParentLink(sf.EntityType)
		if !ok {
			return "", fmt.Errorf("no parent link for indirect entity type %s", sf.EntityType)
		}
		parentTable, err := s.registry.Table(link.ParentType)
		if err != nil {
			return "", err
		}
		return "EXISTS (SELECT 1 FROM " + parentTable + " parent" +
			" WHERE parent.id::text = " + table + ".data ->> '" + link.ForeignKey + "'" +
			" AND parent.data ->> '" + models.ProjectForeignKey + "' = ANY(" + b.Bind(idStrings(sf.ProjectIDs)) + "))", nil

	default:
		return "", nil
	}
}

// newEntity builds the row for one payload and its marshaled data.
func newEntity(data map[string]any, createdBy string) (*models.Entity, []byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	return &models.Entity{
		ID:          uuid.New(),
		Data:        data,
		CreatedDate: now,
		UpdatedDate: now,
		CreatedBy:   createdBy,
	}, raw, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// scanEntity reads one entity row.
func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var raw []byte
	var createdBy *string

	if err := row.Scan(&e.ID, &raw, &e.CreatedDate, &e.UpdatedDate, &createdBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &e.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if createdBy != nil {
		e.CreatedBy = *createdBy
	}
	return &e, nil
}
