package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

// systemActor is recorded on audit entries when no acting identity is given.
const systemActor = "system"

// DeleteResult is the outcome of a cascading delete.
type DeleteResult struct {
	Success  bool                  `json:"success"`
	Cascaded []models.CascadeCount `json:"cascaded"`
}

// Delete removes a row and, per the registry's ownership map, every dependent
// row beneath it, inside one transaction. One audit-log row capturing the
// full pre-deletion payload and the cascade manifest is written before
// commit. The audit insert is part of the transaction: if it fails, the
// whole delete rolls back. A delete that cannot be recorded does not happen.
//
// Returns ErrNotFound if the target row does not exist; the transaction is
// rolled back and nothing else is touched.
func (s *Store) Delete(ctx context.Context, entityType string, id uuid.UUID, deletedBy string) (*DeleteResult, error) {
	table, err := s.registry.Table(entityType)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, "SELECT "+entityColumns+" FROM "+table+" WHERE id = $1 FOR UPDATE", id)
	target, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock %s for delete: %w", entityType, err)
	}

	cascaded, err := s.cascadeChildren(ctx, tx, entityType, id)
	if err != nil {
		return nil, err
	}
	manifest := mergeCascades(cascaded)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", entityType, err)
	}

	if err := s.insertAuditEntry(ctx, tx, entityType, target, manifest, deletedBy); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Info("Deleted entity with cascade",
		zap.String("entity_type", entityType),
		zap.String("entity_id", id.String()),
		zap.Int("cascaded_types", len(manifest)))

	return &DeleteResult{Success: true, Cascaded: manifest}, nil
}

// cascadeChildren depth-first deletes every dependent row of parentID. The
// ownership map is consulted recursively, so chains deeper than the observed
// Project → Task → TaskComment still cascade fully.
func (s *Store) cascadeChildren(ctx context.Context, tx pgx.Tx, entityType string, parentID uuid.UUID) ([]models.CascadeCount, error) {
	var cascaded []models.CascadeCount

	for _, link := range s.registry.Children(entityType) {
		childTable, err := s.registry.Table(link.ChildType)
		if err != nil {
			return nil, err
		}

		// Collect matching children first so grandchildren are removed
		// before their parents vanish out from under them.
		childIDs, err := s.childIDs(ctx, tx, childTable, link.ForeignKey, parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to find %s children: %w", link.ChildType, err)
		}

		for _, childID := range childIDs {
			sub, err := s.cascadeChildren(ctx, tx, link.ChildType, childID)
			if err != nil {
				return nil, err
			}
			cascaded = append(cascaded, sub...)
		}

		tag, err := tx.Exec(ctx,
			"DELETE FROM "+childTable+" WHERE data ->> '"+link.ForeignKey+"' = $1",
			parentID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to cascade delete %s: %w", link.ChildType, err)
		}
		if tag.RowsAffected() > 0 {
			cascaded = append(cascaded, models.CascadeCount{
				EntityType: link.ChildType,
				Count:      tag.RowsAffected(),
			})
		}
	}

	return cascaded, nil
}

func (s *Store) childIDs(ctx context.Context, tx pgx.Tx, childTable, foreignKey string, parentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx,
		"SELECT id FROM "+childTable+" WHERE data ->> '"+foreignKey+"' = $1",
		parentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// insertAuditEntry records the delete in the audit log, within the delete's
// own transaction. The payload is the full pre-deletion data plus a
// _cascaded field listing everything removed alongside it.
func (s *Store) insertAuditEntry(ctx context.Context, tx pgx.Tx, entityType string, target *models.Entity, manifest []models.CascadeCount, deletedBy string) error {
	auditTable, err := s.registry.Table(models.TypeAuditLog)
	if err != nil {
		return err
	}

	payload := make(map[string]any, len(target.Data)+1)
	for k, v := range target.Data {
		payload[k] = v
	}
	if manifest == nil {
		manifest = []models.CascadeCount{}
	}
	payload["_cascaded"] = manifest

	now := time.Now().UTC()
	record := map[string]any{
		"action":      "delete",
		"entity_type": entityType,
		"entity_id":   target.ID.String(),
		"payload":     payload,
		"timestamp":   now.Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	actor := deletedBy
	if actor == "" {
		actor = systemActor
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO "+auditTable+" (id, data, created_date, updated_date, created_by) VALUES ($1, $2, $3, $4, $5)",
		uuid.New(), raw, now, now, actor)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// mergeCascades aggregates per-call counts into one entry per entity type,
// preserving first-seen order.
func mergeCascades(cascaded []models.CascadeCount) []models.CascadeCount {
	var order []string
	totals := make(map[string]int64)
	for _, c := range cascaded {
		if _, seen := totals[c.EntityType]; !seen {
			order = append(order, c.EntityType)
		}
		totals[c.EntityType] += c.Count
	}

	merged := make([]models.CascadeCount, 0, len(order))
	for _, t := range order {
		merged = append(merged, models.CascadeCount{EntityType: t, Count: totals[t]})
	}
	return merged
}
