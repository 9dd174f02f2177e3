package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/access"
	"github.com/crewdesk/crewdesk-engine/pkg/entity"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

type fakeStore struct {
	rows       []*models.Entity
	lastCreate map[string]any
}

func (f *fakeStore) List(_ context.Context, _ string, _ entity.ListOptions) ([]*models.Entity, error) {
	return f.rows, nil
}

func (f *fakeStore) Filter(_ context.Context, _ string, _ map[string]any, _ entity.ListOptions) ([]*models.Entity, error) {
	return f.rows, nil
}

func (f *fakeStore) Create(_ context.Context, _ string, data map[string]any, createdBy string) (*models.Entity, error) {
	f.lastCreate = data
	return &models.Entity{ID: uuid.New(), Data: data, CreatedBy: createdBy}, nil
}

func (f *fakeStore) BulkCreate(_ context.Context, _ string, payloads []map[string]any, createdBy string) ([]*models.Entity, error) {
	out := make([]*models.Entity, len(payloads))
	for i, p := range payloads {
		out[i] = &models.Entity{ID: uuid.New(), Data: p, CreatedBy: createdBy}
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, _ string, id uuid.UUID, patch map[string]any) (*models.Entity, error) {
	return &models.Entity{ID: id, Data: patch}, nil
}

func (f *fakeStore) Delete(_ context.Context, entityType string, _ uuid.UUID, _ string) (*entity.DeleteResult, error) {
	return &entity.DeleteResult{Success: true, Cascaded: []models.CascadeCount{{EntityType: entityType, Count: 1}}}, nil
}

type spyResolver struct {
	invalidatedAll int
}

func (s *spyResolver) AccessibleProjects(context.Context, string, string) (*access.ProjectSet, error) {
	return &access.ProjectSet{}, nil
}
func (s *spyResolver) Invalidate(string) {}
func (s *spyResolver) InvalidateAll()    { s.invalidatedAll++ }

func newTestService(store *fakeStore, resolver *spyResolver) EntityService {
	validator, _ := NewPayloadValidator(nil)
	return NewEntityService(store, validator, resolver, zap.NewNop())
}

func TestEntityService_ListFormatsRows(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{rows: []*models.Entity{{
		ID:          id,
		Data:        map[string]any{"title": "order steel"},
		CreatedDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	svc := newTestService(store, &spyResolver{})

	rows, err := svc.List(context.Background(), models.TypeTask, "", 0, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, id.String(), rows[0]["id"])
	assert.Equal(t, "order steel", rows[0]["title"])
	assert.NotContains(t, rows[0], "data", "payload must be flattened")
}

func TestEntityService_ProjectWritesInvalidateScopes(t *testing.T) {
	t.Run("create project", func(t *testing.T) {
		resolver := &spyResolver{}
		svc := newTestService(&fakeStore{}, resolver)

		_, err := svc.Create(context.Background(), models.TypeProject, map[string]any{"name": "refit"}, "sam@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.invalidatedAll)
	})

	t.Run("create task does not", func(t *testing.T) {
		resolver := &spyResolver{}
		svc := newTestService(&fakeStore{}, resolver)

		_, err := svc.Create(context.Background(), models.TypeTask, map[string]any{"title": "x"}, "sam@example.com")
		require.NoError(t, err)
		assert.Zero(t, resolver.invalidatedAll)
	})

	t.Run("membership patch invalidates", func(t *testing.T) {
		resolver := &spyResolver{}
		svc := newTestService(&fakeStore{}, resolver)

		_, err := svc.Update(context.Background(), models.TypeProject, uuid.New(),
			map[string]any{models.ProjectMembersField: []any{"lee@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.invalidatedAll)
	})

	t.Run("unrelated project patch does not", func(t *testing.T) {
		resolver := &spyResolver{}
		svc := newTestService(&fakeStore{}, resolver)

		_, err := svc.Update(context.Background(), models.TypeProject, uuid.New(),
			map[string]any{"name": "renamed"})
		require.NoError(t, err)
		assert.Zero(t, resolver.invalidatedAll)
	})

	t.Run("delete project invalidates", func(t *testing.T) {
		resolver := &spyResolver{}
		svc := newTestService(&fakeStore{}, resolver)

		_, err := svc.Delete(context.Background(), models.TypeProject, uuid.New(), "sam@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.invalidatedAll)
	})
}

func TestEntityService_CreateValidatesPayload(t *testing.T) {
	validator, err := NewPayloadValidator(map[string]json.RawMessage{
		models.TypeTask: json.RawMessage(`{"type":"object","required":["title"]}`),
	})
	require.NoError(t, err)
	svc := NewEntityService(&fakeStore{}, validator, &spyResolver{}, zap.NewNop())

	_, err = svc.Create(context.Background(), models.TypeTask, map[string]any{}, "sam@example.com")
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), models.TypeTask, map[string]any{"title": "ok"}, "sam@example.com")
	assert.NoError(t, err)
}

func TestEntityService_BulkCreateValidatesEveryPayload(t *testing.T) {
	validator, err := NewPayloadValidator(map[string]json.RawMessage{
		models.TypeTask: json.RawMessage(`{"type":"object","required":["title"]}`),
	})
	require.NoError(t, err)
	svc := NewEntityService(&fakeStore{}, validator, &spyResolver{}, zap.NewNop())

	_, err = svc.BulkCreate(context.Background(), models.TypeTask,
		[]map[string]any{{"title": "a"}, {}}, "sam@example.com")
	assert.Error(t, err, "one invalid payload must fail the whole batch")
}
