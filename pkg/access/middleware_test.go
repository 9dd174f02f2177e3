package access

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/auth"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

type stubResolver struct {
	set *ProjectSet
	err error
}

func (s *stubResolver) AccessibleProjects(context.Context, string, string) (*ProjectSet, error) {
	return s.set, s.err
}
func (s *stubResolver) Invalidate(string) {}
func (s *stubResolver) InvalidateAll()    {}

type stubFinder struct {
	entities map[uuid.UUID]*models.Entity
}

func (s *stubFinder) FindByID(_ context.Context, _ string, id uuid.UUID) (*models.Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e, nil
}

func newTestMiddleware(set *ProjectSet, finder *stubFinder) *Middleware {
	if finder == nil {
		finder = &stubFinder{}
	}
	return NewMiddleware(&stubResolver{set: set}, finder, models.NewRegistry(), zap.NewNop())
}

// newEntityRequest builds a request carrying the path values the mux would
// have extracted.
func newEntityRequest(method, entityType, id string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, "/api/entities/"+entityType+"/test", bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, "/api/entities/"+entityType+"/test", nil)
	}
	r.SetPathValue("type", entityType)
	if id != "" {
		r.SetPathValue("id", id)
	}
	return r
}

func authenticated(r *http.Request, email, role string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{Email: email, Role: role}))
}

func TestScopeReads_UnscopedTypePassesAnonymously(t *testing.T) {
	mw := newTestMiddleware(nil, nil)

	called := false
	handler := mw.ScopeReads(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := GetScopeFilter(r.Context())
		assert.False(t, ok, "unscoped type must not carry a scope filter")
	})

	w := httptest.NewRecorder()
	handler(w, newEntityRequest(http.MethodGet, models.TypeCustomer, "", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScopeReads_RequiresAuthForScopedTypes(t *testing.T) {
	mw := newTestMiddleware(nil, nil)

	handler := mw.ScopeReads(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	handler(w, newEntityRequest(http.MethodGet, models.TypeTask, "", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "auth_required", resp["error"])
}

func TestScopeReads_AdminPassesUnfiltered(t *testing.T) {
	mw := newTestMiddleware(&ProjectSet{Unrestricted: true}, nil)

	handler := mw.ScopeReads(func(w http.ResponseWriter, r *http.Request) {
		_, ok := GetScopeFilter(r.Context())
		assert.False(t, ok, "admin reads must be unrestricted")
	})

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodGet, models.TypeTask, "", nil), "admin@example.com", "admin")
	handler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScopeReads_AttachesScopeFilter(t *testing.T) {
	projectID := uuid.New()
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{projectID: {}}}, nil)

	handler := mw.ScopeReads(func(w http.ResponseWriter, r *http.Request) {
		sf, ok := GetScopeFilter(r.Context())
		require.True(t, ok)
		assert.Equal(t, models.TypeTask, sf.EntityType)
		assert.Equal(t, models.ScopeChild, sf.Scope)
		assert.Equal(t, []uuid.UUID{projectID}, sf.ProjectIDs)
	})

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodGet, models.TypeTask, "", nil), "sam@example.com", "user")
	handler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckMutation_DeniesForeignChild(t *testing.T) {
	myProject := uuid.New()
	foreignProject := uuid.New()
	taskID := uuid.New()

	finder := &stubFinder{entities: map[uuid.UUID]*models.Entity{
		taskID: {ID: taskID, Data: map[string]any{"project_id": foreignProject.String()}},
	}}
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{myProject: {}}}, finder)

	handler := mw.CheckMutation(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodDelete, models.TypeTask, taskID.String(), nil), "sam@example.com", "user")
	handler(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "access_denied", resp["error"])
}

func TestCheckMutation_AllowsOwnedChild(t *testing.T) {
	myProject := uuid.New()
	taskID := uuid.New()

	finder := &stubFinder{entities: map[uuid.UUID]*models.Entity{
		taskID: {ID: taskID, Data: map[string]any{"project_id": myProject.String()}},
	}}
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{myProject: {}}}, finder)

	called := false
	handler := mw.CheckMutation(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodDelete, models.TypeTask, taskID.String(), nil), "sam@example.com", "user")
	handler(w, r)

	assert.True(t, called)
}

func TestCheckMutation_MissingRowPassesThrough(t *testing.T) {
	// The handler owns the 404; denying here would leak row existence.
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{}}, &stubFinder{})

	called := false
	handler := mw.CheckMutation(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodDelete, models.TypeTask, uuid.NewString(), nil), "sam@example.com", "user")
	handler(w, r)

	assert.True(t, called)
}

func TestCheckMutation_IndirectResolvesThroughParent(t *testing.T) {
	myProject := uuid.New()
	taskID := uuid.New()
	commentID := uuid.New()

	finder := &stubFinder{entities: map[uuid.UUID]*models.Entity{
		taskID:    {ID: taskID, Data: map[string]any{"project_id": myProject.String()}},
		commentID: {ID: commentID, Data: map[string]any{"task_id": taskID.String()}},
	}}
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{myProject: {}}}, finder)

	called := false
	handler := mw.CheckMutation(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPut, models.TypeTaskComment, commentID.String(), nil), "sam@example.com", "user")
	handler(w, r)

	assert.True(t, called)
}

func TestCheckMutation_OrphanedIndirectDenied(t *testing.T) {
	commentID := uuid.New()

	finder := &stubFinder{entities: map[uuid.UUID]*models.Entity{
		commentID: {ID: commentID, Data: map[string]any{"task_id": uuid.NewString()}},
	}}
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{uuid.New(): {}}}, finder)

	handler := mw.CheckMutation(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPut, models.TypeTaskComment, commentID.String(), nil), "sam@example.com", "user")
	handler(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckCreate_AppendsCreatorToProject(t *testing.T) {
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{}}, nil)

	var seen map[string]any
	handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &seen))
	})

	body := []byte(`{"name":"Workshop refit","team_members":["lee@example.com"]}`)
	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPost, models.TypeProject, "", body), "sam@example.com", "user")
	handler(w, r)

	assert.ElementsMatch(t, []any{"lee@example.com", "sam@example.com"}, seen["team_members"])
}

func TestCheckCreate_DoesNotDuplicateCreator(t *testing.T) {
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{}}, nil)

	var seen map[string]any
	handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &seen))
	})

	body := []byte(`{"team_members":["sam@example.com"]}`)
	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPost, models.TypeProject, "", body), "sam@example.com", "user")
	handler(w, r)

	assert.Equal(t, []any{"sam@example.com"}, seen["team_members"])
}

func TestCheckCreate_ChildNeedsAccessibleProject(t *testing.T) {
	myProject := uuid.New()
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{myProject: {}}}, nil)

	t.Run("accessible project", func(t *testing.T) {
		called := false
		handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) { called = true })

		body := []byte(`{"title":"order steel","project_id":"` + myProject.String() + `"}`)
		w := httptest.NewRecorder()
		r := authenticated(newEntityRequest(http.MethodPost, models.TypeTask, "", body), "sam@example.com", "user")
		handler(w, r)
		assert.True(t, called)
	})

	t.Run("foreign project", func(t *testing.T) {
		handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		})

		body := []byte(`{"title":"order steel","project_id":"` + uuid.NewString() + `"}`)
		w := httptest.NewRecorder()
		r := authenticated(newEntityRequest(http.MethodPost, models.TypeTask, "", body), "sam@example.com", "user")
		handler(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing project_id", func(t *testing.T) {
		handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		})

		body := []byte(`{"title":"order steel"}`)
		w := httptest.NewRecorder()
		r := authenticated(newEntityRequest(http.MethodPost, models.TypeTask, "", body), "sam@example.com", "user")
		handler(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestCheckCreate_MalformedBodyReachesHandler(t *testing.T) {
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{}}, nil)

	var seen []byte
	handler := mw.CheckCreate(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
	})

	body := []byte(`{not json`)
	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPost, models.TypeProject, "", body), "sam@example.com", "user")
	handler(w, r)

	assert.Equal(t, body, seen, "handler must see the original body")
}

func TestCheckBulkCreate_RejectsWholeBatchOnOneForeignRow(t *testing.T) {
	myProject := uuid.New()
	mw := newTestMiddleware(&ProjectSet{IDs: map[uuid.UUID]struct{}{myProject: {}}}, nil)

	handler := mw.CheckBulkCreate(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	body := []byte(`[
		{"title":"a","project_id":"` + myProject.String() + `"},
		{"title":"b","project_id":"` + uuid.NewString() + `"}
	]`)
	w := httptest.NewRecorder()
	r := authenticated(newEntityRequest(http.MethodPost, models.TypeTask, "", body), "sam@example.com", "user")
	handler(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
