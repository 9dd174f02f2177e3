package services

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
	"github.com/crewdesk/crewdesk-engine/pkg/models"
)

const taskSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"estimate_hours": {"type": "number", "minimum": 0}
	}
}`

func TestPayloadValidator_Validate(t *testing.T) {
	v, err := NewPayloadValidator(map[string]json.RawMessage{
		models.TypeTask: json.RawMessage(taskSchema),
	})
	require.NoError(t, err)

	t.Run("valid payload", func(t *testing.T) {
		err := v.Validate(models.TypeTask, map[string]any{
			"title":          "weld the frame",
			"estimate_hours": 4.5,
		})
		assert.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := v.Validate(models.TypeTask, map[string]any{"estimate_hours": 1})
		assert.True(t, errors.Is(err, apperrors.ErrValidationFailed), "got %v", err)
	})

	t.Run("wrong type", func(t *testing.T) {
		err := v.Validate(models.TypeTask, map[string]any{"title": 42})
		assert.True(t, errors.Is(err, apperrors.ErrValidationFailed), "got %v", err)
	})

	t.Run("type without schema passes", func(t *testing.T) {
		err := v.Validate(models.TypeNotification, map[string]any{"anything": "goes"})
		assert.NoError(t, err)
	})
}

func TestNewPayloadValidator_BadSchema(t *testing.T) {
	_, err := NewPayloadValidator(map[string]json.RawMessage{
		models.TypeTask: json.RawMessage(`{"type": 12}`),
	})
	assert.Error(t, err)
}

func TestLoadSchemaDir(t *testing.T) {
	t.Run("missing directory yields empty validator", func(t *testing.T) {
		v, err := LoadSchemaDir(filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.NoError(t, v.Validate(models.TypeTask, map[string]any{}))
	})

	t.Run("loads schemas by entity type name", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Task.json"), []byte(taskSchema), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a schema"), 0o644))

		v, err := LoadSchemaDir(dir)
		require.NoError(t, err)

		err = v.Validate(models.TypeTask, map[string]any{})
		assert.True(t, errors.Is(err, apperrors.ErrValidationFailed), "got %v", err)
	})
}
