package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
)

// PayloadValidator optionally validates entity payloads against per-type
// JSON Schemas. The storage layer never enforces a schema; this is the
// opt-in typed wrapper at the API boundary. Entity types without a
// registered schema are accepted as-is.
type PayloadValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewPayloadValidator compiles the given schema documents, keyed by entity
// type name.
func NewPayloadValidator(schemaDocs map[string]json.RawMessage) (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: make(map[string]*jsonschema.Schema, len(schemaDocs))}

	for entityType, raw := range schemaDocs {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema for %s: %w", entityType, err)
		}

		c := jsonschema.NewCompiler()
		name := entityType + ".json"
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema for %s: %w", entityType, err)
		}
		schema, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", entityType, err)
		}
		v.schemas[entityType] = schema
	}

	return v, nil
}

// LoadSchemaDir reads per-entity schema files (<EntityType>.json) from a
// directory. A missing directory yields an empty validator.
func LoadSchemaDir(dir string) (*PayloadValidator, error) {
	docs := make(map[string]json.RawMessage)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPayloadValidator(nil)
		}
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", entry.Name(), err)
		}
		docs[strings.TrimSuffix(entry.Name(), ".json")] = raw
	}

	return NewPayloadValidator(docs)
}

// Validate checks a payload against the entity type's schema, if one is
// registered. Round-trips through jsonschema's decoder so numbers validate
// with the library's expected representation.
func (v *PayloadValidator) Validate(entityType string, payload map[string]any) error {
	schema, ok := v.schemas[entityType]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: unencodable payload", apperrors.ErrValidationFailed)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidationFailed, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidationFailed, err)
	}
	return nil
}
