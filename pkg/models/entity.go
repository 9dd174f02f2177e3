// Package models defines the schema-less entity row shape, the whitelisted
// entity registry, and the static ownership map shared by cascade deletion
// and access scoping.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is one row of a whitelisted entity table. Business fields live in
// Data as an arbitrary JSON object; the store never enforces a schema on it.
type Entity struct {
	ID          uuid.UUID
	Data        map[string]any
	CreatedDate time.Time
	UpdatedDate time.Time
	CreatedBy   string
}

// Metadata keys reserved in formatted rows. Payload keys with these names are
// shadowed by the row metadata.
const (
	KeyID          = "id"
	KeyCreatedDate = "created_date"
	KeyUpdatedDate = "updated_date"
	KeyCreatedBy   = "created_by"
)

// Formatted flattens the payload keys to the top level alongside the row
// metadata. Callers never see the raw data wrapper.
func (e *Entity) Formatted() map[string]any {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out[KeyID] = e.ID.String()
	out[KeyCreatedDate] = e.CreatedDate.UTC().Format(time.RFC3339Nano)
	out[KeyUpdatedDate] = e.UpdatedDate.UTC().Format(time.RFC3339Nano)
	out[KeyCreatedBy] = e.CreatedBy
	return out
}

// CascadeCount records how many rows of one entity type were removed as a
// side effect of deleting a parent row.
type CascadeCount struct {
	EntityType string `json:"entityType"`
	Count      int64  `json:"count"`
}

// ScopeClass positions an entity type relative to the Project aggregate root.
type ScopeClass string

const (
	// ScopeProject marks the project root entity type itself.
	ScopeProject ScopeClass = "project"
	// ScopeChild marks entity types carrying a direct project_id payload field.
	ScopeChild ScopeClass = "child"
	// ScopeIndirect marks entity types linked to a project through one parent hop.
	ScopeIndirect ScopeClass = "indirect"
	// ScopeNone marks entity types with no project affiliation.
	ScopeNone ScopeClass = "none"
)

// ScopeFilter restricts reads to rows belonging to a user's accessible
// projects. A nil ScopeFilter means unrestricted.
type ScopeFilter struct {
	EntityType string
	Scope      ScopeClass
	ProjectIDs []uuid.UUID
}

// ChildLink names a dependent entity type and the payload field on the child
// that holds the parent's id.
type ChildLink struct {
	ChildType  string
	ForeignKey string
}

// ParentLink names the parent entity type and the payload field on the child
// pointing at it. Used to resolve indirect project affiliation.
type ParentLink struct {
	ParentType string
	ForeignKey string
}
