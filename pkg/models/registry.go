package models

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
)

// Whitelisted entity type names. Every store operation validates its target
// against this set; anything else is rejected before touching SQL.
const (
	TypeProject      = "Project"
	TypeTask         = "Task"
	TypeTaskComment  = "TaskComment"
	TypePart         = "Part"
	TypeCustomer     = "Customer"
	TypeContact      = "Contact"
	TypeQuote        = "Quote"
	TypeTimeEntry    = "TimeEntry"
	TypeAttachment   = "Attachment"
	TypeNotification = "Notification"
	TypeAppSetting   = "AppSetting"
	TypeAuditLog     = "AuditLog"
)

// ProjectMembersField is the Project payload key holding member emails.
const ProjectMembersField = "team_members"

// ProjectForeignKey is the payload field linking direct children to a project.
const ProjectForeignKey = "project_id"

// Registry maps whitelisted entity types to their tables and ownership links.
// It is the single source of truth consulted by both the cascade engine and
// the access scoping layer, so the two cannot drift apart.
type Registry struct {
	tables   map[string]string
	children map[string][]ChildLink
	parents  map[string]ParentLink
	scopes   map[string]ScopeClass
}

// NewRegistry builds the registry for the fixed entity whitelist and the
// static parent→children ownership map. Relationships form a shallow tree:
// Project → Task → TaskComment is the deepest chain.
func NewRegistry() *Registry {
	types := []string{
		TypeProject, TypeTask, TypeTaskComment, TypePart, TypeCustomer,
		TypeContact, TypeQuote, TypeTimeEntry, TypeAttachment,
		TypeNotification, TypeAppSetting, TypeAuditLog,
	}

	children := map[string][]ChildLink{
		TypeProject: {
			{ChildType: TypeTask, ForeignKey: ProjectForeignKey},
			{ChildType: TypePart, ForeignKey: ProjectForeignKey},
			{ChildType: TypeQuote, ForeignKey: ProjectForeignKey},
			{ChildType: TypeTimeEntry, ForeignKey: ProjectForeignKey},
			{ChildType: TypeAttachment, ForeignKey: ProjectForeignKey},
		},
		TypeTask: {
			{ChildType: TypeTaskComment, ForeignKey: "task_id"},
		},
		TypeCustomer: {
			{ChildType: TypeContact, ForeignKey: "customer_id"},
		},
	}

	r := &Registry{
		tables:   make(map[string]string, len(types)),
		children: children,
		parents:  make(map[string]ParentLink),
		scopes:   make(map[string]ScopeClass, len(types)),
	}

	for _, t := range types {
		r.tables[t] = TableName(t)
		r.scopes[t] = ScopeNone
	}

	// Derive scope classes from the ownership map so cascade and access
	// scoping always agree on the shape of the project tree.
	r.scopes[TypeProject] = ScopeProject
	for _, link := range children[TypeProject] {
		r.scopes[link.ChildType] = ScopeChild
	}
	for parent, links := range children {
		if r.scopes[parent] != ScopeChild {
			continue
		}
		for _, link := range links {
			r.scopes[link.ChildType] = ScopeIndirect
			r.parents[link.ChildType] = ParentLink{ParentType: parent, ForeignKey: link.ForeignKey}
		}
	}

	return r
}

// Contains reports whether entityType is whitelisted.
func (r *Registry) Contains(entityType string) bool {
	_, ok := r.tables[entityType]
	return ok
}

// Table resolves an entity type to its table name, or ErrInvalidEntityType.
func (r *Registry) Table(entityType string) (string, error) {
	table, ok := r.tables[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidEntityType, entityType)
	}
	return table, nil
}

// Children returns the dependent links cascaded when a row of entityType is
// deleted. The slice is nil for leaf types.
func (r *Registry) Children(entityType string) []ChildLink {
	return r.children[entityType]
}

// ScopeOf classifies an entity type relative to the Project root.
func (r *Registry) ScopeOf(entityType string) ScopeClass {
	scope, ok := r.scopes[entityType]
	if !ok {
		return ScopeNone
	}
	return scope
}

// ParentLink returns the one-hop parent link for an indirect entity type.
func (r *Registry) ParentLink(entityType string) (ParentLink, bool) {
	link, ok := r.parents[entityType]
	return link, ok
}

// Types returns the whitelisted entity type names sorted alphabetically.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.tables))
	for t := range r.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TableName converts a CamelCase entity type to its pluralized snake_case
// table name, e.g. "TaskComment" → "task_comments".
func TableName(entityType string) string {
	var b strings.Builder
	for i, ch := range entityType {
		if unicode.IsUpper(ch) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(ch))
		} else {
			b.WriteRune(ch)
		}
	}
	return inflection.Plural(b.String())
}
