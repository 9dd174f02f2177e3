package models

import (
	"errors"
	"testing"

	"github.com/crewdesk/crewdesk-engine/pkg/apperrors"
)

func TestTableName(t *testing.T) {
	tests := []struct {
		entityType string
		want       string
	}{
		{TypeProject, "projects"},
		{TypeTask, "tasks"},
		{TypeTaskComment, "task_comments"},
		{TypePart, "parts"},
		{TypeCustomer, "customers"},
		{TypeContact, "contacts"},
		{TypeQuote, "quotes"},
		{TypeTimeEntry, "time_entries"},
		{TypeAttachment, "attachments"},
		{TypeNotification, "notifications"},
		{TypeAppSetting, "app_settings"},
		{TypeAuditLog, "audit_logs"},
	}
	for _, tt := range tests {
		if got := TableName(tt.entityType); got != tt.want {
			t.Errorf("TableName(%q) = %q, want %q", tt.entityType, got, tt.want)
		}
	}
}

func TestRegistry_Table(t *testing.T) {
	r := NewRegistry()

	table, err := r.Table(TypeTaskComment)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if table != "task_comments" {
		t.Errorf("Table() = %q, want task_comments", table)
	}

	if _, err := r.Table("DROP TABLE tasks"); !errors.Is(err, apperrors.ErrInvalidEntityType) {
		t.Errorf("Table() with unknown type: error = %v, want ErrInvalidEntityType", err)
	}
	if r.Contains("User") {
		t.Error("Contains() accepted a type outside the whitelist")
	}
}

func TestRegistry_ScopeClasses(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		entityType string
		want       ScopeClass
	}{
		{TypeProject, ScopeProject},
		{TypeTask, ScopeChild},
		{TypePart, ScopeChild},
		{TypeQuote, ScopeChild},
		{TypeTimeEntry, ScopeChild},
		{TypeAttachment, ScopeChild},
		{TypeTaskComment, ScopeIndirect},
		{TypeCustomer, ScopeNone},
		{TypeContact, ScopeNone},
		{TypeNotification, ScopeNone},
		{TypeAppSetting, ScopeNone},
		{TypeAuditLog, ScopeNone},
	}
	for _, tt := range tests {
		if got := r.ScopeOf(tt.entityType); got != tt.want {
			t.Errorf("ScopeOf(%q) = %q, want %q", tt.entityType, got, tt.want)
		}
	}

	if got := r.ScopeOf("Unknown"); got != ScopeNone {
		t.Errorf("ScopeOf(unknown) = %q, want none", got)
	}
}

func TestRegistry_Relationships(t *testing.T) {
	r := NewRegistry()

	projectChildren := r.Children(TypeProject)
	if len(projectChildren) != 5 {
		t.Fatalf("Children(Project) = %d links, want 5", len(projectChildren))
	}
	for _, link := range projectChildren {
		if link.ForeignKey != ProjectForeignKey {
			t.Errorf("Children(Project) link %s has fk %q", link.ChildType, link.ForeignKey)
		}
	}

	taskChildren := r.Children(TypeTask)
	if len(taskChildren) != 1 || taskChildren[0].ChildType != TypeTaskComment || taskChildren[0].ForeignKey != "task_id" {
		t.Errorf("Children(Task) = %v", taskChildren)
	}

	if links := r.Children(TypeTaskComment); links != nil {
		t.Errorf("Children(TaskComment) = %v, want nil", links)
	}

	parent, ok := r.ParentLink(TypeTaskComment)
	if !ok || parent.ParentType != TypeTask || parent.ForeignKey != "task_id" {
		t.Errorf("ParentLink(TaskComment) = %v, %v", parent, ok)
	}
	if _, ok := r.ParentLink(TypeContact); ok {
		t.Error("ParentLink(Contact) should not resolve; contacts are not project scoped")
	}
}
