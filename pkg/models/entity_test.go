package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEntityFormatted(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	e := &Entity{
		ID: id,
		Data: map[string]any{
			"title": "weld the frame",
			"id":    "payload-attempt", // must lose to row metadata
		},
		CreatedDate: created,
		UpdatedDate: updated,
		CreatedBy:   "sam@example.com",
	}

	got := e.Formatted()

	if got["id"] != id.String() {
		t.Errorf("id = %v, want %v", got["id"], id)
	}
	if got["title"] != "weld the frame" {
		t.Errorf("title = %v", got["title"])
	}
	if got["created_date"] != "2026-03-01T10:00:00Z" {
		t.Errorf("created_date = %v", got["created_date"])
	}
	if got["updated_date"] != "2026-03-01T11:00:00Z" {
		t.Errorf("updated_date = %v", got["updated_date"])
	}
	if got["created_by"] != "sam@example.com" {
		t.Errorf("created_by = %v", got["created_by"])
	}
}
