package indexing

import (
	"testing"
	"time"
)

func TestParseChangeNotification(t *testing.T) {
	payload := []byte(`{
		"id": "job-1",
		"entityType": "review",
		"entityId": "review-1",
		"operation": "UPSERT",
		"cursor": 1767225600000,
		"metadata": {"source": "trigger"}
	}`)

	event, err := ParseChangeNotification(payload)
	if err != nil {
		t.Fatalf("ParseChangeNotification: %v", err)
	}
	if event.ID != "job-1" || event.EntityType != EntityTypeReview ||
		event.EntityID != "review-1" || event.Operation != OperationUpsert {
		t.Errorf("event = %+v", event)
	}
	if event.Cursor == nil {
		t.Fatal("cursor not parsed")
	}
	want := time.UnixMilli(1767225600000).UTC()
	if !event.Cursor.Equal(want) {
		t.Errorf("cursor = %v, want %v", event.Cursor, want)
	}
	if event.Metadata["source"] != "trigger" {
		t.Errorf("metadata = %v", event.Metadata)
	}
}

func TestParseChangeNotificationCursorString(t *testing.T) {
	payload := []byte(`{
		"id": "job-1",
		"entityType": "review",
		"entityId": "review-1",
		"operation": "DELETE",
		"cursor": "2026-03-01T12:00:00Z"
	}`)

	event, err := ParseChangeNotification(payload)
	if err != nil {
		t.Fatalf("ParseChangeNotification: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if event.Cursor == nil || !event.Cursor.Equal(want) {
		t.Errorf("cursor = %v, want %v", event.Cursor, want)
	}
}

func TestParseChangeNotificationUnparsableCursorIsNil(t *testing.T) {
	payload := []byte(`{
		"id": "job-1",
		"entityType": "review",
		"entityId": "review-1",
		"operation": "UPSERT",
		"cursor": "not-a-time"
	}`)

	event, err := ParseChangeNotification(payload)
	if err != nil {
		t.Fatalf("ParseChangeNotification: %v", err)
	}
	if event.Cursor != nil {
		t.Errorf("cursor = %v, want nil for unparsable value", event.Cursor)
	}
}

func TestParseChangeNotificationRejects(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{"id":`},
		{"missing id", `{"entityType":"review","entityId":"r1","operation":"UPSERT"}`},
		{"missing entity id", `{"id":"j1","entityType":"review","operation":"UPSERT"}`},
		{"unknown operation", `{"id":"j1","entityType":"review","entityId":"r1","operation":"PATCH"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseChangeNotification([]byte(tc.payload)); err == nil {
				t.Errorf("no error for %s", tc.name)
			}
		})
	}
}
