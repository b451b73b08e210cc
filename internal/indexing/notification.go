package indexing

import (
	"encoding/json"
	"fmt"
	"time"
)

// changeNotification is the wire shape of a change event, shared by the
// Postgres notification channel and the Kafka topic. Cursor accepts either
// epoch milliseconds or an RFC 3339 string.
type changeNotification struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Operation   string          `json:"operation"`
	Cursor      json.RawMessage `json:"cursor"`
	AvailableAt string          `json:"availableAt"`
	Metadata    map[string]any  `json:"metadata"`
	MaxAttempts int             `json:"maxAttempts"`
}

// ParseChangeNotification turns a raw payload into an Event. Payloads missing
// any of id, entityType, entityId, or operation are rejected; unparsable
// cursor or availability values are treated as absent rather than fatal,
// since the relational store remains the source of truth and a backfill can
// repair any drift.
func ParseChangeNotification(payload []byte) (Event, error) {
	var notification changeNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return Event{}, fmt.Errorf("decoding change notification: %w", err)
	}

	if notification.ID == "" || notification.EntityType == "" ||
		notification.EntityID == "" || notification.Operation == "" {
		return Event{}, fmt.Errorf("change notification missing required fields")
	}

	operation := Operation(notification.Operation)
	if !operation.Valid() {
		return Event{}, fmt.Errorf("unknown operation %q", notification.Operation)
	}

	event := Event{
		ID:          notification.ID,
		EntityType:  EntityType(notification.EntityType),
		EntityID:    notification.EntityID,
		Operation:   operation,
		Cursor:      parseCursor(notification.Cursor),
		Metadata:    notification.Metadata,
		MaxAttempts: notification.MaxAttempts,
	}
	if notification.AvailableAt != "" {
		if at, err := time.Parse(time.RFC3339, notification.AvailableAt); err == nil {
			event.AvailableAt = at
		}
	}
	return event, nil
}

func parseCursor(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}

	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		t := time.UnixMilli(millis).UTC()
		return &t
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return &t
	}
	return nil
}
