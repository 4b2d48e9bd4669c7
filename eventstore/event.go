package eventstore

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// EventType is the kind of lifecycle change an event records.
type EventType string

const (
	EventCreated             EventType = "created"
	EventUpdated             EventType = "updated"
	EventDeleted             EventType = "deleted"
	EventStatusChanged       EventType = "status_changed"
	EventFieldChanged        EventType = "field_changed"
	EventArchived            EventType = "archived"
	EventRestored            EventType = "restored"
	EventRelationshipCreated EventType = "relationship_created"
	EventRelationshipDeleted EventType = "relationship_deleted"
)

var knownEventTypes = map[EventType]bool{
	EventCreated:             true,
	EventUpdated:             true,
	EventDeleted:             true,
	EventStatusChanged:       true,
	EventFieldChanged:        true,
	EventArchived:            true,
	EventRestored:            true,
	EventRelationshipCreated: true,
	EventRelationshipDeleted: true,
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool { return knownEventTypes[t] }

// ParseEventType accepts the snake_case form and the camelCase form used
// by some producers ("statusChanged").
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	t := EventType(s)
	if !t.Valid() {
		t = EventType(camelToSnake(s))
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Event is one recorded change to a remote resource. Events are immutable
// once appended; Seq gives their total order.
type Event struct {
	Seq          uint64         `json:"seq"`
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Source       string         `json:"source,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Payload      map[string]any `json:"payload,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields a caller must supply.
func (e Event) Validate() error {
	switch {
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	case !e.Type.Valid():
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	case strings.TrimSpace(e.ResourceType) == "":
		return fmt.Errorf("%w: missing resource type", ErrInvalidEvent)
	case strings.TrimSpace(e.ResourceID) == "":
		return fmt.Errorf("%w: missing resource id", ErrInvalidEvent)
	}
	return nil
}

// Clone returns a copy of e whose maps are not shared with e.
func (e Event) Clone() Event {
	e.Payload = maps.Clone(e.Payload)
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
