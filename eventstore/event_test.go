package eventstore

import (
	"errors"
	"testing"
)

func TestEvent_Validate(t *testing.T) {
	valid := Event{Type: EventCreated, ResourceType: "issue", ResourceID: "1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr error
	}{
		{"missing type", func(e *Event) { e.Type = "" }, ErrInvalidEvent},
		{"unknown type", func(e *Event) { e.Type = "exploded" }, ErrUnknownEventType},
		{"missing resource type", func(e *Event) { e.ResourceType = " " }, ErrInvalidEvent},
		{"missing resource id", func(e *Event) { e.ResourceID = "" }, ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			if err := e.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		in   string
		want EventType
	}{
		{"created", EventCreated},
		{"status_changed", EventStatusChanged},
		{"statusChanged", EventStatusChanged},
		{"fieldChanged", EventFieldChanged},
		{"relationshipDeleted", EventRelationshipDeleted},
	}
	for _, tt := range tests {
		got, err := ParseEventType(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseEventType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseEventType("renamed"); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("ParseEventType(renamed) error = %v", err)
	}
}

func TestEvent_CloneDoesNotShareMaps(t *testing.T) {
	e := Event{Payload: map[string]any{"title": "a"}, Metadata: map[string]any{"actor": "x"}}
	c := e.Clone()
	c.Payload["title"] = "b"
	c.Metadata["actor"] = "y"
	if e.Payload["title"] != "a" || e.Metadata["actor"] != "x" {
		t.Error("Clone shares maps with the original")
	}
}
