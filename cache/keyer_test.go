package cache

import (
	"strings"
	"testing"
)

func TestQueryID_DeterministicForMaps(t *testing.T) {
	a := map[string]any{"state": "open", "project": "acme", "labels": []any{"bug", "p1"}}
	b := map[string]any{"labels": []any{"bug", "p1"}, "project": "acme", "state": "open"}

	idA, err := QueryID("list_issues", a)
	if err != nil {
		t.Fatalf("QueryID() error = %v", err)
	}
	idB, err := QueryID("list_issues", b)
	if err != nil {
		t.Fatalf("QueryID() error = %v", err)
	}
	if idA != idB {
		t.Errorf("ids differ for equal params: %s vs %s", idA, idB)
	}
}

func TestQueryID_Format(t *testing.T) {
	id, err := QueryID("list_issues", map[string]string{"state": "open"})
	if err != nil {
		t.Fatalf("QueryID() error = %v", err)
	}
	parts := strings.Split(id, ":")
	if len(parts) != 2 || parts[0] != "list_issues" || len(parts[1]) != 16 {
		t.Errorf("QueryID = %q, want list_issues:<16 hex>", id)
	}
}

func TestQueryID_Distinguishes(t *testing.T) {
	open, _ := QueryID("list_issues", map[string]any{"state": "open"})
	closed, _ := QueryID("list_issues", map[string]any{"state": "closed"})
	other, _ := QueryID("list_prs", map[string]any{"state": "open"})
	reordered, _ := QueryID("list_issues", []any{"b", "a"})
	ordered, _ := QueryID("list_issues", []any{"a", "b"})

	if open == closed {
		t.Error("different params produced the same id")
	}
	if open == other {
		t.Error("different operations produced the same id")
	}
	if reordered == ordered {
		t.Error("array order must be significant")
	}
}

func TestQueryID_InvalidOperation(t *testing.T) {
	if _, err := QueryID("", nil); err == nil {
		t.Error("QueryID with empty operation should fail")
	}
	if _, err := QueryID("op", map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("QueryID with unencodable params should fail")
	}
}

func TestQueryID_UsableAsCacheKey(t *testing.T) {
	id, err := QueryID("list_issues", map[string]any{"project": "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if err := (Key{Type: TypeQuery, ID: id}).Validate(); err != nil {
		t.Errorf("query id is not a valid cache key: %v", err)
	}
}
