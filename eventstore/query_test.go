package eventstore

import (
	"testing"
	"time"
)

func TestQuery_Match(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e := Event{
		Seq:          5,
		Type:         EventUpdated,
		ResourceType: "issue",
		ResourceID:   "42",
		Source:       "api",
		Timestamp:    base,
	}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty", Query{}, true},
		{"resource type", Query{ResourceType: "issue"}, true},
		{"other resource type", Query{ResourceType: "project"}, false},
		{"resource id", Query{ResourceID: "42"}, true},
		{"other id", Query{ResourceID: "43"}, false},
		{"type", Query{Type: EventUpdated}, true},
		{"other type", Query{Type: EventDeleted}, false},
		{"source", Query{Source: "webhook"}, false},
		{"since inclusive", Query{Since: base}, true},
		{"since after", Query{Since: base.Add(time.Nanosecond)}, false},
		{"until inclusive", Query{Until: base}, true},
		{"until before", Query{Until: base.Add(-time.Nanosecond)}, false},
		{"after seq below", Query{AfterSeq: 4}, true},
		{"after seq equal", Query{AfterSeq: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Match(e); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_PageAndWindow(t *testing.T) {
	events := seqEvents(1, 10)

	q := Query{Offset: 3, Limit: 4}
	got := q.Page(events)
	if len(got) != 4 || got[0].Seq != 4 || got[3].Seq != 7 {
		t.Errorf("Page = %v", seqsOf(got))
	}
	if w := q.Window(); w.Limit != 7 || w.Offset != 0 {
		t.Errorf("Window = %+v, want Limit 7 Offset 0", w)
	}
	if got := (Query{Offset: 20}).Page(events); got != nil {
		t.Errorf("Page past end = %v, want nil", seqsOf(got))
	}
}

func TestMergeBySeq(t *testing.T) {
	a := []Event{{Seq: 1}, {Seq: 3}, {Seq: 5}}
	b := []Event{{Seq: 2}, {Seq: 3}, {Seq: 6}}

	got := seqsOf(mergeBySeq(a, b))
	want := []uint64{1, 2, 3, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("merge = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge = %v, want %v", got, want)
		}
	}
}

func seqEvents(from, to uint64) []Event {
	var out []Event
	for s := from; s <= to; s++ {
		out = append(out, Event{Seq: s})
	}
	return out
}

func seqsOf(events []Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}
