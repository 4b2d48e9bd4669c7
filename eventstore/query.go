package eventstore

import (
	"slices"
	"time"
)

// Query selects events. Zero-valued fields match everything. Since and
// Until are inclusive.
type Query struct {
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Type         EventType `json:"type,omitempty"`
	Source       string    `json:"source,omitempty"`
	Since        time.Time `json:"since,omitzero"`
	Until        time.Time `json:"until,omitzero"`

	// AfterSeq restricts results to events with Seq > AfterSeq.
	AfterSeq uint64 `json:"after_seq,omitempty"`

	// Limit caps the result; zero means no limit. Offset skips matches
	// before the limit is applied.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Match reports whether e satisfies every filter of q. Limit and Offset
// are not considered.
func (q Query) Match(e Event) bool {
	if q.ResourceType != "" && e.ResourceType != q.ResourceType {
		return false
	}
	if q.ResourceID != "" && e.ResourceID != q.ResourceID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Source != "" && e.Source != q.Source {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return e.Seq > q.AfterSeq
}

// Window returns q with Offset folded into Limit, for reading the
// candidate set from more than one source before paging.
func (q Query) Window() Query {
	if q.Limit > 0 {
		q.Limit += max(q.Offset, 0)
	}
	q.Offset = 0
	return q
}

// Page applies Offset and Limit to events already in Seq order.
func (q Query) Page(events []Event) []Event {
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			return nil
		}
		events = events[q.Offset:]
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events
}

// Filter returns the events matching q, in their input order, paged.
func (q Query) Filter(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return q.Page(out)
}

// mergeBySeq merges two Seq-ordered slices, dropping duplicates.
func mergeBySeq(a, b []Event) []Event {
	out := make([]Event, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Seq < b[j].Seq):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j].Seq < a[i].Seq:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func sortBySeq(events []Event) {
	slices.SortFunc(events, func(a, b Event) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}
