// Package sqlq builds the SQL filter shared by the relational event logs.
package sqlq

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/resaccess/eventstore"
)

// Dialect selects placeholder and paging syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Placeholder renders the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Select returns a statement selecting the event columns from table for q,
// ordered by seq, with its arguments. Timestamps compare as unix nanos.
func Select(d Dialect, table string, q eventstore.Query) (string, []any) {
	ph := d.Placeholder
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}

	if q.AfterSeq > 0 {
		add("seq > %s", int64(q.AfterSeq))
	}
	if q.ResourceType != "" {
		add("resource_type = %s", q.ResourceType)
	}
	if q.ResourceID != "" {
		add("resource_id = %s", q.ResourceID)
	}
	if q.Type != "" {
		add("event_type = %s", string(q.Type))
	}
	if q.Source != "" {
		add("source = %s", q.Source)
	}
	if !q.Since.IsZero() {
		add("ts_unix_nano >= %s", q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		add("ts_unix_nano <= %s", q.Until.UnixNano())
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(Columns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT %s", ph(len(args)))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && d == SQLite {
			b.WriteString(" LIMIT -1")
		}
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET %s", ph(len(args)))
	}
	return b.String(), args
}

// Columns lists the event columns in scan order.
const Columns = "seq, id, event_type, resource_type, resource_id, source, ts_unix_nano, payload, metadata"

// Row is the column form of an event.
type Row struct {
	Seq          int64
	ID           string
	EventType    string
	ResourceType string
	ResourceID   string
	Source       string
	TsUnixNano   int64
	Payload      []byte
	Metadata     []byte
}

// Scanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Scan reads one event in Columns order.
func Scan(s Scanner) (eventstore.Event, error) {
	var r Row
	if err := s.Scan(&r.Seq, &r.ID, &r.EventType, &r.ResourceType, &r.ResourceID,
		&r.Source, &r.TsUnixNano, &r.Payload, &r.Metadata); err != nil {
		return eventstore.Event{}, err
	}
	return r.Event()
}

// FromEvent converts e to its column form.
func FromEvent(e eventstore.Event) (Row, error) {
	payload, err := marshalMap(e.Payload)
	if err != nil {
		return Row{}, fmt.Errorf("encode payload: %w", err)
	}
	metadata, err := marshalMap(e.Metadata)
	if err != nil {
		return Row{}, fmt.Errorf("encode metadata: %w", err)
	}
	return Row{
		Seq:          int64(e.Seq),
		ID:           e.ID,
		EventType:    string(e.Type),
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Source:       e.Source,
		TsUnixNano:   e.Timestamp.UnixNano(),
		Payload:      payload,
		Metadata:     metadata,
	}, nil
}

// Args returns r's values in Columns order.
func (r Row) Args() []any {
	return []any{r.Seq, r.ID, r.EventType, r.ResourceType, r.ResourceID,
		r.Source, r.TsUnixNano, r.Payload, r.Metadata}
}

// Event converts r back to an event.
func (r Row) Event() (eventstore.Event, error) {
	e := eventstore.Event{
		Seq:          uint64(r.Seq),
		ID:           r.ID,
		Type:         eventstore.EventType(r.EventType),
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Source:       r.Source,
		Timestamp:    unixNanoUTC(r.TsUnixNano),
	}
	if err := unmarshalMap(r.Payload, &e.Payload); err != nil {
		return e, fmt.Errorf("decode payload of %d: %w", r.Seq, err)
	}
	if err := unmarshalMap(r.Metadata, &e.Metadata); err != nil {
		return e, fmt.Errorf("decode metadata of %d: %w", r.Seq, err)
	}
	return e, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(data []byte, dst *map[string]any) error {
	if len(data) == 0 || string(data) == "{}" || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
