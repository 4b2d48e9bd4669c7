// Package sqlitelog is an eventstore.Log on SQLite.
package sqlitelog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/eventstore/internal/sqlq"
)

//go:embed schema.sql
var schemaSQL string

// Log stores events in a single SQLite table.
// The connection pool is limited to one connection: SQLite allows a single
// writer, and WAL mode keeps reads from blocking on it.
type Log struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitelog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitelog: connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitelog: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitelog: apply schema: %w", err)
	}
	return &Log{db: db}, nil
}

// DB returns the underlying database handle.
func (l *Log) DB() *sql.DB { return l.db }

const insertSQL = `INSERT INTO events (` + sqlq.Columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (l *Log) Append(ctx context.Context, e eventstore.Event) error {
	row, err := sqlq.FromEvent(e)
	if err != nil {
		return fmt.Errorf("sqlitelog: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, insertSQL, row.Args()...); err != nil {
		return fmt.Errorf("sqlitelog: append %d: %w", e.Seq, err)
	}
	return nil
}

func (l *Log) Query(ctx context.Context, q eventstore.Query) ([]eventstore.Event, error) {
	stmt, args := sqlq.Select(sqlq.SQLite, "events", q)
	return l.query(ctx, stmt, args...)
}

func (l *Log) Tail(ctx context.Context, n int) ([]eventstore.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	stmt := `SELECT ` + sqlq.Columns + ` FROM (
		SELECT * FROM events ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	return l.query(ctx, stmt, n)
}

func (l *Log) query(ctx context.Context, stmt string, args ...any) ([]eventstore.Event, error) {
	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitelog: query: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		e, err := sqlq.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitelog: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitelog: rows: %w", err)
	}
	return out, nil
}

func (l *Log) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlitelog: last seq: %w", err)
	}
	return uint64(seq.Int64), nil
}

func (l *Log) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE ts_unix_nano < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlitelog: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitelog: prune: %w", err)
	}
	return int(n), nil
}

func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitelog: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

var _ eventstore.Log = (*Log)(nil)
