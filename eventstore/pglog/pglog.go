// Package pglog is an eventstore.Log on PostgreSQL, for deployments where
// several processes share one event history.
package pglog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/eventstore/internal/sqlq"
)

//go:embed schema.sql
var schemaSQL string

const table = "resaccess_events"

// Config configures the connection pool.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns pool settings for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Log stores events in the resaccess_events table.
type Log struct {
	db *sql.DB
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, cfg Config) (*Log, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pglog: dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pglog: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pglog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("pglog: apply schema: %w", err)
	}
	return &Log{db: db}, nil
}

// DB returns the underlying pool.
func (l *Log) DB() *sql.DB { return l.db }

const insertSQL = `INSERT INTO ` + table + ` (` + sqlq.Columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (l *Log) Append(ctx context.Context, e eventstore.Event) error {
	row, err := sqlq.FromEvent(e)
	if err != nil {
		return fmt.Errorf("pglog: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, insertSQL, row.Args()...); err != nil {
		return fmt.Errorf("pglog: append %d: %w", e.Seq, err)
	}
	return nil
}

func (l *Log) Query(ctx context.Context, q eventstore.Query) ([]eventstore.Event, error) {
	stmt, args := sqlq.Select(sqlq.Postgres, table, q)
	return l.query(ctx, stmt, args...)
}

func (l *Log) Tail(ctx context.Context, n int) ([]eventstore.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	stmt := `SELECT ` + sqlq.Columns + ` FROM (
		SELECT ` + sqlq.Columns + ` FROM ` + table + ` ORDER BY seq DESC LIMIT $1
	) t ORDER BY seq ASC`
	return l.query(ctx, stmt, n)
}

func (l *Log) query(ctx context.Context, stmt string, args ...any) ([]eventstore.Event, error) {
	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pglog: query: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		e, err := sqlq.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pglog: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pglog: rows: %w", err)
	}
	return out, nil
}

func (l *Log) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM `+table).Scan(&seq); err != nil {
		return 0, fmt.Errorf("pglog: last seq: %w", err)
	}
	return uint64(seq.Int64), nil
}

func (l *Log) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts_unix_nano < $1`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pglog: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pglog: prune: %w", err)
	}
	return int(n), nil
}

func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("pglog: count: %w", err)
	}
	return n, nil
}

// Truncate removes every event. Intended for tests and resets.
func (l *Log) Truncate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `TRUNCATE `+table); err != nil {
		return fmt.Errorf("pglog: truncate: %w", err)
	}
	return nil
}

// Close closes the pool.
func (l *Log) Close() error {
	return l.db.Close()
}

var _ eventstore.Log = (*Log)(nil)
