// Package badgerlog is an eventstore.Log on BadgerDB.
//
// Events are stored under "event:<seq>" with the sequence zero-padded to
// 20 digits, so key order is append order. Each value is the event's JSON
// prefixed with a big-endian CRC32 of that JSON. A secondary key
// "ts:<unixnano>:<seq>" orders events by time for retention pruning.
package badgerlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
)

// ErrCorrupted is returned when a stored entry fails its checksum.
var ErrCorrupted = errors.New("badgerlog: entry corrupted")

var (
	eventPrefix = []byte("event:")
	tsPrefix    = []byte("ts:")
)

// Config configures a Log.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps the database in memory only.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every append.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	// Default: 0.5
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	Logger observe.Logger `yaml:"-"`
}

// DefaultConfig returns durable defaults for a database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Log is a BadgerDB-backed eventstore.Log.
type Log struct {
	db     *badger.DB
	cfg    Config
	logger observe.Logger

	stop     chan struct{}
	done     chan struct{}
	closeErr error
	once     sync.Once
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Log, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerlog: path is required for a persistent log")
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	logger := cfg.Logger.With(observe.Component("badgerlog"))

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerlog: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerlog: open: %w", err)
	}

	l := &Log{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go l.runGC()
	} else {
		close(l.done)
	}
	return l, nil
}

// DB returns the underlying database.
func (l *Log) DB() *badger.DB { return l.db }

func eventKey(seq uint64) []byte {
	return fmt.Appendf(nil, "event:%020d", seq)
}

func tsKey(ts time.Time, seq uint64) []byte {
	return fmt.Appendf(nil, "ts:%020d:%020d", max(ts.UnixNano(), 0), seq)
}

func parseSeq(key []byte) (uint64, error) {
	return strconv.ParseUint(string(key[len(eventPrefix):]), 10, 64)
}

func encode(e eventstore.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("badgerlog: encode event %d: %w", e.Seq, err)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(body))
	copy(out[4:], body)
	return out, nil
}

func decode(data []byte) (eventstore.Event, error) {
	var e eventstore.Event
	if len(data) < 5 {
		return e, fmt.Errorf("%w: entry too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	if computed := crc32.ChecksumIEEE(data[4:]); stored != computed {
		return e, fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	if err := json.Unmarshal(data[4:], &e); err != nil {
		return e, fmt.Errorf("badgerlog: decode: %w", err)
	}
	return e, nil
}

// Append writes e and its time index entry in one transaction.
func (l *Log) Append(ctx context.Context, e eventstore.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(e)
	if err != nil {
		return err
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(e.Seq), data); err != nil {
			return err
		}
		return txn.Set(tsKey(e.Timestamp, e.Seq), nil)
	})
	if err != nil {
		return fmt.Errorf("badgerlog: append %d: %w", e.Seq, err)
	}
	return nil
}

// Query scans events from q.AfterSeq forward.
func (l *Log) Query(ctx context.Context, q eventstore.Query) ([]eventstore.Event, error) {
	var (
		out     []eventstore.Event
		skipped int
	)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(eventKey(q.AfterSeq + 1)); it.ValidForPrefix(eventPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e eventstore.Event
			err := it.Item().Value(func(val []byte) error {
				var derr error
				e, derr = decode(val)
				return derr
			})
			if err != nil {
				return err
			}
			if !q.Match(e) {
				continue
			}
			if skipped < q.Offset {
				skipped++
				continue
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerlog: query: %w", err)
	}
	return out, nil
}

// Tail returns the n most recent events.
func (l *Log) Tail(ctx context.Context, n int) ([]eventstore.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]eventstore.Event, 0, n)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(lastEventKey()); it.ValidForPrefix(eventPrefix) && len(out) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				e, err := decode(val)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerlog: tail: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func lastEventKey() []byte {
	return append(bytes.Clone(eventPrefix), 0xFF)
}

// LastSeq returns the highest stored sequence number.
func (l *Log) LastSeq(context.Context) (uint64, error) {
	var seq uint64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(lastEventKey())
		if !it.ValidForPrefix(eventPrefix) {
			return nil
		}
		var err error
		seq, err = parseSeq(it.Item().Key())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("badgerlog: last seq: %w", err)
	}
	return seq, nil
}

// PruneBefore deletes events older than cutoff using the time index.
func (l *Log) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := tsKey(cutoff, 0)
	var doomed [][]byte

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(tsPrefix); it.ValidForPrefix(tsPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			if bytes.Compare(key, limit) >= 0 {
				break
			}
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgerlog: scan for prune: %w", err)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		seq, err := strconv.ParseUint(string(key[len(key)-20:]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("badgerlog: bad index key %q: %w", key, err)
		}
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
		if err := wb.Delete(eventKey(seq)); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("badgerlog: prune: %w", err)
	}
	return len(doomed), nil
}

// Count returns the number of stored events.
func (l *Log) Count(context.Context) (int, error) {
	n := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(eventPrefix); it.ValidForPrefix(eventPrefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgerlog: count: %w", err)
	}
	return n, nil
}

// Close stops value-log GC and closes the database.
func (l *Log) Close() error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.closeErr = l.db.Close()
	})
	return l.closeErr
}

func (l *Log) runGC() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			err := l.db.RunValueLogGC(l.cfg.GCDiscardRatio)
			switch {
			case err == nil:
				l.logger.Debug(context.Background(), "value log GC completed")
			case !errors.Is(err, badger.ErrNoRewrite):
				l.logger.Warn(context.Background(), "value log GC failed", observe.Err(err))
			}
		}
	}
}

// badgerLogger routes badger's internal logging to observe.Logger.
// Info and debug chatter is demoted to debug.
type badgerLogger struct {
	logger observe.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}

var _ eventstore.Log = (*Log)(nil)
