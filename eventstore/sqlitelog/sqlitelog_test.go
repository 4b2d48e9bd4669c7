package sqlitelog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/resaccess/eventstore"
)

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func fill(t *testing.T, l *Log, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		e := eventstore.Event{
			Seq:          uint64(i),
			ID:           fmt.Sprintf("evt-%d", i),
			Type:         eventstore.EventCreated,
			ResourceType: "issue",
			ResourceID:   fmt.Sprint(i % 2),
			Source:       "sync",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Metadata:     map[string]any{"actor": "bot"},
		}
		require.NoError(t, l.Append(ctx, e))
	}
}

func seqs(events []eventstore.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}

func TestLog_QueryAndTail(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()
	fill(t, l, 8)

	got, err := l.Query(ctx, eventstore.Query{ResourceID: "1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 5}, seqs(got))
	assert.Equal(t, "bot", got[0].Metadata["actor"])
	assert.True(t, got[0].Timestamp.Equal(base.Add(3*time.Minute)))

	got, err = l.Query(ctx, eventstore.Query{Until: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seqs(got))

	got, err = l.Query(ctx, eventstore.Query{Offset: 6})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 8}, seqs(got))

	tail, err := l.Tail(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{6, 7, 8}, seqs(tail))
}

func TestLog_DuplicateSeqRejected(t *testing.T) {
	l, _ := openTemp(t)
	fill(t, l, 1)
	err := l.Append(context.Background(), eventstore.Event{Seq: 1, ID: "other", Type: eventstore.EventCreated, ResourceType: "x", ResourceID: "y"})
	assert.Error(t, err)
}

func TestLog_PruneAndCount(t *testing.T) {
	l, _ := openTemp(t)
	ctx := context.Background()
	fill(t, l, 6)

	n, err := l.PruneBefore(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestLog_ReopenRecoversLastSeq(t *testing.T) {
	l, path := openTemp(t)
	ctx := context.Background()

	last, err := l.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	fill(t, l, 5)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	last, err = l.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}
