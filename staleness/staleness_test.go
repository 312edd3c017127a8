package staleness

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	badgerstore "github.com/poiesic/embedvector/storage/badger"
	"github.com/poiesic/embedvector/storage/redisqueue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func trackers(t *testing.T) map[string]Tracker {
	store := newStore(t)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, store.UpsertEmbeddings(context.Background(),
			&core.Embedding{ModelID: id, ModelType: "job", Vector: []float32{1, 0}}))
	}

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	rq, err := redisqueue.New(client, "")
	require.NoError(t, err)

	flag, err := New(VariantFlag, store, nil)
	require.NoError(t, err)
	table, err := New(VariantTable, nil, newStore(t))
	require.NoError(t, err)
	red, err := New(VariantRedis, nil, rq)
	require.NoError(t, err)
	return map[string]Tracker{"flag": flag, "table": table, "redis": red}
}

func TestTrackers(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			k3 := core.Key{ModelID: "3", ModelType: "job"}
			k1 := core.Key{ModelID: "1", ModelType: "job"}

			due, err := tr.DueForSync(ctx, "job")
			require.NoError(t, err)
			assert.Empty(t, due)

			require.NoError(t, tr.MarkStale(ctx, k3, k1))
			require.NoError(t, tr.MarkStale(ctx, k3))

			due, err = tr.DueForSync(ctx, "job")
			require.NoError(t, err)
			assert.Equal(t, []string{"1", "3"}, due)

			stale, err := tr.IsStale(ctx, k3)
			require.NoError(t, err)
			assert.True(t, stale)
			stale, err = tr.IsStale(ctx, core.Key{ModelID: "2", ModelType: "job"})
			require.NoError(t, err)
			assert.False(t, stale)

			due, err = tr.DueForSync(ctx, "customer")
			require.NoError(t, err)
			assert.Empty(t, due)
		})
	}
}

func TestQueueTrackerClear(t *testing.T) {
	ctx := context.Background()
	tr := NewQueueTracker(newStore(t))
	k := core.Key{ModelID: "5", ModelType: "job"}

	require.NoError(t, tr.MarkStale(ctx, k))
	require.NoError(t, tr.Clear(ctx, k))
	stale, err := tr.IsStale(ctx, k)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestFlagTrackerIgnoresUnembedded(t *testing.T) {
	ctx := context.Background()
	tr := NewFlagTracker(newStore(t))
	k := core.Key{ModelID: "42", ModelType: "job"}

	require.NoError(t, tr.MarkStale(ctx, k))
	stale, err := tr.IsStale(ctx, k)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestNewRejectsBadVariants(t *testing.T) {
	_, err := New("carrier-pigeon", nil, nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = New(VariantFlag, nil, nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = New(VariantRedis, nil, nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestWatcher(t *testing.T) {
	ctx := context.Background()
	tr := NewQueueTracker(newStore(t))
	w := NewWatcher(tr, map[string][]string{"job": {"title", "salary"}}, nil)

	job := &catalog.Record{Key: 7, Type: "job"}
	changed, err := w.Observe(ctx, job,
		map[string]any{"title": "Cook", "salary": 10, "notes": "a"},
		map[string]any{"title": "Cook", "salary": 10, "notes": "b"})
	require.NoError(t, err)
	assert.False(t, changed, "unwatched field")

	changed, err = w.Observe(ctx, job,
		map[string]any{"title": "Cook", "salary": 10},
		map[string]any{"title": "Chef", "salary": 10})
	require.NoError(t, err)
	assert.True(t, changed)

	due, err := tr.DueForSync(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, due)

	customer := &catalog.Record{Key: 1, Type: "customer"}
	changed, err = w.Observe(ctx, customer, map[string]any{"name": "a"}, map[string]any{"name": "b"})
	require.NoError(t, err)
	assert.False(t, changed, "types without watched fields never trigger")
}
