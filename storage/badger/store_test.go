package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func keyOf(id, typ string) core.Key {
	return core.Key{ModelID: id, ModelType: typ}
}

func emb(id, typ string, v ...float32) *core.Embedding {
	return &core.Embedding{ModelID: id, ModelType: typ, Vector: v}
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetEmbedding(ctx, keyOf("1", "job"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	in := emb("1", "job", 1, 0)
	require.NoError(t, s.UpsertEmbeddings(ctx, in))
	assert.True(t, in.CreatedAt.IsZero(), "caller's embedding is not modified")
	assert.True(t, in.UpdatedAt.IsZero())
	first, err := s.GetEmbedding(ctx, keyOf("1", "job"))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, first.Vector)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 0, 1)))
	second, err := s.GetEmbedding(ctx, keyOf("1", "job"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, second.Vector)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	n, err := s.Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.UpsertEmbeddings(ctx, emb("2", "job"))
	assert.ErrorIs(t, err, core.ErrInvalidEmbedding)
}

func TestSyncRequired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 1), emb("2", "job", 1), emb("1", "customer", 1)))

	n, err := s.MarkSyncRequired(ctx, keyOf("2", "job"), keyOf("1", "job"), keyOf("9", "job"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := s.SyncRequiredIDs(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = s.SyncRequiredIDs(ctx, "customer")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// re-embedding clears the flag
	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 0.5)))
	ids, err = s.SyncRequiredIDs(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}

func TestNearest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertEmbeddings(ctx,
		emb("b", "job", 0.9, 0.1),
		emb("a", "job", 1, 0),
		emb("c", "job", 0, 1),
		emb("d", "job", 2, 0),
		emb("a", "customer", 1, 0),
	))

	got, err := s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "d", "b"}, []string{got[0].ModelID, got[1].ModelID, got[2].ModelID})
	assert.InDelta(t, 100, got[0].MatchPercent, 1e-9)

	got, err = s.Nearest(ctx, storage.NearestQuery{
		ModelType: "job", Vector: []float32{1, 0}, Limit: 5,
		IDs: []string{"a", "c", "d"}, Exclude: []string{"a"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ModelID)
	assert.Equal(t, "c", got[1].ModelID)
	assert.InDelta(t, 50, got[1].MatchPercent, 1e-9)

	got, err = s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0}, Limit: 5, IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{2, 0}, Metric: core.MetricL2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ModelID)

	_, err = s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0, 0}, Limit: 1})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestLargeUpsertSplitsTransactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = float32(i)
	}
	var batch []*core.Embedding
	for i := 0; i < 2000; i++ {
		batch = append(batch, emb(fmt.Sprintf("%05d", i), "job", vec...))
	}
	require.NoError(t, s.UpsertEmbeddings(ctx, batch...))

	n, err := s.Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 2000, n)
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i, st := range []core.BatchStatus{core.BatchStatusInProgress, core.BatchStatusCompleted, core.BatchStatusValidating} {
		require.NoError(t, s.CreateBatch(ctx, &core.Batch{
			BatchID:         fmt.Sprintf("batch_%d", i),
			EmbeddableModel: "job",
			Status:          st,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
	err := s.CreateBatch(ctx, &core.Batch{BatchID: "batch_0", EmbeddableModel: "job", Status: core.BatchStatusValidating})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	open, err := s.ListBatches(ctx, core.OpenStatuses...)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "batch_0", open[0].BatchID)
	assert.Equal(t, "batch_2", open[1].BatchID)

	b, err := s.GetBatch(ctx, "batch_0")
	require.NoError(t, err)
	b.Status = core.BatchStatusFailed
	b.ErrorMessage = "expired"
	require.NoError(t, s.UpdateBatch(ctx, b))

	b.Status = core.BatchStatusCompleted
	err = s.UpdateBatch(ctx, b)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	stored, err := s.GetBatch(ctx, "batch_0")
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, stored.Status)
	assert.Equal(t, "expired", stored.ErrorMessage)

	_, err = s.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = s.UpdateBatch(ctx, &core.Batch{BatchID: "missing", EmbeddableModel: "job", Status: core.BatchStatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := s.ListBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSyncQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Enqueue(ctx, keyOf("2", "job"), keyOf("1", "job"), keyOf("1", "job"), keyOf("1", "customer")))
	members, err := s.Members(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, members)

	ok, err := s.Contains(ctx, keyOf("1", "customer"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Dequeue(ctx, keyOf("1", "job"), keyOf("7", "job")))
	members, err = s.Members(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, members)

	ok, err = s.Contains(ctx, keyOf("1", "job"))
	require.NoError(t, err)
	assert.False(t, ok)
}
