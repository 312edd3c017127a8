package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "embeddings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func emb(id, typ string, v ...float32) *core.Embedding {
	return &core.Embedding{ModelID: id, ModelType: typ, Vector: v}
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "job"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 1, 0, 0)))
	first, err := s.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "job"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, first.Vector)
	assert.False(t, first.SyncRequired)

	_, err = s.MarkSyncRequired(ctx, core.Key{ModelID: "1", ModelType: "job"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 0, 1, 0)))
	second, err := s.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "job"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, second.Vector)
	assert.False(t, second.SyncRequired, "upsert clears the stale flag")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	n, err := s.Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	batch := []*core.Embedding{emb("1", "job", 1, 2), emb("2", "job", 3, 4), emb("1", "customer", 5, 6)}
	require.NoError(t, s.UpsertEmbeddings(ctx, batch...))
	require.NoError(t, s.UpsertEmbeddings(ctx, batch...))

	jobs, err := s.Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 2, jobs)

	customers, err := s.Count(ctx, "customer")
	require.NoError(t, err)
	assert.Equal(t, 1, customers)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertEmbeddings(context.Background(), emb("1", "job"))
	assert.ErrorIs(t, err, core.ErrInvalidEmbedding)
}

func TestMarkSyncRequired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertEmbeddings(ctx, emb("1", "job", 1), emb("2", "job", 1), emb("3", "job", 1)))

	n, err := s.MarkSyncRequired(ctx,
		core.Key{ModelID: "3", ModelType: "job"},
		core.Key{ModelID: "1", ModelType: "job"},
		core.Key{ModelID: "9", ModelType: "job"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := s.SyncRequiredIDs(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)

	ids, err = s.SyncRequiredIDs(ctx, "customer")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNearest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertEmbeddings(ctx,
		emb("a", "job", 1, 0),
		emb("b", "job", 0.9, 0.1),
		emb("c", "job", 0, 1),
		emb("d", "job", 1, 0),
		emb("x", "customer", 1, 0),
	))

	t.Run("cosine ordering with id tie break", func(t *testing.T) {
		got, err := s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0}, Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].ModelID)
		assert.Equal(t, "d", got[1].ModelID)
		assert.Equal(t, "b", got[2].ModelID)
		assert.InDelta(t, 0, got[0].Distance, 1e-9)
		assert.InDelta(t, 100, got[0].MatchPercent, 1e-9)
	})

	t.Run("restriction and exclusion", func(t *testing.T) {
		got, err := s.Nearest(ctx, storage.NearestQuery{
			ModelType: "job", Vector: []float32{1, 0}, Limit: 10,
			IDs: []string{"a", "c", "d"}, Exclude: []string{"a"},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "d", got[0].ModelID)
		assert.Equal(t, "c", got[1].ModelID)
		assert.InDelta(t, 50, got[1].MatchPercent, 1e-9)
	})

	t.Run("empty restriction", func(t *testing.T) {
		got, err := s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0}, Limit: 10, IDs: []string{}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("l2", func(t *testing.T) {
		got, err := s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{0, 1}, Metric: core.MetricL2, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ModelID)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := s.Nearest(ctx, storage.NearestQuery{ModelType: "job", Vector: []float32{1, 0, 0}, Limit: 1})
		assert.Error(t, err)
	})
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.Count(context.Background(), "job")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
