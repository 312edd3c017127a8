package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/embedvector/ai/mock"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(src *catalog.MemorySource, keys ...int64) []catalog.Item {
	out := make([]catalog.Item, 0, len(keys))
	for _, k := range keys {
		r, ok := src.Get(k)
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// constant answers every text with the same vector.
func constant(v ...float32) func(context.Context, []string) ([][]float32, error) {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = v
		}
		return out, nil
	}
}

func TestBatchProcessor_Process(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := &mock.MockEmbedder{Dimensions: 8}
	processor := NewBatchProcessor(store, embedder, 3, time.Millisecond)

	require.NoError(t, processor.Process(ctx, items(newSource(3), 1, 2, 3)))

	assert.Equal(t, []string{"note 1", "note 2", "note 3"}, embedder.Texts())
	count, err := store.Count(ctx, "note")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	stored, err := store.GetEmbedding(ctx, core.Key{ModelID: "2", ModelType: "note"})
	require.NoError(t, err)
	assert.Equal(t, mock.GenerateVector("note 2", 8), stored.Vector)
	assert.False(t, stored.SyncRequired)
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	processor := NewBatchProcessor(setupTestStore(t), embedder, 3, time.Millisecond)

	require.NoError(t, processor.Process(context.Background(), nil))
	assert.Equal(t, 0, embedder.CallCount())
}

func TestBatchProcessor_Retry(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	attempts := 0
	embedder := &mock.MockEmbedder{EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("temporary error")
		}
		return constant(1, 0, 0)(ctx, texts)
	}}
	processor := NewBatchProcessor(store, embedder, 3, time.Millisecond)

	require.NoError(t, processor.Process(ctx, items(newSource(1), 1)))
	assert.Equal(t, 2, attempts)
	_, err := store.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "note"})
	require.NoError(t, err)
}

func TestBatchProcessor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		embed   func(context.Context, []string) ([][]float32, error)
		wantErr error
		calls   int
	}{
		{
			name: "provider error after retries",
			embed: func(context.Context, []string) ([][]float32, error) {
				return nil, core.ProviderRequestFailed("embed", errors.New("boom"))
			},
			wantErr: core.ErrProviderRequestFailed,
			calls:   3,
		},
		{
			name: "count mismatch is not retried",
			embed: func(context.Context, []string) ([][]float32, error) {
				return [][]float32{{1, 0}}, nil
			},
			wantErr: ErrEmbeddingCountMismatch,
			calls:   1,
		},
		{
			name: "empty vector",
			embed: func(_ context.Context, texts []string) ([][]float32, error) {
				return make([][]float32, len(texts)), nil
			},
			wantErr: core.ErrNoEmbeddingFound,
			calls:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := setupTestStore(t)
			embedder := &mock.MockEmbedder{EmbedTextsFunc: tt.embed}
			processor := NewBatchProcessor(store, embedder, 3, time.Millisecond)

			err := processor.Process(ctx, items(newSource(2), 1, 2))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.calls, embedder.CallCount())

			count, err := store.Count(ctx, "note")
			require.NoError(t, err)
			assert.Zero(t, count, "nothing is stored for a failed page")
		})
	}
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mock.MockEmbedder{EmbedTextsFunc: func(context.Context, []string) ([][]float32, error) {
		cancel()
		return nil, errors.New("error")
	}}
	processor := NewBatchProcessor(setupTestStore(t), embedder, 3, time.Millisecond)

	err := processor.Process(ctx, items(newSource(1), 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchProcessor_Normalization(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := &mock.MockEmbedder{EmbedTextsFunc: constant(3, 4)}

	processor := NewBatchProcessor(store, embedder, 1, time.Millisecond)
	require.NoError(t, processor.Process(ctx, items(newSource(1), 1)))
	stored, err := store.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "note"})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, stored.Vector, "raw by default")

	processor.normalize = true
	require.NoError(t, processor.Process(ctx, items(newSource(1), 1)))
	stored, err = store.GetEmbedding(ctx, core.Key{ModelID: "1", ModelType: "note"})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, stored.Vector[0], 1e-6)
	assert.InDelta(t, 0.8, stored.Vector[1], 1e-6)
}

func TestBatchProcessor_ClearsTracker(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	src := newSource(2)
	tracker := staleness.NewQueueTracker(store)
	require.NoError(t, tracker.MarkStale(ctx,
		core.Key{ModelID: "1", ModelType: "note"},
		core.Key{ModelID: "2", ModelType: "note"},
	))

	processor := NewBatchProcessor(store, &mock.MockEmbedder{Dimensions: 4}, 1, time.Millisecond)
	processor.tracker = tracker
	require.NoError(t, processor.Process(ctx, items(src, 1)))

	due, err := tracker.DueForSync(ctx, "note")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, due)
}

var _ storage.VectorStore = (*failingStore)(nil)

// failingStore rejects every upsert.
type failingStore struct {
	storage.VectorStore
}

func (failingStore) UpsertEmbeddings(context.Context, ...*core.Embedding) error {
	return storage.ErrStorageClosed
}

func TestBatchProcessor_StoreError(t *testing.T) {
	processor := NewBatchProcessor(failingStore{}, &mock.MockEmbedder{Dimensions: 4}, 1, time.Millisecond)
	err := processor.Process(context.Background(), items(newSource(1), 1))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
