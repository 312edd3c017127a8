package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
)

// BatchProcessor embeds one page of records and stores the vectors.
type BatchProcessor struct {
	vectors        storage.VectorStore
	embedder       ai.Embedder
	tracker        staleness.Tracker
	maxRetries     int
	retryBaseDelay time.Duration
	normalize      bool
	logger         *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(vectors storage.VectorStore, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		vectors:        vectors,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         slog.Default(),
	}
}

// Process embeds the texts of items, upserts one embedding per item and
// clears the items from the staleness tracker when one is set.
func (bp *BatchProcessor) Process(ctx context.Context, items []catalog.Item) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.EmbeddingText()
	}

	var vectors [][]float32
	err := retry(ctx, bp.logger, func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(texts), len(vectors))
		}
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([]*core.Embedding, len(items))
	keys := make([]core.Key, len(items))
	for i, item := range items {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("%w: %s", core.ErrNoEmbeddingFound, core.KeyOf(item))
		}
		vector := vectors[i]
		if bp.normalize {
			vector = NormalizeVector(vector)
		}
		keys[i] = core.KeyOf(item)
		embeddings[i] = &core.Embedding{ModelID: keys[i].ModelID, ModelType: keys[i].ModelType, Vector: vector}
	}

	if err := bp.vectors.UpsertEmbeddings(ctx, embeddings...); err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	if bp.tracker != nil {
		if err := bp.tracker.Clear(ctx, keys...); err != nil {
			return fmt.Errorf("failed to clear sync state: %w", err)
		}
	}
	return nil
}
