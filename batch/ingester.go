package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/jsonl"
	"github.com/poiesic/embedvector/storage"
)

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Lines    int // Non-blank lines read
	Ingested int // Rows upserted
	Skipped  int // Lines without a vector or not parseable

	// AlreadyArchived is set when another run archived the batch first.
	AlreadyArchived bool
}

// Ingester upserts the vectors of a downloaded result file.
type Ingester struct {
	vectors storage.VectorStore
	batches storage.BatchRepository
	opts    options
	logger  *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(vectors storage.VectorStore, batches storage.BatchRepository, opts ...Option) (*Ingester, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if batches == nil {
		return nil, ErrBatchRepositoryRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Ingester{
		vectors: vectors,
		batches: batches,
		opts:    o,
		logger:  o.logger.With("component", "batch-ingester"),
	}, nil
}

// Ingest streams the batch's saved result file into the vector store in
// sub-batches, then archives the batch and deletes the file.
//
// Lines without response.body.data[0].embedding are skipped. If the file
// cannot be opened the error wraps core.ErrUnreadable and the batch is left
// untouched so a later cycle can retry. Running Ingest twice on the same file
// leaves the store in the same state as running it once; a run holding a
// stale snapshot of a batch that is already archived does nothing.
func (i *Ingester) Ingest(ctx context.Context, b *core.Batch) (IngestStats, error) {
	var stats IngestStats
	if b.SavedFilePath == "" {
		return stats, fmt.Errorf("%w: batch %s has no saved result file", core.ErrUnreadable, b.BatchID)
	}
	f, err := os.Open(b.SavedFilePath)
	if err != nil {
		if current, gerr := i.batches.GetBatch(ctx, b.BatchID); gerr == nil && current.Status == core.BatchStatusArchived {
			i.logger.Info("batch already archived", "batch_id", b.BatchID)
			*b = *current
			stats.AlreadyArchived = true
			return stats, nil
		}
		return stats, fmt.Errorf("%w: %s: %w", core.ErrUnreadable, b.SavedFilePath, err)
	}
	defer f.Close()

	modelType := b.EmbeddableModel
	buf := newUpsertBuffer(i.opts.ingestBatchSize)
	flush := func() error {
		rows := buf.drain(modelType, i.opts.now())
		if len(rows) == 0 {
			return nil
		}
		if err := i.vectors.UpsertEmbeddings(ctx, rows...); err != nil {
			return fmt.Errorf("upsert %d embeddings for batch %s: %w", len(rows), b.BatchID, err)
		}
		if i.opts.queue != nil {
			keys := make([]core.Key, len(rows))
			for n, e := range rows {
				keys[n] = e.Key()
			}
			if err := i.opts.queue.Dequeue(ctx, keys...); err != nil {
				return fmt.Errorf("dequeue %d keys for batch %s: %w", len(keys), b.BatchID, err)
			}
		}
		stats.Ingested += len(rows)
		i.logger.Debug("sub-batch upserted", "batch_id", b.BatchID, "rows", len(rows))
		return nil
	}

	r := jsonl.NewReader[jsonl.Result](f)
	for {
		var res jsonl.Result
		err := r.Next(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, jsonl.ErrMalformedLine) {
			stats.Lines++
			stats.Skipped++
			i.logger.Warn("skipping malformed result line", "batch_id", b.BatchID, "err", err)
			continue
		}
		if err != nil {
			return stats, core.FileOperationFailed("read", b.SavedFilePath, err)
		}
		stats.Lines++

		vector, ok := res.Vector()
		if !ok || res.CustomID == "" {
			stats.Skipped++
			i.logger.Debug("skipping result line without vector", "batch_id", b.BatchID, "custom_id", res.CustomID)
			continue
		}
		if buf.add(res.CustomID, vector) {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	i.opts.metrics.ingested(modelType, stats.Ingested)
	i.opts.metrics.skipped(modelType, stats.Skipped)

	updated := *b
	if err := updated.Transition(core.BatchStatusArchived); err != nil {
		return stats, err
	}
	updated.UpdatedAt = i.opts.now()
	if err := i.batches.UpdateBatch(ctx, &updated); err != nil {
		return stats, fmt.Errorf("archive batch %s: %w", b.BatchID, err)
	}
	*b = updated
	i.opts.metrics.statusChanged(string(core.BatchStatusArchived))

	f.Close()
	if err := os.Remove(b.SavedFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.logger.Warn("failed to remove ingested result file", "path", b.SavedFilePath, "err", err)
	}

	i.logger.Info("batch archived", "batch_id", b.BatchID, "type", modelType,
		"ingested", stats.Ingested, "skipped", stats.Skipped)
	return stats, nil
}

// upsertBuffer collects rows for one sub-batch. A custom id seen twice keeps
// its last vector, since a single upsert statement may not touch a row twice.
type upsertBuffer struct {
	size  int
	index map[string]int
	ids   []string
	vecs  [][]float32
}

func newUpsertBuffer(size int) *upsertBuffer {
	return &upsertBuffer{size: size, index: make(map[string]int, size)}
}

// add buffers a row and reports whether the buffer is full.
func (u *upsertBuffer) add(id string, vector []float32) bool {
	if n, ok := u.index[id]; ok {
		u.vecs[n] = vector
		return false
	}
	u.index[id] = len(u.ids)
	u.ids = append(u.ids, id)
	u.vecs = append(u.vecs, vector)
	return len(u.ids) >= u.size
}

func (u *upsertBuffer) drain(modelType string, now time.Time) []*core.Embedding {
	rows := make([]*core.Embedding, len(u.ids))
	for n, id := range u.ids {
		rows[n] = &core.Embedding{
			ModelID:   id,
			ModelType: modelType,
			Vector:    u.vecs[n],
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	clear(u.index)
	u.ids = u.ids[:0]
	u.vecs = u.vecs[:0]
	return rows
}
