// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records embedded per provider call
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for a provider call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Workers is the number of pages embedded concurrently
	Workers int

	// Normalize scales vectors to unit length before storing them
	Normalize bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		Workers:        max(1, runtime.NumCPU()/2),
	}
}

// Result summarizes one run.
type Result struct {
	Type      string
	Mode      core.Mode
	Processed int
	Elapsed   time.Duration
}

// Option configures a Reembedder.
type Option func(*Reembedder)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reembedder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracker selects the records due in sync mode and clears them once
// embedded. Without a tracker, sync mode uses the vector store's sync flag.
func WithTracker(t staleness.Tracker) Option {
	return func(r *Reembedder) {
		r.tracker = t
	}
}

// Reembedder embeds every record of a source synchronously.
type Reembedder struct {
	vectors  storage.VectorStore
	embedder ai.Embedder
	tracker  staleness.Tracker
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(vectors storage.VectorStore, embedder ai.Embedder, config *Config, progress io.Writer, opts ...Option) (*Reembedder, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrInvalidMaxAttempts)
	}
	if progress == nil {
		progress = io.Discard
	}

	r := &Reembedder{
		vectors:  vectors,
		embedder: embedder,
		config:   config,
		progress: progress,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reembedder")
	return r, nil
}

// due returns the ids a run covers; nil means every record.
func (r *Reembedder) due(ctx context.Context, src catalog.Source, mode core.Mode) ([]string, int, error) {
	if mode == core.ModeInit {
		all, err := src.FilterIDs(ctx, nil)
		if err != nil {
			return nil, 0, err
		}
		return nil, len(all), nil
	}

	var ids []string
	var err error
	if r.tracker != nil {
		ids, err = r.tracker.DueForSync(ctx, src.Type())
	} else {
		ids, err = r.vectors.SyncRequiredIDs(ctx, src.Type())
	}
	if err != nil {
		return nil, 0, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, len(ids), nil
}

// Run embeds the records of src. In init mode every record is embedded; in
// sync mode only the records due for sync. Pages are embedded on a worker
// pool and the first failure stops the run.
func (r *Reembedder) Run(ctx context.Context, src catalog.Source, mode core.Mode) (*Result, error) {
	result := &Result{Type: src.Type(), Mode: mode}
	ids, total, err := r.due(ctx, src, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No %s records to embed (%s mode)\n", src.Type(), mode)
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting embedding of %d %s records (batch size: %d)\n",
		total, src.Type(), r.config.BatchSize)

	processor := NewBatchProcessor(r.vectors, r.embedder, r.config.MaxRetries, r.config.RetryDelay)
	processor.tracker = r.tracker
	processor.normalize = r.config.Normalize
	processor.logger = r.logger

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	pool, err := ants.NewPool(max(1, r.config.Workers))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		processed atomic.Int64
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	iterator := NewItemIterator(src, r.config.BatchSize, ids)
	iterErr := iterator.ForEach(runCtx, func(page []catalog.Item) error {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := processor.Process(runCtx, page); err != nil {
				fail(fmt.Errorf("failed to process page after id %s: %w", page[0].EmbeddingID(), err))
				return
			}
			processed.Add(int64(len(page)))
			tracker.Increment(len(page))
			r.logger.Debug("page embedded", "type", src.Type(), "records", len(page))
		})
		if err != nil {
			wg.Done()
			return err
		}
		return nil
	})
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if iterErr != nil {
		return nil, iterErr
	}

	tracker.Finish()
	result.Processed = int(processed.Load())
	result.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Embedding complete. Processed %d %s records in %v\n",
		result.Processed, src.Type(), result.Elapsed.Round(time.Millisecond))
	r.logger.Info("embedding complete", "type", src.Type(), "mode", mode, "records", result.Processed)
	return result, nil
}
