package batch

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

const (
	// DefaultIngestBatchSize is the number of rows upserted per statement.
	DefaultIngestBatchSize = 500

	// DefaultEndpoint is the provider endpoint batch jobs run against.
	DefaultEndpoint = "/v1/embeddings"

	// DefaultCompletionWindow is the time the provider has to finish a job.
	DefaultCompletionWindow = "24h"
)

type options struct {
	logger           *slog.Logger
	metrics          *Metrics
	endpoint         string
	completionWindow string
	ingestBatchSize  int
	outputDir        string
	workers          int
	queue            storage.SyncQueue
	now              func() time.Time
}

func defaultOptions() options {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return options{
		logger:           slog.Default(),
		endpoint:         DefaultEndpoint,
		completionWindow: DefaultCompletionWindow,
		ingestBatchSize:  DefaultIngestBatchSize,
		outputDir:        "embeddings/output",
		workers:          workers,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Option configures the components of this package.
// Each component ignores the options that do not concern it.
type Option func(*options) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithMetrics records lifecycle counters.
func WithMetrics(m *Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithEndpoint sets the provider endpoint used when creating jobs.
func WithEndpoint(endpoint string) Option {
	return func(o *options) error {
		if endpoint == "" {
			return fmt.Errorf("%w: empty batch endpoint", core.ErrConfiguration)
		}
		o.endpoint = endpoint
		return nil
	}
}

// WithCompletionWindow sets the completion window used when creating jobs.
func WithCompletionWindow(window string) Option {
	return func(o *options) error {
		if window == "" {
			return fmt.Errorf("%w: empty completion window", core.ErrConfiguration)
		}
		o.completionWindow = window
		return nil
	}
}

// WithIngestBatchSize sets how many result rows are upserted at once.
func WithIngestBatchSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("%w: ingest batch size must be positive, got %d", core.ErrConfiguration, n)
		}
		o.ingestBatchSize = n
		return nil
	}
}

// WithOutputDir sets where downloaded result files are saved.
func WithOutputDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("%w: empty output directory", core.ErrConfiguration)
		}
		o.outputDir = dir
		return nil
	}
}

// WithWorkers sets how many types are submitted concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) Option {
	return func(o *options) error {
		if n < 1 {
			n = 1
		}
		o.workers = n
		return nil
	}
}

// WithSyncQueue makes ingestion remove embedded records from a sync queue.
func WithSyncQueue(q storage.SyncQueue) Option {
	return func(o *options) error {
		o.queue = q
		return nil
	}
}

// WithClock overrides the time source for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now != nil {
			o.now = now
		}
		return nil
	}
}
