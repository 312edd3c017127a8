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


// Package embedvector converts application records into vector embeddings
// and ranks records of one type by similarity to a record of another.
//
// System composes a storage backend, an embedding provider, the record
// registry and the batch, matching, sync and bulk-embedding services from a
// loaded config.Config. Everything below it receives its collaborators
// through constructors.
package embedvector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/ai/openai"
	"github.com/poiesic/embedvector/batch"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/config"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/jsonl"
	"github.com/poiesic/embedvector/matching"
	"github.com/poiesic/embedvector/reembed"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
	badgerstore "github.com/poiesic/embedvector/storage/badger"
	chromemstore "github.com/poiesic/embedvector/storage/chromem"
	"github.com/poiesic/embedvector/storage/postgres"
	"github.com/poiesic/embedvector/storage/redisqueue"
	"github.com/poiesic/embedvector/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// System is the composed application.
type System struct {
	config     *config.Config
	store      storage.Store
	provider   ai.Provider
	registry   *catalog.Registry
	queue      storage.SyncQueue
	tracker    staleness.Tracker
	watcher    *staleness.Watcher
	batches    *batch.Service
	engine     *matching.Engine
	reembedder *reembed.Reembedder
	closers    []io.Closer
	logger     *slog.Logger
}

// Option configures a System.
type Option func(*systemOptions)

type systemOptions struct {
	logger     *slog.Logger
	provider   ai.Provider
	store      storage.Store
	redis      redis.UniversalClient
	registerer prometheus.Registerer
	sources    []catalog.Source
	progress   io.Writer
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// WithProvider uses p instead of the OpenAI provider built from the
// provider section. The System closes it.
func WithProvider(p ai.Provider) Option {
	return func(o *systemOptions) {
		o.provider = p
	}
}

// WithStore uses s instead of opening the configured driver. The System
// closes it.
func WithStore(s storage.Store) Option {
	return func(o *systemOptions) {
		o.store = s
	}
}

// WithRedisClient uses client for the redis sync queue instead of dialing
// sync.redis_addr. The caller keeps ownership of the client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *systemOptions) {
		o.redis = client
	}
}

// WithMetrics registers batch and matching counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *systemOptions) {
		o.registerer = reg
	}
}

// WithSources registers record sources at construction.
func WithSources(sources ...catalog.Source) Option {
	return func(o *systemOptions) {
		o.sources = append(o.sources, sources...)
	}
}

// WithProgress sets where bulk embedding reports progress.
func WithProgress(w io.Writer) Option {
	return func(o *systemOptions) {
		o.progress = w
	}
}

// New builds a System from cfg. The configuration is validated, including
// the provider section unless a provider is injected.
func New(cfg *config.Config, opts ...Option) (sys *System, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &systemOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{config: cfg, logger: o.logger.With("component", "embedvector")}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if o.provider == nil {
		if err := cfg.RequireProvider(); err != nil {
			return nil, err
		}
		o.provider, err = openai.NewProvider(cfg.Provider.AIConfig(), openai.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
	}
	s.provider = o.provider
	s.closers = append(s.closers, closerFunc(s.provider.Close))

	s.store = o.store
	if s.store == nil {
		if s.store, err = openStore(cfg, o.logger); err != nil {
			return nil, err
		}
	}
	s.closers = append(s.closers, s.store)

	if s.registry, err = catalog.NewRegistry(o.sources...); err != nil {
		return nil, err
	}
	if err := s.registerConfigured(); err != nil {
		return nil, err
	}
	if err := s.initSync(o); err != nil {
		return nil, err
	}
	if err := s.initServices(o); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *System) initSync(o *systemOptions) error {
	switch s.config.Sync.Queue {
	case staleness.VariantTable:
		s.queue = s.store
	case staleness.VariantRedis:
		client := o.redis
		if client == nil {
			c := redis.NewClient(&redis.Options{Addr: s.config.Sync.RedisAddr})
			s.closers = append(s.closers, c)
			client = c
		}
		q, err := redisqueue.New(client, s.config.Sync.RedisKey)
		if err != nil {
			return err
		}
		s.queue = q
	}

	tracker, err := staleness.New(s.config.Sync.Queue, s.store, s.queue)
	if err != nil {
		return err
	}
	s.tracker = tracker
	s.watcher = staleness.NewWatcher(tracker, s.config.Sync.Fields, o.logger)
	return nil
}

func (s *System) initServices(o *systemOptions) error {
	cfg := s.config
	metric, err := core.ParseMetric(cfg.Matching.Distance)
	if err != nil {
		return err
	}
	strategy, err := matching.ParseStrategy(cfg.Matching.Strategy)
	if err != nil {
		return err
	}

	batchOpts := []batch.Option{
		batch.WithLogger(o.logger),
		batch.WithEndpoint(cfg.Provider.Endpoint),
		batch.WithCompletionWindow(cfg.Provider.CompletionWindow),
		batch.WithIngestBatchSize(cfg.Batch.IngestBatchSize),
		batch.WithOutputDir(cfg.Batch.OutputDir),
		batch.WithWorkers(cfg.Batch.Workers),
	}
	matchOpts := []matching.Option{
		matching.WithLogger(o.logger),
		matching.WithMetric(metric),
		matching.WithStrategy(strategy),
	}
	if s.queue != nil {
		batchOpts = append(batchOpts, batch.WithSyncQueue(s.queue))
		matchOpts = append(matchOpts, matching.WithTracker(s.tracker))
	}
	if o.registerer != nil {
		batchOpts = append(batchOpts, batch.WithMetrics(batch.NewMetrics(o.registerer)))
		matchOpts = append(matchOpts, matching.WithMetrics(matching.NewMetrics(o.registerer)))
	}

	generator, err := jsonl.NewGenerator(cfg.Batch.InputDir, cfg.Provider.EmbeddingModel,
		jsonl.WithChunkSize(cfg.Batch.ChunkSize),
		jsonl.WithLotSize(cfg.Batch.LotSize),
		jsonl.WithURL(cfg.Provider.Endpoint),
		jsonl.WithLogger(o.logger),
	)
	if err != nil {
		return err
	}
	client := s.provider.BatchClient()
	submitter, err := batch.NewSubmitter(client, s.store, batchOpts...)
	if err != nil {
		return err
	}
	ingester, err := batch.NewIngester(s.store, s.store, batchOpts...)
	if err != nil {
		return err
	}
	poller, err := batch.NewPoller(client, s.store, ingester, batchOpts...)
	if err != nil {
		return err
	}
	if s.batches, err = batch.NewService(s.registry, generator, submitter, poller, s.tracker, batchOpts...); err != nil {
		return err
	}

	if s.engine, err = matching.NewEngine(s.registry, s.store, s.provider.Embedder(), matchOpts...); err != nil {
		return err
	}

	embedCfg := &reembed.Config{
		BatchSize:      cfg.Embed.BatchSize,
		ReportInterval: cfg.Embed.BatchSize,
		MaxRetries:     cfg.Embed.MaxRetries,
		RetryDelay:     cfg.Embed.RetryDelay,
		Workers:        cfg.Embed.Workers,
		Normalize:      cfg.Embed.Normalize,
	}
	s.reembedder, err = reembed.NewReembedder(s.store, s.provider.Embedder(), embedCfg, o.progress,
		reembed.WithLogger(o.logger), reembed.WithTracker(s.tracker))
	return err
}

// openStore opens the configured storage driver. Chromem holds vectors only,
// so its batches and sync queue live in a badger database next to it.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(sc.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		var opts []postgres.Option
		opts = append(opts, postgres.WithLogger(logger))
		if sc.Dimensions > 0 {
			opts = append(opts, postgres.WithVectorIndex(sc.Dimensions, core.Metric(cfg.Matching.Distance)))
		}
		store, err := postgres.Open(sc.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverBadger:
		backend, err := badgerstore.OpenBackend(sc.Path, false, logger)
		if err != nil {
			return nil, core.FileOperationFailed("open badger", sc.Path, err)
		}
		return badgerstore.NewStore(backend), nil
	case config.DriverChromem:
		backend, err := badgerstore.OpenBackend(filepath.Join(sc.Path, "state"), false, logger)
		if err != nil {
			return nil, core.FileOperationFailed("open badger", sc.Path, err)
		}
		state := badgerstore.NewStore(backend)
		vectors, err := chromemstore.Open(filepath.Join(sc.Path, "vectors"), true, chromemstore.WithLogger(logger))
		if err != nil {
			state.Close()
			return nil, err
		}
		return &splitStore{VectorStore: vectors, BatchRepository: state, SyncQueue: state, state: state}, nil
	}
	return nil, fmt.Errorf("%w: unknown storage driver %q", core.ErrConfiguration, sc.Driver)
}

// splitStore keeps vectors in one backend and batches plus the sync queue in
// another.
type splitStore struct {
	storage.VectorStore
	storage.BatchRepository
	storage.SyncQueue
	state io.Closer
}

func (s *splitStore) Close() error {
	return errors.Join(s.VectorStore.Close(), s.state.Close())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Config returns the configuration the System was built from.
func (s *System) Config() *config.Config { return s.config }

// Store returns the storage backend.
func (s *System) Store() storage.Store { return s.store }

// Provider returns the embedding provider.
func (s *System) Provider() ai.Provider { return s.provider }

// Registry returns the registry of searchable types.
func (s *System) Registry() *catalog.Registry { return s.registry }

// Tracker returns the staleness tracker selected by sync.queue.
func (s *System) Tracker() staleness.Tracker { return s.tracker }

// Batches returns the batch lifecycle service.
func (s *System) Batches() *batch.Service { return s.batches }

// Engine returns the matching engine.
func (s *System) Engine() *matching.Engine { return s.engine }

// Register adds a record source. Types registered after New are visible to
// every service.
func (s *System) Register(src catalog.Source) error {
	return s.registry.Register(src)
}

// Embed generates and submits batch files for the given types.
func (s *System) Embed(ctx context.Context, mode core.Mode, types ...string) (core.Outcome, error) {
	if len(types) == 0 {
		types = s.registry.Types()
	}
	return s.batches.EmbedAll(ctx, types, mode)
}

// Poll runs one poll cycle of the batch lifecycle.
func (s *System) Poll(ctx context.Context) (core.Outcome, error) {
	return s.batches.Poll(ctx)
}

// ProcessBatch ingests one completed batch.
func (s *System) ProcessBatch(ctx context.Context, batchID string) (core.Outcome, error) {
	return s.batches.ProcessBatch(ctx, batchID)
}

// Match ranks records of req.TargetType against req.Source.
func (s *System) Match(ctx context.Context, req matching.Request) ([]core.Match, error) {
	return s.engine.Match(ctx, req)
}

// EmbedNow embeds a type synchronously without the batch API.
func (s *System) EmbedNow(ctx context.Context, modelType string, mode core.Mode) (*reembed.Result, error) {
	src, err := s.registry.Source(modelType)
	if err != nil {
		return nil, err
	}
	return s.reembedder.Run(ctx, src, mode)
}

// Observe marks e stale when a field configured under sync.fields changed
// between before and after. It reports whether e was marked.
func (s *System) Observe(ctx context.Context, e core.Embeddable, before, after map[string]any) (bool, error) {
	return s.watcher.Observe(ctx, e, before, after)
}

// Close releases the store, the provider and any redis connection, in
// reverse order of acquisition.
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error("error closing component", "err", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
