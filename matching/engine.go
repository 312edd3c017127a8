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


package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
)

// maxRefills bounds how often the cross-connection strategy re-queries after
// finding vectors whose records no longer exist.
const maxRefills = 8

// Request describes one match query.
type Request struct {
	// Source is the record whose vector is compared. Required.
	Source core.Embeddable

	// TargetType is the registered type to rank.
	TargetType string

	// TopK is the maximum number of matches returned.
	TopK int

	// Filter restricts the target records. Nil matches every record.
	Filter *filter.Expr

	// Strategy overrides the engine's strategy when set.
	Strategy Strategy
}

// Engine answers match queries.
type Engine struct {
	registry *catalog.Registry
	vectors  storage.VectorStore
	embedder ai.Embedder
	tracker  staleness.Tracker
	metric   core.Metric
	strategy Strategy
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithMetric sets the distance metric. Default is cosine.
func WithMetric(m core.Metric) Option {
	return func(e *Engine) error {
		metric, err := core.ParseMetric(string(m))
		if err != nil {
			return err
		}
		e.metric = metric
		return nil
	}
}

// WithStrategy sets the default query strategy. Default is StrategyAuto.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) error {
		strategy, err := ParseStrategy(string(s))
		if err != nil {
			return err
		}
		e.strategy = strategy
		return nil
	}
}

// WithTracker makes the engine consult and clear a staleness tracker in
// addition to the sync flag on stored vectors.
func WithTracker(t staleness.Tracker) Option {
	return func(e *Engine) error {
		e.tracker = t
		return nil
	}
}

// WithMetrics records strategy selections and on-demand embeddings.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a matching engine.
func NewEngine(registry *catalog.Registry, vectors storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	e := &Engine{
		registry: registry,
		vectors:  vectors,
		embedder: embedder,
		metric:   core.MetricCosine,
		strategy: StrategyAuto,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "matching-engine")
	return e, nil
}

// Metric returns the distance metric in use.
func (e *Engine) Metric() core.Metric {
	return e.metric
}

// GetOrCreateEmbedding returns the stored vector of a record. When there is
// none, or it is marked stale, the record is embedded synchronously and the
// new vector stored before returning.
func (e *Engine) GetOrCreateEmbedding(ctx context.Context, rec core.Embeddable) (*core.Embedding, error) {
	key := core.KeyOf(rec)
	stored, err := e.vectors.GetEmbedding(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load embedding %s: %w", key, err)
	}
	stale := stored == nil || stored.SyncRequired
	if !stale && e.tracker != nil {
		queued, err := e.tracker.IsStale(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check staleness of %s: %w", key, err)
		}
		stale = queued
	}
	if !stale {
		return stored, nil
	}

	vector, err := e.embedder.EmbedText(ctx, rec.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", key, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNoEmbeddingFound, key)
	}
	fresh := &core.Embedding{ModelID: key.ModelID, ModelType: key.ModelType, Vector: vector}
	if err := e.vectors.UpsertEmbeddings(ctx, fresh); err != nil {
		return nil, fmt.Errorf("store embedding %s: %w", key, err)
	}
	if e.tracker != nil {
		if err := e.tracker.Clear(ctx, key); err != nil {
			return nil, fmt.Errorf("clear staleness of %s: %w", key, err)
		}
	}
	e.metrics.reembed(key.ModelType)
	e.logger.Debug("embedded source on demand", "key", key.String(), "was_stored", stored != nil)
	return fresh, nil
}

// Match ranks records of req.TargetType by similarity to req.Source. The
// source itself is never returned when it has the target type. A filter that
// selects nothing yields an empty result.
func (e *Engine) Match(ctx context.Context, req Request) ([]core.Match, error) {
	if req.Source == nil {
		return nil, ErrSourceRequired
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top k must be positive, got %d", storage.ErrInvalidQuery, req.TopK)
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	target, err := e.registry.Source(req.TargetType)
	if err != nil {
		return nil, err
	}
	strategy, joiner, table, err := e.plan(target, req.Strategy)
	if err != nil {
		return nil, err
	}

	src, err := e.GetOrCreateEmbedding(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	var exclude []string
	if req.Source.EmbeddingType() == req.TargetType {
		exclude = []string{req.Source.EmbeddingID()}
	}

	e.metrics.strategy(strategy)
	e.logger.Debug("match", "target", req.TargetType, "strategy", strategy, "top_k", req.TopK)
	if strategy == StrategyOptimized {
		return e.matchJoined(ctx, joiner, table, src.Vector, req, exclude)
	}
	return e.matchCross(ctx, target, src.Vector, req, exclude)
}

// plan resolves the strategy for a target.
func (e *Engine) plan(target catalog.Source, requested Strategy) (Strategy, storage.JoinSearcher, catalog.TableBacked, error) {
	strategy := e.strategy
	if requested != "" {
		s, err := ParseStrategy(string(requested))
		if err != nil {
			return "", nil, nil, err
		}
		strategy = s
	}
	if strategy == StrategyCrossConnection {
		return strategy, nil, nil, nil
	}

	table, isTable := target.(catalog.TableBacked)
	joiner, canJoin := e.vectors.(storage.JoinSearcher)
	colocated := isTable && canJoin && joiner.Colocated(table.Table())

	switch {
	case colocated:
		return StrategyOptimized, joiner, table, nil
	case strategy == StrategyOptimized && !isTable:
		return "", nil, nil, fmt.Errorf("%w: %w", ErrStrategyUnavailable, core.InvalidModel(target.Type(), catalog.TableCapability))
	case strategy == StrategyOptimized:
		return "", nil, nil, fmt.Errorf("%w: %s is not in the vector store's database", ErrStrategyUnavailable, target.Type())
	}
	return StrategyCrossConnection, nil, nil, nil
}

func (e *Engine) matchJoined(ctx context.Context, joiner storage.JoinSearcher, table catalog.TableBacked, vector []float32, req Request, exclude []string) ([]core.Match, error) {
	rows, err := joiner.SearchJoined(ctx, storage.JoinQuery{
		Source:  table,
		Vector:  vector,
		Metric:  e.metric,
		Limit:   req.TopK,
		Filter:  req.Filter,
		Exclude: exclude,
	})
	if err != nil {
		return nil, err
	}
	matches := make([]core.Match, 0, len(rows))
	for _, row := range rows {
		rec, err := table.RecordFromRow(row.Fields)
		if err != nil {
			return nil, err
		}
		matches = append(matches, core.Match{Item: rec, Distance: row.Distance, MatchPercent: row.MatchPercent})
	}
	return matches, nil
}

func (e *Engine) matchCross(ctx context.Context, target catalog.Source, vector []float32, req Request, exclude []string) ([]core.Match, error) {
	var ids []string
	if req.Filter != nil {
		var err error
		ids, err = target.FilterIDs(ctx, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", req.TargetType, err)
		}
		if len(ids) == 0 {
			return []core.Match{}, nil
		}
	}

	q := storage.NearestQuery{
		ModelType: req.TargetType,
		Vector:    vector,
		Metric:    e.metric,
		Limit:     req.TopK,
		IDs:       ids,
		Exclude:   exclude,
	}
	// Vectors can outlive their records. Those are dropped and the query
	// repeated without them so the result still holds the best TopK records.
	for range maxRefills {
		neighbors, err := e.vectors.Nearest(ctx, q)
		if err != nil {
			return nil, err
		}
		matches, missing, err := e.resolve(ctx, target, neighbors)
		if err != nil {
			return nil, err
		}
		if len(missing) == 0 || len(neighbors) < q.Limit {
			return matches, nil
		}
		e.logger.Debug("vectors without records", "target", req.TargetType, "count", len(missing))
		q.Exclude = append(q.Exclude, missing...)
	}
	return nil, fmt.Errorf("%w: too many orphaned vectors for %s", storage.ErrInvalidQuery, req.TargetType)
}

// resolve fetches the records behind neighbors, keeping the neighbor order.
// It also returns the ids that have no record.
func (e *Engine) resolve(ctx context.Context, target catalog.Source, neighbors []storage.Neighbor) ([]core.Match, []string, error) {
	if len(neighbors) == 0 {
		return []core.Match{}, nil, nil
	}
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ModelID
	}
	records, err := target.Fetch(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", target.Type(), err)
	}
	byID := make(map[string]core.Embeddable, len(records))
	for _, r := range records {
		byID[r.EmbeddingID()] = r
	}

	matches := make([]core.Match, 0, len(neighbors))
	var missing []string
	for _, n := range neighbors {
		rec, ok := byID[n.ModelID]
		if !ok {
			missing = append(missing, n.ModelID)
			continue
		}
		matches = append(matches, core.Match{Item: rec, Distance: n.Distance, MatchPercent: n.MatchPercent})
	}
	return matches, missing, nil
}
