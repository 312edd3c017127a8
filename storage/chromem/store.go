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


// Package chromem implements storage.VectorStore on chromem-go, an embedded
// vector database living apart from the application tables.
//
// chromem-go only supports cosine similarity and keeps document vectors
// normalized to unit length, so GetEmbedding returns the unit vector of what
// was written. Queries with any other metric fail with
// storage.ErrUnsupportedMetric.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

const (
	collectionPrefix  = "embeddings_"
	metaCollection    = "embedvector_meta"
	keySyncRequired   = "sync_required"
	keyModelType      = "model_type"
	keyCreatedAt      = "created_at"
	keyUpdatedAt      = "updated_at"
	keyDimensions     = "dimensions"
	syncRequiredTrue  = "true"
	syncRequiredFalse = "false"
	timestampLayout   = time.RFC3339Nano
)

var errTextEmbedding = errors.New("chromem store only accepts precomputed embeddings")

// noTextEmbedding keeps chromem from ever calling a remote embedding API.
func noTextEmbedding(context.Context, string) ([]float32, error) {
	return nil, errTextEmbedding
}

// Store implements storage.VectorStore with one chromem collection per model
// type. A meta collection remembers the vector dimension of every type.
type Store struct {
	db     *chromem.DB
	mu     sync.Mutex
	closed atomic.Bool
	logger *slog.Logger
}

var _ storage.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// Open opens a persistent database in dir, or an in-memory one when dir is
// empty.
func Open(dir string, compress bool, opts ...Option) (*Store, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, compress)
		if err != nil {
			return nil, core.FileOperationFailed("open chromem db", dir, err)
		}
	}
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "chromem-store")
	return s, nil
}

// Close marks the store closed. chromem persists on every write, so there is
// nothing to flush.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

func (s *Store) collection(modelType string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(collectionPrefix+modelType, map[string]string{keyModelType: modelType}, noTextEmbedding)
}

// existing returns the collection of a type or nil when nothing was stored.
func (s *Store) existing(modelType string) *chromem.Collection {
	return s.db.GetCollection(collectionPrefix+modelType, noTextEmbedding)
}

// GetEmbedding returns the stored (unit length) embedding or storage.ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, key core.Key) (*core.Embedding, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	col := s.existing(key.ModelType)
	if col == nil {
		return nil, storage.ErrNotFound
	}
	doc, err := col.GetByID(ctx, key.ModelID)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return fromDocument(key, doc), nil
}

// UpsertEmbeddings adds or replaces documents.
func (s *Store) UpsertEmbeddings(ctx context.Context, embeddings ...*core.Embedding) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, e := range embeddings {
		if err := core.ValidateEmbedding(e); err != nil {
			return err
		}
		if isZero(e.Vector) {
			return fmt.Errorf("%w: zero vector for %s", core.ErrInvalidEmbedding, e.Key())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range embeddings {
		if err := s.checkDimensions(ctx, e.ModelType, len(e.Vector), true); err != nil {
			return err
		}
		col, err := s.collection(e.ModelType)
		if err != nil {
			return err
		}
		created := now
		if old, err := col.GetByID(ctx, e.ModelID); err == nil {
			created = parseTime(old.Metadata[keyCreatedAt])
		} else if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.UTC()
		}
		stamped := *e
		stamped.CreatedAt, stamped.UpdatedAt = created, now
		doc := chromem.Document{
			ID:        e.ModelID,
			Embedding: append([]float32(nil), e.Vector...),
			Metadata:  metadataOf(&stamped),
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Key(), err)
		}
	}
	return nil
}

// MarkSyncRequired flags existing documents as stale.
func (s *Store) MarkSyncRequired(ctx context.Context, keys ...core.Key) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	flagged := 0
	for _, k := range keys {
		col := s.existing(k.ModelType)
		if col == nil {
			continue
		}
		doc, err := col.GetByID(ctx, k.ModelID)
		if err != nil {
			continue
		}
		doc.Metadata[keySyncRequired] = syncRequiredTrue
		doc.Metadata[keyUpdatedAt] = time.Now().UTC().Format(timestampLayout)
		if err := col.AddDocument(ctx, doc); err != nil {
			return flagged, err
		}
		flagged++
	}
	return flagged, nil
}

// SyncRequiredIDs returns the ids of stale documents of a type, sorted ascending.
func (s *Store) SyncRequiredIDs(ctx context.Context, modelType string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	results, err := s.scan(ctx, modelType, nil, map[string]string{keySyncRequired: syncRequiredTrue})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

// Count returns the number of documents of a type.
func (s *Store) Count(ctx context.Context, modelType string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	col := s.existing(modelType)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Nearest runs an exhaustive cosine query over the whole collection and
// applies the restriction, exclusion and ranking in process.
func (s *Store) Nearest(ctx context.Context, q storage.NearestQuery) ([]storage.Neighbor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Metric == core.MetricL2 {
		return nil, fmt.Errorf("%w: chromem supports cosine only", storage.ErrUnsupportedMetric)
	}
	if q.IDs != nil && len(q.IDs) == 0 {
		return []storage.Neighbor{}, nil
	}
	if err := s.checkDimensions(ctx, q.ModelType, len(q.Vector), false); err != nil {
		return nil, err
	}

	results, err := s.scan(ctx, q.ModelType, q.Vector, nil)
	if err != nil {
		return nil, err
	}
	accept := q.Candidates()
	neighbors := make([]storage.Neighbor, 0, len(results))
	for _, r := range results {
		if !accept(r.ID) {
			continue
		}
		// recomputed in float64 so scores agree with the SQL backends
		d := core.CosineDistance(q.Vector, r.Embedding)
		neighbors = append(neighbors, storage.Neighbor{ModelID: r.ID, Distance: d, MatchPercent: core.MatchPercent(d)})
	}
	return storage.RankNeighbors(neighbors, q.Limit), nil
}

// scan returns every document of a type matching where. Without a query
// vector a unit probe of the stored dimension is used.
func (s *Store) scan(ctx context.Context, modelType string, vector []float32, where map[string]string) ([]chromem.Result, error) {
	col := s.existing(modelType)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}
	if vector == nil {
		dims, err := s.dimensions(ctx, modelType)
		if err != nil {
			return nil, err
		}
		vector = make([]float32, dims)
		vector[0] = 1
	}
	results, err := col.QueryEmbedding(ctx, vector, col.Count(), where, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", modelType, err)
	}
	return results, nil
}

// dimensions returns the vector width recorded for a type.
func (s *Store) dimensions(ctx context.Context, modelType string) (int, error) {
	meta, err := s.db.GetOrCreateCollection(metaCollection, nil, noTextEmbedding)
	if err != nil {
		return 0, err
	}
	doc, err := meta.GetByID(ctx, modelType)
	if err != nil {
		return 0, nil
	}
	return strconv.Atoi(doc.Metadata[keyDimensions])
}

// checkDimensions compares n with the recorded width of the type. With record
// set, the first write of a type stores its width.
func (s *Store) checkDimensions(ctx context.Context, modelType string, n int, record bool) error {
	dims, err := s.dimensions(ctx, modelType)
	if err != nil {
		return err
	}
	if dims == 0 {
		if !record {
			return nil
		}
		meta, err := s.db.GetOrCreateCollection(metaCollection, nil, noTextEmbedding)
		if err != nil {
			return err
		}
		return meta.AddDocument(ctx, chromem.Document{
			ID:        modelType,
			Embedding: []float32{1},
			Metadata:  map[string]string{keyDimensions: strconv.Itoa(n)},
		})
	}
	if dims != n {
		return fmt.Errorf("%w: %s vectors have %d dimensions, got %d", core.ErrDimensionMismatch, modelType, dims, n)
	}
	return nil
}

func metadataOf(e *core.Embedding) map[string]string {
	flag := syncRequiredFalse
	if e.SyncRequired {
		flag = syncRequiredTrue
	}
	return map[string]string{
		keyModelType:    e.ModelType,
		keySyncRequired: flag,
		keyCreatedAt:    e.CreatedAt.Format(timestampLayout),
		keyUpdatedAt:    e.UpdatedAt.Format(timestampLayout),
	}
}

func fromDocument(key core.Key, doc chromem.Document) *core.Embedding {
	return &core.Embedding{
		ModelID:      key.ModelID,
		ModelType:    key.ModelType,
		Vector:       doc.Embedding,
		SyncRequired: doc.Metadata[keySyncRequired] == syncRequiredTrue,
		CreatedAt:    parseTime(doc.Metadata[keyCreatedAt]),
		UpdatedAt:    parseTime(doc.Metadata[keyUpdatedAt]),
	}
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
