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


package storage

import (
	"context"

	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
)

// NearestQuery asks for the closest vectors of one type.
type NearestQuery struct {
	ModelType string
	Vector    []float32
	Metric    core.Metric
	Limit     int

	// IDs restricts candidates to these model ids. A nil slice means no
	// restriction; an empty non-nil slice matches nothing.
	IDs []string

	// Exclude removes these model ids from the candidates.
	Exclude []string
}

// Neighbor is one row returned by a nearest-neighbour query.
type Neighbor struct {
	ModelID      string
	Distance     float64
	MatchPercent float64
}

// VectorStore holds one embedding per (model_id, model_type).
type VectorStore interface {
	// GetEmbedding returns the stored embedding or ErrNotFound.
	GetEmbedding(ctx context.Context, key core.Key) (*core.Embedding, error)

	// UpsertEmbeddings inserts or replaces embeddings keyed by
	// (model_id, model_type). The stored vector and sync flag are taken from
	// the argument; CreatedAt of an existing row is preserved.
	UpsertEmbeddings(ctx context.Context, embeddings ...*core.Embedding) error

	// MarkSyncRequired flags existing embeddings as stale and returns how many
	// rows were flagged. Keys without a stored embedding are ignored.
	MarkSyncRequired(ctx context.Context, keys ...core.Key) (int, error)

	// SyncRequiredIDs returns the model ids of stale embeddings of a type,
	// sorted ascending.
	SyncRequiredIDs(ctx context.Context, modelType string) ([]string, error)

	// Nearest returns up to q.Limit neighbours ordered by distance ascending,
	// ties broken by model id ascending.
	Nearest(ctx context.Context, q NearestQuery) ([]Neighbor, error)

	// Count returns the number of embeddings stored for a type.
	Count(ctx context.Context, modelType string) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// JoinQuery asks a JoinSearcher to rank the records of a table directly.
type JoinQuery struct {
	Source  catalog.TableBacked
	Vector  []float32
	Metric  core.Metric
	Limit   int
	Filter  *filter.Expr
	Exclude []string
}

// JoinedRow is one record ranked by a JoinSearcher.
type JoinedRow struct {
	Fields       map[string]any
	Distance     float64
	MatchPercent float64
}

// JoinSearcher is implemented by vector stores that can join their rows with
// application tables living in the same database.
type JoinSearcher interface {
	// Colocated reports whether the table is reachable from the store's own
	// connection, so a single query can join both.
	Colocated(table *catalog.Table) bool

	// SearchJoined ranks the table's records against the query vector,
	// applying the filter and exclusions inside the same statement. Rows are
	// ordered by distance ascending, ties broken by model id ascending.
	SearchJoined(ctx context.Context, q JoinQuery) ([]JoinedRow, error)
}

// BatchRepository persists the local record of provider batch jobs.
type BatchRepository interface {
	// CreateBatch stores a new batch. Returns ErrDuplicateKey if the batch id
	// already exists.
	CreateBatch(ctx context.Context, batch *core.Batch) error

	// GetBatch returns the batch or ErrNotFound.
	GetBatch(ctx context.Context, batchID string) (*core.Batch, error)

	// UpdateBatch replaces a stored batch. The status change from the stored
	// row must be allowed by core.CanTransition, otherwise
	// core.ErrInvalidTransition is returned and nothing is written.
	UpdateBatch(ctx context.Context, batch *core.Batch) error

	// ListBatches returns batches in any of the given statuses, oldest first.
	// With no statuses every batch is returned.
	ListBatches(ctx context.Context, statuses ...core.BatchStatus) ([]*core.Batch, error)
}

// SyncQueue is a member-once set of records due for re-embedding.
type SyncQueue interface {
	// Enqueue adds keys to the set. Re-adding a member is a no-op.
	Enqueue(ctx context.Context, keys ...core.Key) error

	// Dequeue removes keys from the set. Missing keys are ignored.
	Dequeue(ctx context.Context, keys ...core.Key) error

	// Members returns the queued model ids of a type, sorted ascending.
	Members(ctx context.Context, modelType string) ([]string, error)

	// Contains reports whether the key is queued.
	Contains(ctx context.Context, key core.Key) (bool, error)
}

// Store is a backend providing every persistence concern.
type Store interface {
	VectorStore
	BatchRepository
	SyncQueue
}
