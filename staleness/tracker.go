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


package staleness

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

// Tracker records and lists stale records.
type Tracker interface {
	// MarkStale records that the keys must be re-embedded. Repeating a mark
	// has no further effect.
	MarkStale(ctx context.Context, keys ...core.Key) error

	// DueForSync returns the ids of stale records of a type, sorted ascending.
	DueForSync(ctx context.Context, modelType string) ([]string, error)

	// IsStale reports whether one record is marked.
	IsStale(ctx context.Context, key core.Key) (bool, error)

	// Clear removes the marks of records that were just re-embedded.
	Clear(ctx context.Context, keys ...core.Key) error
}

// FlagTracker keeps staleness on the embedding rows themselves.
type FlagTracker struct {
	vectors storage.VectorStore
}

// NewFlagTracker creates a tracker over a vector store.
func NewFlagTracker(vectors storage.VectorStore) *FlagTracker {
	return &FlagTracker{vectors: vectors}
}

func (t *FlagTracker) MarkStale(ctx context.Context, keys ...core.Key) error {
	_, err := t.vectors.MarkSyncRequired(ctx, keys...)
	return err
}

func (t *FlagTracker) DueForSync(ctx context.Context, modelType string) ([]string, error) {
	return t.vectors.SyncRequiredIDs(ctx, modelType)
}

func (t *FlagTracker) IsStale(ctx context.Context, key core.Key) (bool, error) {
	e, err := t.vectors.GetEmbedding(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.SyncRequired, nil
}

// Clear is a no-op: upserting a vector resets the flag.
func (t *FlagTracker) Clear(ctx context.Context, keys ...core.Key) error {
	return nil
}

// QueueTracker keeps staleness in a sync queue.
type QueueTracker struct {
	queue storage.SyncQueue
}

// NewQueueTracker creates a tracker over a sync queue.
func NewQueueTracker(queue storage.SyncQueue) *QueueTracker {
	return &QueueTracker{queue: queue}
}

func (t *QueueTracker) MarkStale(ctx context.Context, keys ...core.Key) error {
	return t.queue.Enqueue(ctx, keys...)
}

func (t *QueueTracker) DueForSync(ctx context.Context, modelType string) ([]string, error) {
	return t.queue.Members(ctx, modelType)
}

func (t *QueueTracker) IsStale(ctx context.Context, key core.Key) (bool, error) {
	return t.queue.Contains(ctx, key)
}

func (t *QueueTracker) Clear(ctx context.Context, keys ...core.Key) error {
	return t.queue.Dequeue(ctx, keys...)
}

// Variant names accepted by New.
const (
	VariantFlag  = "flag"
	VariantTable = "table"
	VariantRedis = "redis"
)

// New returns the tracker for a configured variant. The table and redis
// variants both use queue; which queue backs them is the caller's choice.
func New(variant string, vectors storage.VectorStore, queue storage.SyncQueue) (Tracker, error) {
	switch variant {
	case "", VariantFlag:
		if vectors == nil {
			return nil, fmt.Errorf("%w: flag staleness needs a vector store", core.ErrConfiguration)
		}
		return NewFlagTracker(vectors), nil
	case VariantTable, VariantRedis:
		if queue == nil {
			return nil, fmt.Errorf("%w: %s staleness needs a sync queue", core.ErrConfiguration, variant)
		}
		return NewQueueTracker(queue), nil
	}
	return nil, fmt.Errorf("%w: unknown staleness variant %q", core.ErrConfiguration, variant)
}

var (
	_ Tracker = (*FlagTracker)(nil)
	_ Tracker = (*QueueTracker)(nil)
)
