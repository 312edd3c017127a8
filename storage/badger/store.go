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


package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

// Store implements storage.Store on BadgerDB. Vectors live apart from the
// application tables, so the matching engine always uses the cross-store
// strategy against it.
type Store struct {
	backend *Backend
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Store over an open backend. The store owns the backend
// and closes it on Close.
func NewStore(backend *Backend) *Store {
	return &Store{backend: backend}
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// GetEmbedding returns the stored embedding or storage.ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, key core.Key) (*core.Embedding, error) {
	var e *core.Embedding
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		e, err = readEmbedding(tx, key)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

// UpsertEmbeddings inserts or replaces embeddings.
func (s *Store) UpsertEmbeddings(ctx context.Context, embeddings ...*core.Embedding) error {
	for _, e := range embeddings {
		if err := core.ValidateEmbedding(e); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	return s.backend.WriteEach(len(embeddings), func(tx *badger.Txn, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := *embeddings[i]
		old, err := readEmbedding(tx, e.Key())
		if err != nil {
			return err
		}
		if old != nil {
			e.CreatedAt = old.CreatedAt
		} else if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		return writeEmbedding(tx, &e)
	})
}

// MarkSyncRequired flags existing embeddings as stale.
func (s *Store) MarkSyncRequired(ctx context.Context, keys ...core.Key) (int, error) {
	flagged := 0
	err := s.backend.WriteEach(len(keys), func(tx *badger.Txn, i int) error {
		e, err := readEmbedding(tx, keys[i])
		if err != nil || e == nil {
			return err
		}
		if !e.SyncRequired {
			e.SyncRequired = true
			e.UpdatedAt = time.Now().UTC()
			if err := writeEmbedding(tx, e); err != nil {
				return err
			}
		}
		flagged++
		return nil
	})
	return flagged, err
}

// SyncRequiredIDs returns the ids of stale embeddings of a type, sorted ascending.
func (s *Store) SyncRequiredIDs(ctx context.Context, modelType string) ([]string, error) {
	return s.idsUnder(makeSyncRequiredTypePrefix(modelType))
}

// Count returns the number of embeddings of a type.
func (s *Store) Count(ctx context.Context, modelType string) (int, error) {
	n := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachKey(tx, makeEmbeddingTypePrefix(modelType), func([]byte) error {
			n++
			return nil
		})
	}, false)
	return n, err
}

// Nearest scans every embedding of the type and ranks them in process.
func (s *Store) Nearest(ctx context.Context, q storage.NearestQuery) ([]storage.Neighbor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.IDs != nil && len(q.IDs) == 0 {
		return []storage.Neighbor{}, nil
	}
	accept := q.Candidates()

	neighbors := []storage.Neighbor{}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachValue(tx, makeEmbeddingTypePrefix(q.ModelType), func(val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := storage.UnmarshalEmbedding(val)
			if err != nil {
				return err
			}
			if !accept(e.ModelID) {
				return nil
			}
			n, err := storage.NewNeighbor(q.Metric, e.ModelID, q.Vector, e.Vector)
			if err != nil {
				return err
			}
			neighbors = append(neighbors, n)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return storage.RankNeighbors(neighbors, q.Limit), nil
}

// Enqueue adds keys to the sync queue.
func (s *Store) Enqueue(ctx context.Context, keys ...core.Key) error {
	return s.backend.WriteEach(len(keys), func(tx *badger.Txn, i int) error {
		return tx.Set(makeSyncQueueKey(keys[i]), nil)
	})
}

// Dequeue removes keys from the sync queue.
func (s *Store) Dequeue(ctx context.Context, keys ...core.Key) error {
	return s.backend.WriteEach(len(keys), func(tx *badger.Txn, i int) error {
		return tx.Delete(makeSyncQueueKey(keys[i]))
	})
}

// Members returns the queued ids of a type, sorted ascending.
func (s *Store) Members(ctx context.Context, modelType string) ([]string, error) {
	return s.idsUnder(makeSyncQueueTypePrefix(modelType))
}

// Contains reports whether the key is queued.
func (s *Store) Contains(ctx context.Context, key core.Key) (bool, error) {
	found := false
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeSyncQueueKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	}, false)
	return found, err
}

// idsUnder returns the key suffixes below prefix. Badger iterates in key
// order, so the result is sorted.
func (s *Store) idsUnder(prefix []byte) ([]string, error) {
	ids := []string{}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachKey(tx, prefix, func(key []byte) error {
			ids = append(ids, string(key[len(prefix):]))
			return nil
		})
	}, false)
	return ids, err
}

func readEmbedding(tx *badger.Txn, key core.Key) (*core.Embedding, error) {
	item, err := tx.Get(makeEmbeddingKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var e *core.Embedding
	err = item.Value(func(val []byte) error {
		var err error
		e, err = storage.UnmarshalEmbedding(val)
		return err
	})
	return e, err
}

// writeEmbedding stores the embedding and keeps the stale-flag index in step.
func writeEmbedding(tx *badger.Txn, e *core.Embedding) error {
	value, err := storage.MarshalEmbedding(e)
	if err != nil {
		return err
	}
	if err := tx.Set(makeEmbeddingKey(e.Key()), value); err != nil {
		return err
	}
	if e.SyncRequired {
		return tx.Set(makeSyncRequiredKey(e.Key()), nil)
	}
	return tx.Delete(makeSyncRequiredKey(e.Key()))
}
