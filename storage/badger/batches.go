package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

// CreateBatch stores a new batch and its creation-order index entry.
func (s *Store) CreateBatch(ctx context.Context, b *core.Batch) error {
	if err := core.ValidateBatch(b); err != nil {
		return err
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		existing, err := readBatch(tx, b.BatchID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: batch %s", storage.ErrDuplicateKey, b.BatchID)
		}

		now := time.Now().UTC()
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		b.UpdatedAt = now
		if err := writeBatch(tx, b); err != nil {
			return err
		}
		if err := tx.Set(makeBatchOrderKey(b.CreatedAt, b.BatchID), []byte(b.BatchID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetBatch returns the batch or storage.ErrNotFound.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*core.Batch, error) {
	var b *core.Batch
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		b, err = readBatch(tx, batchID)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

// UpdateBatch replaces a stored batch if the status change is allowed. The
// read and the write share one transaction, so a concurrent update makes the
// commit fail with badger.ErrConflict instead of regressing the status.
func (s *Store) UpdateBatch(ctx context.Context, b *core.Batch) error {
	if err := core.ValidateBatch(b); err != nil {
		return err
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		old, err := readBatch(tx, b.BatchID)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}
		if !core.CanTransition(old.Status, b.Status) {
			return fmt.Errorf("%w: batch %s from %s to %s", core.ErrInvalidTransition, b.BatchID, old.Status, b.Status)
		}

		b.CreatedAt = old.CreatedAt
		b.UpdatedAt = time.Now().UTC()
		if err := writeBatch(tx, b); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListBatches walks the creation-order index and returns matching batches.
func (s *Store) ListBatches(ctx context.Context, statuses ...core.BatchStatus) ([]*core.Batch, error) {
	var out []*core.Batch
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachValue(tx, []byte(batchOrderPrefix+":"), func(val []byte) error {
			b, err := readBatch(tx, string(val))
			if err != nil {
				return err
			}
			if b == nil {
				return nil
			}
			if len(statuses) == 0 || slices.Contains(statuses, b.Status) {
				out = append(out, b)
			}
			return nil
		})
	}, false)
	return out, err
}

func readBatch(tx *badger.Txn, batchID string) (*core.Batch, error) {
	item, err := tx.Get(makeBatchKey(batchID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var b *core.Batch
	err = item.Value(func(val []byte) error {
		var err error
		b, err = storage.UnmarshalBatch(val)
		return err
	})
	return b, err
}

func writeBatch(tx *badger.Txn, b *core.Batch) error {
	value, err := storage.MarshalBatch(b)
	if err != nil {
		return err
	}
	return tx.Set(makeBatchKey(b.BatchID), value)
}
