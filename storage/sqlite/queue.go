package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/poiesic/embedvector/core"
)

// Enqueue adds keys to sync_embedding_queues. Existing members are kept.
func (s *Store) Enqueue(ctx context.Context, keys ...core.Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	now := micros(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO sync_embedding_queues (model_id, model_type, created_at)
				 VALUES (?, ?, ?) ON CONFLICT (model_id, model_type) DO NOTHING`,
				k.ModelID, k.ModelType, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Dequeue removes keys from the queue.
func (s *Store) Dequeue(ctx context.Context, keys ...core.Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM sync_embedding_queues WHERE model_id = ? AND model_type = ?`,
				k.ModelID, k.ModelType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Members returns the queued ids of a type.
func (s *Store) Members(ctx context.Context, modelType string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx,
		`SELECT model_id FROM sync_embedding_queues WHERE model_type = ? ORDER BY model_id ASC`,
		modelType)
}

// Contains reports whether the key is queued.
func (s *Store) Contains(ctx context.Context, key core.Key) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_embedding_queues WHERE model_id = ? AND model_type = ?`,
		key.ModelID, key.ModelType).Scan(&n)
	return n > 0, err
}
