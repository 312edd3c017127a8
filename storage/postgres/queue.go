package postgres

import (
	"context"
	"database/sql"

	"github.com/poiesic/embedvector/core"
)

// Enqueue adds keys to the sync queue.
func (s *Store) Enqueue(ctx context.Context, keys ...core.Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO sync_embedding_queues (model_id, model_type)
				 VALUES ($1, $2) ON CONFLICT (model_id, model_type) DO NOTHING`,
				k.ModelID, k.ModelType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Dequeue removes keys from the sync queue.
func (s *Store) Dequeue(ctx context.Context, keys ...core.Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM sync_embedding_queues WHERE model_id = $1 AND model_type = $2`,
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
		`SELECT model_id FROM sync_embedding_queues WHERE model_type = $1 ORDER BY model_id COLLATE "C" ASC`,
		modelType)
}

// Contains reports whether the key is queued.
func (s *Store) Contains(ctx context.Context, key core.Key) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sync_embedding_queues WHERE model_id = $1 AND model_type = $2)`,
		key.ModelID, key.ModelType).Scan(&ok)
	return ok, err
}
