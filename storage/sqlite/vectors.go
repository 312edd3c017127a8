package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

const upsertEmbeddingSQL = `
INSERT INTO embeddings (model_id, model_type, embedding, embedding_sync_required, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (model_id, model_type) DO UPDATE SET
	embedding = excluded.embedding,
	embedding_sync_required = excluded.embedding_sync_required,
	updated_at = excluded.updated_at`

// GetEmbedding returns the stored embedding or storage.ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, key core.Key) (*core.Embedding, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		blob             []byte
		syncRequired     bool
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, embedding_sync_required, created_at, updated_at
		 FROM embeddings WHERE model_id = ? AND model_type = ?`,
		key.ModelID, key.ModelType).Scan(&blob, &syncRequired, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	vec, err := storage.DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	return &core.Embedding{
		ModelID:      key.ModelID,
		ModelType:    key.ModelType,
		Vector:       vec,
		SyncRequired: syncRequired,
		CreatedAt:    fromMicros(created),
		UpdatedAt:    fromMicros(updated),
	}, nil
}

// UpsertEmbeddings writes all embeddings in one transaction.
func (s *Store) UpsertEmbeddings(ctx context.Context, embeddings ...*core.Embedding) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(embeddings) == 0 {
		return nil
	}
	for _, e := range embeddings {
		if err := core.ValidateEmbedding(e); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertEmbeddingSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range embeddings {
			_, err := stmt.ExecContext(ctx, e.ModelID, e.ModelType, storage.EncodeVector(e.Vector),
				e.SyncRequired, micros(now), micros(now))
			if err != nil {
				return fmt.Errorf("upsert %s: %w", e.Key(), err)
			}
		}
		return nil
	})
}

// MarkSyncRequired flags the stored embeddings of the given keys as stale.
func (s *Store) MarkSyncRequired(ctx context.Context, keys ...core.Key) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	flagged := 0
	now := micros(time.Now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			res, err := tx.ExecContext(ctx,
				`UPDATE embeddings SET embedding_sync_required = 1, updated_at = ?
				 WHERE model_id = ? AND model_type = ?`, now, k.ModelID, k.ModelType)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			flagged += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flagged, nil
}

// SyncRequiredIDs returns the ids of stale embeddings of a type.
func (s *Store) SyncRequiredIDs(ctx context.Context, modelType string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx,
		`SELECT model_id FROM embeddings
		 WHERE model_type = ? AND embedding_sync_required = 1
		 ORDER BY model_id ASC`, modelType)
}

// Count returns the number of embeddings of a type.
func (s *Store) Count(ctx context.Context, modelType string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE model_type = ?`, modelType).Scan(&n)
	return n, err
}

// Nearest ranks the embeddings of a type with the registered distance function.
func (s *Store) Nearest(ctx context.Context, q storage.NearestQuery) ([]storage.Neighbor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.IDs != nil && len(q.IDs) == 0 {
		return nil, nil
	}

	where := []string{"model_type = ?"}
	args := []any{storage.EncodeVector(q.Vector), q.ModelType}
	if q.IDs != nil {
		list, err := jsonList(q.IDs)
		if err != nil {
			return nil, err
		}
		where = append(where, "model_id IN (SELECT value FROM json_each(?))")
		args = append(args, list)
	}
	if len(q.Exclude) > 0 {
		list, err := jsonList(q.Exclude)
		if err != nil {
			return nil, err
		}
		where = append(where, "model_id NOT IN (SELECT value FROM json_each(?))")
		args = append(args, list)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT model_id, %s(embedding, ?) AS distance
		FROM embeddings WHERE %s
		ORDER BY distance ASC, model_id ASC LIMIT ?`,
		distanceSQL(q.Metric), strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest %s: %w", q.ModelType, err)
	}
	defer rows.Close()

	var out []storage.Neighbor
	for rows.Next() {
		var n storage.Neighbor
		if err := rows.Scan(&n.ModelID, &n.Distance); err != nil {
			return nil, err
		}
		n.MatchPercent = core.MatchPercent(n.Distance)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
