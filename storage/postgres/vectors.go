package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/storage"
)

const upsertEmbeddingSQL = `
INSERT INTO embeddings (model_id, model_type, embedding, embedding_sync_required, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (model_id, model_type) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	embedding_sync_required = EXCLUDED.embedding_sync_required,
	updated_at = EXCLUDED.updated_at`

// GetEmbedding returns the stored embedding or storage.ErrNotFound.
func (s *Store) GetEmbedding(ctx context.Context, key core.Key) (*core.Embedding, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var vec pgvector.Vector
	e := &core.Embedding{ModelID: key.ModelID, ModelType: key.ModelType}
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, embedding_sync_required, created_at, updated_at
		 FROM embeddings WHERE model_id = $1 AND model_type = $2`,
		key.ModelID, key.ModelType).Scan(&vec, &e.SyncRequired, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Vector = vec.Slice()
	return e, nil
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
		if s.dimensions > 0 && len(e.Vector) != s.dimensions {
			return fmt.Errorf("%w: %s has %d dimensions, column has %d",
				core.ErrDimensionMismatch, e.Key(), len(e.Vector), s.dimensions)
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
			_, err := stmt.ExecContext(ctx, e.ModelID, e.ModelType, pgvector.NewVector(e.Vector), e.SyncRequired, now)
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
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			res, err := tx.ExecContext(ctx,
				`UPDATE embeddings SET embedding_sync_required = TRUE, updated_at = $1
				 WHERE model_id = $2 AND model_type = $3`, now, k.ModelID, k.ModelType)
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
		 WHERE model_type = $1 AND embedding_sync_required
		 ORDER BY model_id COLLATE "C" ASC`, modelType)
}

// Count returns the number of embeddings of a type.
func (s *Store) Count(ctx context.Context, modelType string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE model_type = $1`, modelType).Scan(&n)
	return n, err
}

// Nearest ranks the embeddings of a type with pgvector's distance operators.
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

	query, args := nearestSQL(q)
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

// nearestSQL renders the nearest-neighbour statement for q.
func nearestSQL(q storage.NearestQuery) (string, []any) {
	ph := filter.NewPlaceholders(filter.Dollar, 0)
	vecParam := ph.Next()
	where := []string{"model_type = " + ph.Next()}
	args := []any{pgvector.NewVector(q.Vector), q.ModelType}
	if q.IDs != nil {
		where = append(where, "model_id = ANY("+ph.Next()+")")
		args = append(args, stringArray(q.IDs))
	}
	if len(q.Exclude) > 0 {
		where = append(where, "NOT (model_id = ANY("+ph.Next()+"))")
		args = append(args, stringArray(q.Exclude))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT model_id, %s AS distance
		FROM embeddings WHERE %s
		ORDER BY distance ASC, model_id COLLATE "C" ASC LIMIT %s`,
		distanceSQL(q.Metric, "embedding", vecParam), strings.Join(where, " AND "), ph.Next())
	return query, args
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
