package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

const batchColumns = `batch_id, input_file_id, output_file_id, saved_file_path,
	embeddable_model, status, error_message, created_at, updated_at`

// CreateBatch stores a new batch.
func (s *Store) CreateBatch(ctx context.Context, b *core.Batch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := core.ValidateBatch(b); err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_batches (`+batchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (batch_id) DO NOTHING`,
		b.BatchID, b.InputFileID, nullString(b.OutputFileID), nullString(b.SavedFilePath),
		b.EmbeddableModel, string(b.Status), nullString(b.ErrorMessage),
		micros(b.CreatedAt), micros(b.UpdatedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: batch %s", storage.ErrDuplicateKey, b.BatchID)
	}
	return nil
}

// GetBatch returns the batch or storage.ErrNotFound.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*core.Batch, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM embedding_batches WHERE batch_id = ?`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", storage.ErrNotFound, batchID)
	}
	return b, err
}

// UpdateBatch replaces a stored batch if the status transition is allowed.
// The check and the write happen in a single statement.
func (s *Store) UpdateBatch(ctx context.Context, b *core.Batch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := core.ValidateBatch(b); err != nil {
		return err
	}
	from, err := jsonList(core.AllowedFrom(b.Status))
	if err != nil {
		return err
	}
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE embedding_batches SET
			input_file_id = ?, output_file_id = ?, saved_file_path = ?,
			embeddable_model = ?, status = ?, error_message = ?, updated_at = ?
		 WHERE batch_id = ? AND status IN (SELECT value FROM json_each(?))`,
		b.InputFileID, nullString(b.OutputFileID), nullString(b.SavedFilePath),
		b.EmbeddableModel, string(b.Status), nullString(b.ErrorMessage), micros(b.UpdatedAt),
		b.BatchID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := s.GetBatch(ctx, b.BatchID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s (batch %s)", core.ErrInvalidTransition, current.Status, b.Status, b.BatchID)
}

// ListBatches returns batches in the given statuses, oldest first.
func (s *Store) ListBatches(ctx context.Context, statuses ...core.BatchStatus) ([]*core.Batch, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `SELECT ` + batchColumns + ` FROM embedding_batches`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		list, err := jsonList(names)
		if err != nil {
			return nil, err
		}
		query += ` WHERE status IN (SELECT value FROM json_each(?))`
		args = append(args, list)
	}
	query += ` ORDER BY created_at ASC, batch_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*core.Batch, error) {
	var (
		b                     core.Batch
		status                string
		output, saved, errMsg sql.NullString
		created, updated      int64
	)
	err := row.Scan(&b.BatchID, &b.InputFileID, &output, &saved,
		&b.EmbeddableModel, &status, &errMsg, &created, &updated)
	if err != nil {
		return nil, err
	}
	b.OutputFileID = output.String
	b.SavedFilePath = saved.String
	b.ErrorMessage = errMsg.String
	b.Status = core.BatchStatus(status)
	b.CreatedAt = fromMicros(created)
	b.UpdatedAt = fromMicros(updated)
	return &b, nil
}
