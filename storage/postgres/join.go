package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/storage"
)

// SearchJoined ranks the records of a co-located table in one statement.
func (s *Store) SearchJoined(ctx context.Context, q storage.JoinQuery) ([]storage.JoinedRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if q.Source == nil {
		return nil, fmt.Errorf("%w: join query without source", storage.ErrInvalidQuery)
	}
	table := q.Source.Table()
	if !s.Colocated(table) {
		return nil, fmt.Errorf("%w: table %q is not in this database", storage.ErrInvalidQuery, table.Name)
	}
	nq := storage.NearestQuery{ModelType: q.Source.Type(), Vector: q.Vector, Metric: q.Metric, Limit: q.Limit}
	if err := nq.Validate(); err != nil {
		return nil, err
	}

	columns := q.Source.ColumnNames()
	query, args, err := joinSQL(q, table, columns)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("joined search %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []storage.JoinedRow
	for rows.Next() {
		var (
			modelID string
			row     storage.JoinedRow
		)
		fields, err := catalog.ScanFields(rows, columns, &modelID, &row.Distance, &row.MatchPercent)
		if err != nil {
			return nil, err
		}
		row.Fields = fields
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("joined search", "table", table.Name, "metric", q.Metric, "rows", len(out))
	return out, nil
}

// joinSQL renders the joined ranking statement. The match percent is
// computed in SQL with the same formula as core.MatchPercent.
func joinSQL(q storage.JoinQuery, table *catalog.Table, columns []string) (string, []any, error) {
	selects := make([]string, len(columns))
	for i, c := range columns {
		selects[i] = filter.Column("t", c) + " AS " + filter.Column("", c)
	}

	ph := filter.NewPlaceholders(filter.Dollar, 0)
	vecParam, typeParam := ph.Next(), ph.Next()
	args := []any{pgvector.NewVector(q.Vector), q.Source.Type()}

	where, filterArgs, err := q.Filter.ToSQL(ph, "t")
	if err != nil {
		return "", nil, err
	}
	args = append(args, filterArgs...)
	if len(q.Exclude) > 0 {
		where += " AND NOT (e.model_id = ANY(" + ph.Next() + "))"
		args = append(args, stringArray(q.Exclude))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT r.*, GREATEST(0.0, LEAST(100.0, (1.0 - r.__distance / 2.0) * 100.0)) AS __match_percent
		FROM (
			SELECT %s, e.model_id AS __model_id, %s AS __distance
			FROM %s AS t
			JOIN embeddings AS e ON e.model_id = CAST(%s AS TEXT) AND e.model_type = %s
			WHERE %s
		) AS r
		ORDER BY r.__distance ASC, r.__model_id COLLATE "C" ASC
		LIMIT %s`,
		strings.Join(selects, ", "), distanceSQL(q.Metric, "e.embedding", vecParam),
		filter.Column("", table.Name), filter.Column("t", table.Key), typeParam,
		where, ph.Next())
	return query, args, nil
}
