package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/storage"
)

// SearchJoined ranks the records of a co-located table in one statement:
// the table is joined with its embeddings, the filter is applied to the table
// columns, and distance and match percent are computed in SQL.
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
	selects := make([]string, len(columns))
	for i, c := range columns {
		selects[i] = filter.Column("t", c) + " AS " + filter.Column("", c)
	}

	// the vector and model type are bound ahead of the filter
	ph := filter.NewPlaceholders(filter.Question, 2)
	args := []any{storage.EncodeVector(q.Vector), q.Source.Type()}

	where, filterArgs, err := q.Filter.ToSQL(ph, "t")
	if err != nil {
		return nil, err
	}
	args = append(args, filterArgs...)
	if len(q.Exclude) > 0 {
		list, err := jsonList(q.Exclude)
		if err != nil {
			return nil, err
		}
		where += " AND e.model_id NOT IN (SELECT value FROM json_each(" + ph.Next() + "))"
		args = append(args, list)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT *, MAX(0.0, MIN(100.0, (1.0 - __distance / 2.0) * 100.0)) AS __match_percent
		FROM (
			SELECT %s, e.model_id AS __model_id, %s(e.embedding, ?) AS __distance
			FROM %s AS t
			JOIN embeddings AS e ON e.model_id = CAST(%s AS TEXT) AND e.model_type = ?
			WHERE %s
		)
		ORDER BY __distance ASC, __model_id ASC
		LIMIT ?`,
		strings.Join(selects, ", "), distanceSQL(q.Metric),
		filter.Column("", table.Name), filter.Column("t", table.Key), where)

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
