package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
)

// TableCapability names the interface that allows same-store joins.
const TableCapability = "catalog.TableBacked"

// Table describes a SQL table holding the records of one type.
type Table struct {
	DB      *sql.DB
	Dialect filter.Dialect

	// Name is the table name.
	Name string

	// Key is the integer primary key column. Defaults to "id".
	Key string

	// Columns are loaded into Record.Fields and may be referenced by filters.
	Columns []string

	// TextColumns are joined with a space to form the embedding text when
	// Text is nil.
	TextColumns []string

	// Text builds the embedding text from a row. Optional.
	Text func(fields map[string]any) string
}

// TableBacked is implemented by sources whose records live in a SQL table.
type TableBacked interface {
	Source

	// Table returns the table description.
	Table() *Table

	// ColumnNames returns the columns loaded for each record, key first.
	ColumnNames() []string

	// RecordFromRow builds a Record from column values keyed by column name.
	RecordFromRow(fields map[string]any) (*Record, error)
}

// TableSource is a Source reading records from a SQL table.
type TableSource struct {
	modelType string
	table     *Table
	columns   []string
}

var _ TableBacked = (*TableSource)(nil)

// NewTableSource validates the table description and creates a source.
func NewTableSource(modelType string, table *Table) (*TableSource, error) {
	if table == nil || table.DB == nil {
		return nil, fmt.Errorf("%w: table source %q needs a database", core.ErrConfiguration, modelType)
	}
	if table.Key == "" {
		table.Key = "id"
	}
	names := append([]string{table.Name, table.Key}, table.Columns...)
	names = append(names, table.TextColumns...)
	for _, n := range names {
		if err := filter.Eq(n, 0).Validate(); err != nil {
			return nil, fmt.Errorf("%w: table %q: %w", core.ErrConfiguration, table.Name, err)
		}
	}
	if table.Text == nil && len(table.TextColumns) == 0 {
		return nil, fmt.Errorf("%w: table %q has no text projection", core.ErrConfiguration, table.Name)
	}

	cols := []string{table.Key}
	seen := map[string]bool{table.Key: true}
	for _, c := range append(append([]string{}, table.Columns...), table.TextColumns...) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return &TableSource{modelType: modelType, table: table, columns: cols}, nil
}

func (s *TableSource) Type() string  { return s.modelType }
func (s *TableSource) Table() *Table { return s.table }

// SelectColumns returns the qualified column list loaded for every record.
func (s *TableSource) SelectColumns(qualifier string) []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = filter.Column(qualifier, c)
	}
	return out
}

// ColumnNames returns the unqualified column names in select order.
func (s *TableSource) ColumnNames() []string {
	return append([]string(nil), s.columns...)
}

func (s *TableSource) RecordFromRow(fields map[string]any) (*Record, error) {
	key, ok := asInt64(fields[s.table.Key])
	if !ok {
		return nil, fmt.Errorf("table %q: key column %q is not an integer: %v", s.table.Name, s.table.Key, fields[s.table.Key])
	}
	rec := &Record{Key: key, Type: s.modelType, Fields: fields}
	if s.table.Text != nil {
		rec.Text = s.table.Text(fields)
	} else {
		parts := make([]string, 0, len(s.table.TextColumns))
		for _, c := range s.table.TextColumns {
			if v := fields[c]; v != nil {
				parts = append(parts, fmt.Sprint(v))
			}
		}
		rec.Text = strings.Join(parts, " ")
	}
	return rec, nil
}

// KeySetSQL renders a predicate restricting the key column to keys, using a
// single bound parameter.
func (t *Table) KeySetSQL(ph *filter.Placeholders, qualifier string, keys []int64) (string, any, error) {
	col := filter.Column(qualifier, t.Key)
	if t.Dialect == filter.Dollar {
		return col + " = ANY(" + ph.Next() + ")", pq.Array(keys), nil
	}
	b, err := json.Marshal(keys)
	if err != nil {
		return "", nil, err
	}
	return col + " IN (SELECT value FROM json_each(" + ph.Next() + "))", string(b), nil
}

func (s *TableSource) Chunk(ctx context.Context, q Query) ([]Item, error) {
	ph := filter.NewPlaceholders(s.table.Dialect, 0)
	where := []string{filter.Column("t", s.table.Key) + " > " + ph.Next()}
	args := []any{q.AfterKey}
	if q.IDs != nil {
		keys := parseKeys(q.IDs)
		if len(keys) == 0 {
			return nil, nil
		}
		clause, arg, err := s.table.KeySetSQL(ph, "t", keys)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, arg)
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s ORDER BY %s ASC",
		strings.Join(s.SelectColumns("t"), ", "), filter.Column("", s.table.Name),
		strings.Join(where, " AND "), filter.Column("t", s.table.Key))
	if q.Limit > 0 {
		query += " LIMIT " + ph.Next()
		args = append(args, q.Limit)
	}

	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(records))
	for i, r := range records {
		items[i] = r
	}
	return items, nil
}

func (s *TableSource) Fetch(ctx context.Context, ids []string) ([]core.Embeddable, error) {
	keys := parseKeys(ids)
	if len(keys) == 0 {
		return nil, nil
	}
	ph := filter.NewPlaceholders(s.table.Dialect, 0)
	clause, arg, err := s.table.KeySetSQL(ph, "t", keys)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s",
		strings.Join(s.SelectColumns("t"), ", "), filter.Column("", s.table.Name), clause)
	records, err := s.query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	out := make([]core.Embeddable, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out, nil
}

func (s *TableSource) FilterIDs(ctx context.Context, expr *filter.Expr) ([]string, error) {
	ph := filter.NewPlaceholders(s.table.Dialect, 0)
	where, args, err := expr.ToSQL(ph, "t")
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s ORDER BY %s ASC",
		filter.Column("t", s.table.Key), filter.Column("", s.table.Name), where, filter.Column("t", s.table.Key))
	rows, err := s.table.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var key int64
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		ids = append(ids, FormatKey(key))
	}
	return ids, rows.Err()
}

func (s *TableSource) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.table.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		fields, err := ScanFields(rows, s.columns)
		if err != nil {
			return nil, err
		}
		rec, err := s.RecordFromRow(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ScanFields scans the first len(names) columns of the current row into a
// map keyed by name. Any further columns are scanned into extra.
func ScanFields(rows *sql.Rows, names []string, extra ...any) (map[string]any, error) {
	values := make([]any, len(names))
	dest := make([]any, 0, len(names)+len(extra))
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(names))
	for i, n := range names {
		if b, ok := values[i].([]byte); ok {
			fields[n] = string(b)
			continue
		}
		fields[n] = values[i]
	}
	return fields, nil
}

func parseKeys(ids []string) []int64 {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		if k, ok := ParseKey(id); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case string:
		return ParseKey(n)
	}
	return 0, false
}
