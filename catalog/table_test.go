package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openJobsTable(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE jobs (id INTEGER PRIMARY KEY, title TEXT, description TEXT, status TEXT, salary INTEGER)`)
	require.NoError(t, err)
	rows := []struct {
		id     int
		title  string
		status string
		salary any
	}{
		{1, "Go developer", "open", 100},
		{2, "Rust developer", "closed", 120},
		{3, "Data engineer", "open", nil},
		{4, "SRE", "open", 90},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO jobs (id, title, description, status, salary) VALUES (?, ?, ?, ?, ?)`,
			r.id, r.title, "desc "+r.title, r.status, r.salary)
		require.NoError(t, err)
	}
	return db
}

func newJobsSource(t *testing.T, db *sql.DB) *TableSource {
	t.Helper()
	src, err := NewTableSource("job", &Table{
		DB:          db,
		Name:        "jobs",
		Columns:     []string{"status", "salary"},
		TextColumns: []string{"title", "description"},
	})
	require.NoError(t, err)
	return src
}

func TestNewTableSourceValidation(t *testing.T) {
	_, err := NewTableSource("job", nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	db := openJobsTable(t)
	_, err = NewTableSource("job", &Table{DB: db, Name: "jobs; drop", TextColumns: []string{"title"}})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewTableSource("job", &Table{DB: db, Name: "jobs"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestTableSourceChunk(t *testing.T) {
	ctx := context.Background()
	src := newJobsSource(t, openJobsTable(t))

	page, err := src.Chunk(ctx, Query{AfterKey: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].PrimaryKey())
	assert.Equal(t, int64(3), page[1].PrimaryKey())
	assert.Equal(t, "Rust developer desc Rust developer", page[0].EmbeddingText())
	assert.Equal(t, "job", page[0].EmbeddingType())

	page, err = src.Chunk(ctx, Query{Limit: 10, IDs: []string{"4", "1"}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].EmbeddingID())
	assert.Equal(t, "4", page[1].EmbeddingID())

	page, err = src.Chunk(ctx, Query{Limit: 10, IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestTableSourceFetch(t *testing.T) {
	src := newJobsSource(t, openJobsTable(t))
	got, err := src.Fetch(context.Background(), []string{"3", "99"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	rec := got[0].(*Record)
	assert.Equal(t, "open", rec.Field("status"))
	assert.Nil(t, rec.Field("salary"))
}

func TestTableSourceFilterIDs(t *testing.T) {
	ctx := context.Background()
	src := newJobsSource(t, openJobsTable(t))

	ids, err := src.FilterIDs(ctx, filter.And(filter.Eq("status", "open"), filter.Gte("salary", 95)))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	ids, err = src.FilterIDs(ctx, filter.IsNull("salary"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids)

	ids, err = src.FilterIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)

	ids, err = src.FilterIDs(ctx, filter.Eq("status", "archived"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
