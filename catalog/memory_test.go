package catalog

import (
	"context"
	"testing"

	"github.com/poiesic/embedvector/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJobs(n int) *MemorySource {
	src := NewMemorySource("job")
	for i := 1; i <= n; i++ {
		status := "open"
		if i%2 == 0 {
			status = "closed"
		}
		src.Put(&Record{Key: int64(i), Text: "job", Fields: map[string]any{"status": status, "level": i}})
	}
	return src
}

func TestMemorySourceChunk(t *testing.T) {
	ctx := context.Background()
	src := seedJobs(7)

	var seen []int64
	after := int64(0)
	for {
		page, err := src.Chunk(ctx, Query{AfterKey: after, Limit: 3})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		for _, it := range page {
			seen = append(seen, it.PrimaryKey())
			assert.Equal(t, "job", it.EmbeddingType())
		}
		after = page[len(page)-1].PrimaryKey()
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seen)
}

func TestMemorySourceChunkWithIDs(t *testing.T) {
	ctx := context.Background()
	src := seedJobs(5)

	page, err := src.Chunk(ctx, Query{Limit: 10, IDs: []string{"4", "2", "9"}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2", page[0].EmbeddingID())
	assert.Equal(t, "4", page[1].EmbeddingID())

	page, err = src.Chunk(ctx, Query{Limit: 10, IDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemorySourceFetch(t *testing.T) {
	src := seedJobs(3)
	got, err := src.Fetch(context.Background(), []string{"3", "x", "42", "1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].EmbeddingID())
	assert.Equal(t, "1", got[1].EmbeddingID())
}

func TestMemorySourceFilterIDs(t *testing.T) {
	ctx := context.Background()
	src := seedJobs(6)

	ids, err := src.FilterIDs(ctx, filter.Eq("status", "open"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "5"}, ids)

	ids, err = src.FilterIDs(ctx, filter.And(filter.Eq("status", "closed"), filter.Gt("id", 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "6"}, ids)

	ids, err = src.FilterIDs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 6)

	ids, err = src.FilterIDs(ctx, filter.Eq("status", "archived"))
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestMemorySourcePutCopies(t *testing.T) {
	fields := map[string]any{"status": "open"}
	src := NewMemorySource("job", &Record{Key: 1, Type: "other", Fields: fields})
	fields["status"] = "closed"

	r, ok := src.Get(1)
	require.True(t, ok)
	assert.Equal(t, "job", r.Type)
	assert.Equal(t, "open", r.Field("status"))
}
