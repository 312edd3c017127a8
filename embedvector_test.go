package embedvector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/embedvector/ai/mock"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/config"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/matching"
	badgerstore "github.com/poiesic/embedvector/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "embedvector.db")
	cfg.Batch.InputDir = filepath.Join(dir, "input")
	cfg.Batch.OutputDir = filepath.Join(dir, "output")
	cfg.Embed.RetryDelay = 0
	return cfg
}

func jobSource(n int) *catalog.MemorySource {
	src := catalog.NewMemorySource("job")
	for i := 1; i <= n; i++ {
		src.Put(&catalog.Record{
			Key: int64(i), Type: "job", Text: fmt.Sprintf("job %d", i),
			Fields: map[string]any{"title": fmt.Sprintf("job %d", i), "open": i%2 == 1},
		})
	}
	return src
}

var customer = &catalog.Record{Key: 1, Type: "customer", Text: "customer one"}

func completeAll(t *testing.T, provider *mock.MockProvider) {
	t.Helper()
	client := provider.GetMockBatchClient()
	for _, id := range client.JobIDs() {
		job, err := client.GetJobStatus(context.Background(), id)
		require.NoError(t, err)
		if job.Status == "completed" {
			continue
		}
		require.NoError(t, client.CompleteJob(context.Background(), id, provider.Embedder()))
	}
}

func TestNew(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverBadger, config.DriverChromem} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Storage.Driver = driver
			if driver != config.DriverSQLite {
				cfg.Storage.Path = filepath.Join(t.TempDir(), driver)
			}

			sys, err := New(cfg, WithProvider(mock.NewMockProvider()))
			require.NoError(t, err)
			assert.NotNil(t, sys.Store())
			assert.NotNil(t, sys.Batches())
			assert.NotNil(t, sys.Engine())
			assert.NotNil(t, sys.Tracker())
			assert.Same(t, cfg, sys.Config())
			assert.NoError(t, sys.Close())
		})
	}
}

func TestNewErrors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := New(testConfig(t))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Matching.Distance = "dot"
		_, err := New(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("badger path is a file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Driver = config.DriverBadger
		cfg.Storage.Path = filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(cfg.Storage.Path, []byte("test"), 0644))

		sys, err := New(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrFileOperationFailed)
		assert.Nil(t, sys)
	})

	t.Run("duplicate source", func(t *testing.T) {
		_, err := New(testConfig(t), WithProvider(mock.NewMockProvider()), WithSources(jobSource(1), jobSource(2)))
		assert.Error(t, err)
	})
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sync.Queue = "table"
	cfg.Sync.Fields = map[string][]string{"job": {"title"}}
	provider := mock.NewMockProvider()

	sys, err := New(cfg, WithProvider(provider), WithSources(jobSource(10)), WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer sys.Close()
	require.NoError(t, sys.Register(catalog.NewMemorySource("customer", customer)))

	out, err := sys.Embed(ctx, core.ModeInit)
	require.NoError(t, err)
	assert.True(t, out.Success, "%v", out.Messages)
	assert.Len(t, provider.GetMockBatchClient().JobIDs(), 2, "one file per type")

	completeAll(t, provider)
	out, err = sys.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, out.Success, "%v", out.Messages)

	for typ, want := range map[string]int{"job": 10, "customer": 1} {
		n, err := sys.Store().Count(ctx, typ)
		require.NoError(t, err)
		assert.Equal(t, want, n, typ)
	}

	calls := provider.GetMockEmbedder().CallCount()
	matches, err := sys.Match(ctx, matching.Request{Source: customer, TargetType: "job", TopK: 3})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	assert.Equal(t, calls, provider.GetMockEmbedder().CallCount(), "source vector came from the batch")

	// A watched field change queues the record and sync mode re-embeds it.
	job4 := &catalog.Record{Key: 4, Type: "job"}
	marked, err := sys.Observe(ctx, job4, map[string]any{"title": "job 4"}, map[string]any{"title": "job four"})
	require.NoError(t, err)
	assert.True(t, marked)
	due, err := sys.Tracker().DueForSync(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, due)

	out, err = sys.Embed(ctx, core.ModeSync, "job")
	require.NoError(t, err)
	assert.True(t, out.Success, "%v", out.Messages)
	completeAll(t, provider)
	_, err = sys.Poll(ctx)
	require.NoError(t, err)

	due, err = sys.Tracker().DueForSync(ctx, "job")
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEmbedNow(t *testing.T) {
	ctx := context.Background()
	provider := mock.NewMockProvider()
	sys, err := New(testConfig(t), WithProvider(provider), WithSources(jobSource(7)))
	require.NoError(t, err)
	defer sys.Close()

	result, err := sys.EmbedNow(ctx, "job", core.ModeInit)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Processed)

	n, err := sys.Store().Count(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = sys.EmbedNow(ctx, "invoice", core.ModeInit)
	assert.ErrorIs(t, err, core.ErrInvalidModel)
}

func TestRedisSyncQueue(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Sync.Queue = "redis"
	cfg.Sync.RedisAddr = mr.Addr()
	cfg.Sync.Fields = map[string][]string{"job": {"title"}}

	sys, err := New(cfg, WithProvider(mock.NewMockProvider()), WithSources(jobSource(3)))
	require.NoError(t, err)

	job := &catalog.Record{Key: 2, Type: "job"}
	marked, err := sys.Observe(ctx, job, map[string]any{"title": "a"}, map[string]any{"title": "b"})
	require.NoError(t, err)
	assert.True(t, marked)

	unchanged, err := sys.Observe(ctx, job, map[string]any{"title": "a", "open": true}, map[string]any{"title": "a", "open": false})
	require.NoError(t, err)
	assert.False(t, unchanged, "open is not a watched field")

	due, err := sys.Tracker().DueForSync(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, due)

	result, err := sys.EmbedNow(ctx, "job", core.ModeSync)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.NoError(t, sys.Close())

	members, err := mr.SMembers("embedvector:syncq:job")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestConfiguredSources(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := sql.Open("sqlite", cfg.Storage.Path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE jobs (id INTEGER PRIMARY KEY, title TEXT NOT NULL, status TEXT NOT NULL)`)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		status := "closed"
		if i%2 == 1 {
			status = "open"
		}
		_, err = db.Exec(`INSERT INTO jobs (id, title, status) VALUES (?, ?, ?)`, i, fmt.Sprintf("job %d", i), status)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cfg.Matching.Strategy = string(matching.StrategyOptimized)
	cfg.Sources = []config.SourceConfig{{
		Type: "job", Table: "jobs", Columns: []string{"status"}, TextColumns: []string{"title"},
	}}
	sys, err := New(cfg, WithProvider(mock.NewMockProvider()), WithSources(catalog.NewMemorySource("customer", customer)))
	require.NoError(t, err)
	defer sys.Close()
	assert.ElementsMatch(t, []string{"customer", "job"}, sys.Registry().Types())

	result, err := sys.EmbedNow(ctx, "job", core.ModeInit)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Processed)

	matches, err := sys.Match(ctx, matching.Request{
		Source: customer, TargetType: "job", TopK: 10, Filter: filter.Eq("status", "open"),
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, "open", m.Item.(*catalog.Record).Fields["status"])
	}
}

func TestConfiguredSourceNeedsSQLStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = []config.SourceConfig{{Type: "job", Table: "jobs", TextColumns: []string{"title"}}}

	store, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)

	_, err = New(cfg, WithProvider(mock.NewMockProvider()), WithStore(store))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
