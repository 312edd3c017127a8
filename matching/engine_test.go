package matching

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/poiesic/embedvector/ai/mock"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/staleness"
	"github.com/poiesic/embedvector/storage"
	badgerstore "github.com/poiesic/embedvector/storage/badger"
	"github.com/poiesic/embedvector/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobVector places job i on the unit circle so that rank follows id.
func jobVector(i int) []float32 {
	theta := float64(i) * 0.15
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}
}

func jobStatus(i int) string {
	if i%2 == 1 {
		return "open"
	}
	return "closed"
}

var customer = &catalog.Record{Key: 1, Type: "customer", Text: "customer one"}

type fixture struct {
	store    *sqlite.Store
	jobs     *catalog.TableSource
	registry *catalog.Registry
	embedder *mock.MockEmbedder
}

// newFixture keeps ten jobs in the same SQLite database as the vectors.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE jobs (id INTEGER PRIMARY KEY, title TEXT, status TEXT)`)
	require.NoError(t, err)
	store, err := sqlite.New(db)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		_, err := db.Exec(`INSERT INTO jobs (id, title, status) VALUES (?, ?, ?)`, i, "job", jobStatus(i))
		require.NoError(t, err)
		require.NoError(t, store.UpsertEmbeddings(ctx, &core.Embedding{
			ModelID: catalog.FormatKey(int64(i)), ModelType: "job", Vector: jobVector(i),
		}))
	}
	require.NoError(t, store.UpsertEmbeddings(ctx, &core.Embedding{
		ModelID: "1", ModelType: "customer", Vector: []float32{1, 0},
	}))

	jobs, err := catalog.NewTableSource("job", &catalog.Table{
		DB: db, Name: "jobs", Columns: []string{"status"}, TextColumns: []string{"title"},
	})
	require.NoError(t, err)
	registry, err := catalog.NewRegistry(jobs)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		jobs:     jobs,
		registry: registry,
		embedder: &mock.MockEmbedder{Dimensions: 2},
	}
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(f.registry, f.store, f.embedder, opts...)
	require.NoError(t, err)
	return e
}

func ids(matches []core.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Item.EmbeddingID()
	}
	return out
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewEngine(nil, f.store, f.embedder)
	assert.ErrorIs(t, err, ErrRegistryRequired)
	_, err = NewEngine(f.registry, nil, f.embedder)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewEngine(f.registry, f.store, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewEngine(f.registry, f.store, f.embedder, WithMetric("manhattan"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = NewEngine(f.registry, f.store, f.embedder, WithStrategy("fastest"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestStrategiesAgree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	optimized := f.engine(t, WithStrategy(StrategyOptimized))
	cross := f.engine(t, WithStrategy(StrategyCrossConnection))

	cases := []struct {
		name   string
		topK   int
		filter *filter.Expr
		want   []string
	}{
		{"unfiltered", 4, nil, []string{"1", "2", "3", "4"}},
		{"open only", 3, filter.Eq("status", "open"), []string{"1", "3", "5"}},
		{"compound", 10, filter.And(filter.Eq("status", "open"), filter.Gt("id", 4)), []string{"5", "7", "9"}},
		{"more than available", 20, filter.Eq("status", "closed"), []string{"2", "4", "6", "8", "10"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := Request{Source: customer, TargetType: "job", TopK: tc.topK, Filter: tc.filter}
			a, err := optimized.Match(ctx, req)
			require.NoError(t, err)
			b, err := cross.Match(ctx, req)
			require.NoError(t, err)

			assert.Equal(t, tc.want, ids(a))
			assert.Equal(t, tc.want, ids(b))
			for i := range a {
				assert.InDelta(t, a[i].Distance, b[i].Distance, 1e-6)
				assert.InDelta(t, a[i].MatchPercent, b[i].MatchPercent, 1e-6)
			}
		})
	}
}

func TestMatchResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.engine(t)

	matches, err := e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.InDelta(t, 1-math.Cos(0.15), matches[0].Distance, 1e-6)
	assert.InDelta(t, core.MatchPercent(matches[0].Distance), matches[0].MatchPercent, 1e-6)
	assert.Greater(t, matches[0].MatchPercent, matches[1].MatchPercent)

	rec, ok := matches[0].Item.(*catalog.Record)
	require.True(t, ok)
	assert.Equal(t, "job", rec.EmbeddingType())
	assert.Equal(t, "open", rec.Field("status"))
	assert.Equal(t, "job", rec.EmbeddingText())
}

func TestMatchL2Metric(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, s := range []Strategy{StrategyOptimized, StrategyCrossConnection} {
		e := f.engine(t, WithMetric(core.MetricL2), WithStrategy(s))
		matches, err := e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 1})
		require.NoError(t, err, s)
		require.Len(t, matches, 1)
		assert.Equal(t, "1", matches[0].Item.EmbeddingID())
		assert.InDelta(t, core.L2Distance([]float32{1, 0}, jobVector(1)), matches[0].Distance, 1e-6)
	}
}

func TestMatchExcludesSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job1 := &catalog.Record{Key: 1, Type: "job", Text: "job"}

	for _, s := range []Strategy{StrategyOptimized, StrategyCrossConnection} {
		e := f.engine(t, WithStrategy(s))
		matches, err := e.Match(ctx, Request{Source: job1, TargetType: "job", TopK: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3", "4"}, ids(matches), s)
	}
}

func TestMatchEmptyFilterResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, s := range []Strategy{StrategyOptimized, StrategyCrossConnection} {
		e := f.engine(t, WithStrategy(s))
		matches, err := e.Match(ctx, Request{
			Source: customer, TargetType: "job", TopK: 5, Filter: filter.Eq("status", "archived"),
		})
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	}
}

func TestMatchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.engine(t)

	_, err := e.Match(ctx, Request{TargetType: "job", TopK: 1})
	assert.ErrorIs(t, err, ErrSourceRequired)

	_, err = e.Match(ctx, Request{Source: customer, TargetType: "job"})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 1, Filter: filter.Eq("status; drop", "x")})
	assert.ErrorIs(t, err, filter.ErrInvalidExpr)

	_, err = e.Match(ctx, Request{Source: customer, TargetType: "invoice", TopK: 1})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 1, Strategy: "fastest"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestStrategySelection(t *testing.T) {
	ctx := context.Background()

	t.Run("auto uses the join when colocated", func(t *testing.T) {
		f := newFixture(t)
		m := NewMetrics(prometheus.NewRegistry())
		e := f.engine(t, WithMetrics(m))

		_, err := e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Strategies.WithLabelValues(string(StrategyOptimized))))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.Strategies.WithLabelValues(string(StrategyCrossConnection))))
	})

	t.Run("auto falls back for a separate store", func(t *testing.T) {
		f := newFixture(t)
		other, err := sqlite.Open(filepath.Join(t.TempDir(), "vectors.db"))
		require.NoError(t, err)
		defer other.Close()
		require.NoError(t, other.UpsertEmbeddings(ctx, &core.Embedding{ModelID: "7", ModelType: "job", Vector: []float32{1, 0}}))
		require.NoError(t, other.UpsertEmbeddings(ctx, &core.Embedding{ModelID: "1", ModelType: "customer", Vector: []float32{1, 0}}))

		m := NewMetrics(prometheus.NewRegistry())
		e, err := NewEngine(f.registry, other, f.embedder, WithMetrics(m))
		require.NoError(t, err)
		matches, err := e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"7"}, ids(matches))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Strategies.WithLabelValues(string(StrategyCrossConnection))))

		_, err = e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 3, Strategy: StrategyOptimized})
		assert.ErrorIs(t, err, ErrStrategyUnavailable)
	})

	t.Run("optimized needs a table", func(t *testing.T) {
		store, err := badgerstore.NewMemoryStore()
		require.NoError(t, err)
		defer store.Close()
		registry, err := catalog.NewRegistry(catalog.NewMemorySource("job"))
		require.NoError(t, err)

		e, err := NewEngine(registry, store, &mock.MockEmbedder{Dimensions: 2}, WithStrategy(StrategyOptimized))
		require.NoError(t, err)
		_, err = e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 1})
		assert.ErrorIs(t, err, ErrStrategyUnavailable)
		assert.ErrorIs(t, err, core.ErrInvalidModel)
	})
}

func TestCrossConnectionSkipsOrphanedVectors(t *testing.T) {
	ctx := context.Background()
	store, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	jobs := catalog.NewMemorySource("job")
	for i := 1; i <= 6; i++ {
		jobs.Put(&catalog.Record{Key: int64(i), Type: "job", Text: "job", Fields: map[string]any{"status": jobStatus(i)}})
		require.NoError(t, store.UpsertEmbeddings(ctx, &core.Embedding{
			ModelID: catalog.FormatKey(int64(i)), ModelType: "job", Vector: jobVector(i),
		}))
	}
	require.NoError(t, store.UpsertEmbeddings(ctx, &core.Embedding{ModelID: "1", ModelType: "customer", Vector: []float32{1, 0}}))
	jobs.Delete(2)
	jobs.Delete(3)

	registry, err := catalog.NewRegistry(jobs)
	require.NoError(t, err)
	e, err := NewEngine(registry, store, &mock.MockEmbedder{Dimensions: 2})
	require.NoError(t, err)

	matches, err := e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4", "5"}, ids(matches))

	matches, err = e.Match(ctx, Request{Source: customer, TargetType: "job", TopK: 3, Filter: filter.Eq("status", "open")})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "5"}, ids(matches))
}

func TestGetOrCreateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("stored vector is reused", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine(t)

		got, err := e.GetOrCreateEmbedding(ctx, customer)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, got.Vector)
		assert.Equal(t, 0, f.embedder.CallCount())
	})

	t.Run("missing vector is embedded once", func(t *testing.T) {
		f := newFixture(t)
		m := NewMetrics(prometheus.NewRegistry())
		e := f.engine(t, WithMetrics(m))
		fresh := &catalog.Record{Key: 2, Type: "customer", Text: "customer two"}

		_, err := e.Match(ctx, Request{Source: fresh, TargetType: "job", TopK: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, f.embedder.CallCount())
		assert.Equal(t, []string{"customer two"}, f.embedder.Texts())

		stored, err := f.store.GetEmbedding(ctx, core.KeyOf(fresh))
		require.NoError(t, err)
		assert.Equal(t, mock.GenerateVector("customer two", 2), stored.Vector)
		assert.False(t, stored.SyncRequired)

		_, err = e.Match(ctx, Request{Source: fresh, TargetType: "job", TopK: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, f.embedder.CallCount())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Reembeds.WithLabelValues("customer")))
	})

	t.Run("sync flag forces a new vector", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine(t)
		n, err := f.store.MarkSyncRequired(ctx, core.KeyOf(customer))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := e.GetOrCreateEmbedding(ctx, customer)
		require.NoError(t, err)
		assert.Equal(t, mock.GenerateVector("customer one", 2), got.Vector)
		assert.Equal(t, 1, f.embedder.CallCount())

		due, err := f.store.SyncRequiredIDs(ctx, "customer")
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("queued record is embedded and dequeued", func(t *testing.T) {
		f := newFixture(t)
		tracker := staleness.NewQueueTracker(f.store)
		e := f.engine(t, WithTracker(tracker))
		require.NoError(t, tracker.MarkStale(ctx, core.KeyOf(customer)))

		_, err := e.GetOrCreateEmbedding(ctx, customer)
		require.NoError(t, err)
		_, err = e.GetOrCreateEmbedding(ctx, customer)
		require.NoError(t, err)
		assert.Equal(t, 1, f.embedder.CallCount())

		stale, err := tracker.IsStale(ctx, core.KeyOf(customer))
		require.NoError(t, err)
		assert.False(t, stale)
	})

	t.Run("empty vector from provider", func(t *testing.T) {
		f := newFixture(t)
		f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return []float32{}, nil
		}
		e := f.engine(t)
		fresh := &catalog.Record{Key: 3, Type: "customer", Text: "customer three"}

		_, err := e.Match(ctx, Request{Source: fresh, TargetType: "job", TopK: 1})
		assert.ErrorIs(t, err, core.ErrNoEmbeddingFound)

		_, err = f.store.GetEmbedding(ctx, core.KeyOf(fresh))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("provider failure", func(t *testing.T) {
		f := newFixture(t)
		f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, core.ProviderRequestFailed("embed", assert.AnError)
		}
		e := f.engine(t)
		_, err := e.GetOrCreateEmbedding(ctx, &catalog.Record{Key: 4, Type: "customer", Text: "x"})
		assert.ErrorIs(t, err, core.ErrProviderRequestFailed)
	})
}

// groupOf splits ids 1-10 into five A, two B and three C records.
func groupOf(i int) string {
	switch {
	case i <= 5:
		return "A"
	case i <= 7:
		return "B"
	}
	return "C"
}

var groupVectors = map[string][]float32{
	"A": {1, 0, 0},
	"B": {0, 1, 0},
	"C": {0, 0, 1},
}

func TestGroupedCustomersMatchTheirGroup(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE jobs (id INTEGER PRIMARY KEY, title TEXT, grp TEXT)`)
	require.NoError(t, err)
	store, err := sqlite.New(db)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		_, err := db.Exec(`INSERT INTO jobs (id, title, grp) VALUES (?, ?, ?)`, i, "job", groupOf(i))
		require.NoError(t, err)
		id := catalog.FormatKey(int64(i))
		require.NoError(t, store.UpsertEmbeddings(ctx,
			&core.Embedding{ModelID: id, ModelType: "job", Vector: groupVectors[groupOf(i)]},
			&core.Embedding{ModelID: id, ModelType: "customer", Vector: groupVectors[groupOf(i)]},
		))
	}
	jobs, err := catalog.NewTableSource("job", &catalog.Table{
		DB: db, Name: "jobs", Columns: []string{"grp"}, TextColumns: []string{"title"},
	})
	require.NoError(t, err)
	registry, err := catalog.NewRegistry(jobs)
	require.NoError(t, err)
	embedder := &mock.MockEmbedder{Dimensions: 3}

	cases := []struct {
		name     string
		customer int64
		topK     int
		filter   *filter.Expr
		want     []string
	}{
		{"A customer gets the A jobs", 1, 5, nil, []string{"1", "2", "3", "4", "5"}},
		{"A customer with room for more", 3, 7, nil, []string{"1", "2", "3", "4", "5", "10", "6"}},
		{"B customer", 6, 5, nil, []string{"6", "7", "1", "10", "2"}},
		{"C customer", 9, 3, nil, []string{"10", "8", "9"}},
		{"A customer restricted to C", 2, 5, filter.Eq("grp", "C"), []string{"10", "8", "9"}},
	}
	for _, strategy := range []Strategy{StrategyOptimized, StrategyCrossConnection} {
		engine, err := NewEngine(registry, store, embedder, WithStrategy(strategy))
		require.NoError(t, err)
		for _, tc := range cases {
			t.Run(string(strategy)+"/"+tc.name, func(t *testing.T) {
				source := &catalog.Record{Key: tc.customer, Type: "customer", Text: "customer"}
				matches, err := engine.Match(ctx, Request{Source: source, TargetType: "job", TopK: tc.topK, Filter: tc.filter})
				require.NoError(t, err)
				assert.Equal(t, tc.want, ids(matches))

				for i, m := range matches {
					if i > 0 {
						assert.LessOrEqual(t, m.MatchPercent, matches[i-1].MatchPercent)
					}
					key, ok := catalog.ParseKey(m.Item.EmbeddingID())
					require.True(t, ok)
					if groupOf(int(key)) == groupOf(int(tc.customer)) {
						assert.InDelta(t, 100.0, m.MatchPercent, 1e-6)
					} else {
						assert.InDelta(t, 50.0, m.MatchPercent, 1e-6)
					}
				}
			})
		}
	}
	assert.Zero(t, embedder.CallCount(), "every customer vector was already stored")
}
