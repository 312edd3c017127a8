// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/storage"
)

// Store implements storage.Store and storage.JoinSearcher on PostgreSQL.
type Store struct {
	db         *sql.DB
	ownsDB     bool
	closed     atomic.Bool
	dimensions int
	metric     core.Metric
	logger     *slog.Logger
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.JoinSearcher = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithVectorIndex fixes the embedding column to dimensions and creates an
// HNSW index for metric.
func WithVectorIndex(dimensions int, metric core.Metric) Option {
	return func(s *Store) error {
		if dimensions <= 0 {
			return fmt.Errorf("%w: vector index needs positive dimensions, got %d", core.ErrConfiguration, dimensions)
		}
		m, err := core.ParseMetric(string(metric))
		if err != nil {
			return err
		}
		s.dimensions = dimensions
		s.metric = m
		return nil
	}
}

// Open connects to dsn and migrates the schema. The store owns the
// connection and closes it on Close.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New creates a store on an existing connection and migrates the schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		metric: core.MetricCosine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "postgres-store")

	if _, err := db.Exec(schemaSQL(s.dimensions, s.metric)); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection if the store opened it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

// Colocated reports whether the table is served by this store's connection.
func (s *Store) Colocated(table *catalog.Table) bool {
	return table != nil && table.DB == s.db && table.Dialect == filter.Dollar
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func stringArray(values []string) any {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}
