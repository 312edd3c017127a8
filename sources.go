package embedvector

import (
	"database/sql"
	"fmt"

	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/config"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
	"github.com/poiesic/embedvector/storage/postgres"
	"github.com/poiesic/embedvector/storage/sqlite"
)

// registerConfigured registers a TableSource for every entry of the sources
// section. Tables without their own driver share the storage connection,
// which lets the matching engine join them against the vectors.
func (s *System) registerConfigured() error {
	conns := make(map[string]*sql.DB)
	for _, sc := range s.config.Sources {
		db, dialect, err := s.sourceDB(sc, conns)
		if err != nil {
			return err
		}
		src, err := catalog.NewTableSource(sc.Type, &catalog.Table{
			DB:          db,
			Dialect:     dialect,
			Name:        sc.Table,
			Key:         sc.Key,
			Columns:     sc.Columns,
			TextColumns: sc.TextColumns,
		})
		if err != nil {
			return err
		}
		if err := s.registry.Register(src); err != nil {
			return err
		}
		s.logger.Debug("registered table source", "type", sc.Type, "table", sc.Table)
	}
	return nil
}

func (s *System) sourceDB(sc config.SourceConfig, conns map[string]*sql.DB) (*sql.DB, filter.Dialect, error) {
	if sc.Driver == "" {
		switch st := s.store.(type) {
		case *sqlite.Store:
			return st.DB(), filter.Question, nil
		case *postgres.Store:
			return st.DB(), filter.Dollar, nil
		}
		return nil, 0, fmt.Errorf("%w: source %q needs a driver: the store has no SQL database", core.ErrConfiguration, sc.Type)
	}

	dialect := filter.Question
	if sc.Driver == config.DriverPostgres {
		dialect = filter.Dollar
	}
	key := sc.Driver + " " + sc.DSN
	if db, ok := conns[key]; ok {
		return db, dialect, nil
	}
	db, err := sql.Open(sc.Driver, sc.DSN)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: source %q: %w", core.ErrConfiguration, sc.Type, err)
	}
	conns[key] = db
	s.closers = append(s.closers, db)
	return db, dialect, nil
}
