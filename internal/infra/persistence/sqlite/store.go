// Package sqlite provides the default embedded store backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"runmgr/internal/infra/persistence/sqlstore"
	"runmgr/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "runmgr.db"

// Dialect is the SQLite schema and placeholder style.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS Runs (
			Id INTEGER PRIMARY KEY,
			ExperimentName TEXT,
			DateCreated TEXT,
			Status TEXT,
			SampleSheet TEXT,
			Json TEXT)`,
		`CREATE INDEX IF NOT EXISTS run_name ON Runs(ExperimentName)`,
		`CREATE TABLE IF NOT EXISTS Projects (
			Name TEXT,
			ParentRun INTEGER,
			Timestamp TEXT,
			Status CHAR(1),
			Upload CHAR(1) DEFAULT 'N',
			Ustart TEXT,
			Uend TEXT)`,
		`CREATE INDEX IF NOT EXISTS proj_name ON Projects(Name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS proj_run_name ON Projects(ParentRun, Name)`,
		`CREATE TABLE IF NOT EXISTS Operations (
			Id INTEGER PRIMARY KEY,
			Download CHAR(1) DEFAULT 'N',
			Demux CHAR(1) DEFAULT 'N',
			Upload CHAR(1) DEFAULT 'N',
			Dstart TEXT,
			Dend TEXT,
			Xstart TEXT,
			Xend TEXT)`,
	},
}

// Store is a SQLite-backed persistent store.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	s := &Store{Store: sqlstore.New(db, Dialect), path: path}
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
