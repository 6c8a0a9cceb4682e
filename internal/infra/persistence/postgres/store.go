// Package postgres provides a PostgreSQL-backed store sharing the SQL
// implementation of the sqlite backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"runmgr/internal/infra/persistence/sqlstore"
	"runmgr/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/runmgr?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the PostgreSQL schema and placeholder style.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS Runs (
			Id BIGINT PRIMARY KEY,
			ExperimentName TEXT,
			DateCreated TEXT,
			Status TEXT,
			SampleSheet TEXT,
			Json TEXT)`,
		`CREATE INDEX IF NOT EXISTS run_name ON Runs(ExperimentName)`,
		`CREATE TABLE IF NOT EXISTS Projects (
			Name TEXT NOT NULL,
			ParentRun BIGINT NOT NULL,
			Timestamp TEXT,
			Status CHAR(1),
			Upload CHAR(1) DEFAULT 'N',
			Ustart TEXT,
			Uend TEXT)`,
		`CREATE INDEX IF NOT EXISTS proj_name ON Projects(Name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS proj_run_name ON Projects(ParentRun, Name)`,
		`CREATE TABLE IF NOT EXISTS Operations (
			Id BIGINT PRIMARY KEY,
			Download CHAR(1) DEFAULT 'N',
			Demux CHAR(1) DEFAULT 'N',
			Upload CHAR(1) DEFAULT 'N',
			Dstart TEXT,
			Dend TEXT,
			Xstart TEXT,
			Xend TEXT)`,
	},
}

// Store is a PostgreSQL-backed persistent store.
type Store struct {
	*sqlstore.Store
}

// NewStore connects using dsn (DefaultDSN when empty) and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{Store: sqlstore.New(db, Dialect)}
	if err := s.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
