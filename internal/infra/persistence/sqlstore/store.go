// Package sqlstore implements domain.PersistentStore over database/sql. The
// sqlite and postgres packages supply the connection and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"runmgr/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
	// Schema is applied statement by statement by Initialize.
	Schema []string
}

// Store runs every operation inside a transaction on db.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store was built with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Initialize creates missing tables and indexes.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type txKey struct{}

type activeTx struct {
	owner *Store
	tx    *transaction
}

func (s *Store) active(ctx context.Context) *transaction {
	if a, ok := ctx.Value(txKey{}).(activeTx); ok && a.owner == s {
		return a.tx
	}
	return nil
}

// RunInTransaction runs fn in a transaction committed when fn returns nil.
// A ctx that already carries a transaction of this store reuses it, so
// nested calls see each other's writes and only the outermost one commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Transaction) error) (retErr error) {
	if tx := s.active(ctx); tx != nil {
		return fn(ctx, tx)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &transaction{ctx: ctx, tx: sqlTx, dialect: s.dialect}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if retErr != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, activeTx{owner: s, tx: tx}), tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn against a transaction that is always rolled back, unless ctx
// already carries one, which is then shared.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, view domain.TransactionView) error) error {
	if tx := s.active(ctx); tx != nil {
		return fn(ctx, tx)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	tx := &transaction{ctx: ctx, tx: sqlTx, dialect: s.dialect}
	return fn(context.WithValue(ctx, txKey{}, activeTx{owner: s, tx: tx}), tx)
}

// Rebind rewrites '?' placeholders into $n form for numbered dialects.
func Rebind(d Dialect, query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
