package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"runmgr/internal/infra/persistence/storetest"
	"runmgr/pkg/domain"
)

// recordingDriver accepts every statement and remembers its text.
type recordingDriver struct {
	mu      sync.Mutex
	queries []string
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

func (d *recordingDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	c.d.mu.Lock()
	c.d.queries = append(c.d.queries, query)
	c.d.mu.Unlock()
	return recordingStmt{}, nil
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return recordingTx{}, nil }

type recordingStmt struct{}

func (recordingStmt) Close() error                               { return nil }
func (recordingStmt) NumInput() int                              { return -1 }
func (recordingStmt) Exec([]driver.Value) (driver.Result, error) { return driver.RowsAffected(0), nil }
func (recordingStmt) Query([]driver.Value) (driver.Rows, error)  { return nil, errors.New("not supported") }

type recordingTx struct{}

func (recordingTx) Commit() error   { return nil }
func (recordingTx) Rollback() error { return nil }

var registerOnce sync.Once

const recordingDriverName = "runmgr-recording"

var recorder = &recordingDriver{}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("dial refused")
	})
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreUsesNumberedPlaceholders(t *testing.T) {
	registerOnce.Do(func() { sql.Register(recordingDriverName, recorder) })
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return sql.Open(recordingDriverName, dsn)
	})
	defer restore()

	ctx := context.Background()
	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if gotDriver != "pgx" || gotDSN != DefaultDSN {
		t.Fatalf("unexpected open arguments %s %s", gotDriver, gotDSN)
	}
	if n := len(recorder.recorded()); n < len(Dialect.Schema) {
		t.Fatalf("expected schema statements to run, recorded %d", n)
	}

	err = store.RunInTransaction(ctx, func(_ context.Context, tx domain.Transaction) error {
		return tx.SetSampleSheet(7, "sheet.csv")
	})
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from zero affected rows, got %v", err)
	}
	queries := recorder.recorded()
	last := queries[len(queries)-1]
	if last != "UPDATE Runs SET SampleSheet = $1 WHERE Id = $2" {
		t.Fatalf("unexpected statement %q", last)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("RUNMGR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RUNMGR_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) domain.PersistentStore {
		store, err := NewStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		for _, table := range []string{"Runs", "Projects", "Operations"} {
			if _, err := store.DB().Exec(`DELETE FROM ` + table); err != nil {
				t.Fatalf("reset %s: %v", table, err)
			}
		}
		return store
	})
}
