// Package storetest holds the behavioral contract every persistence backend
// must satisfy, shared by the backend test suites.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"runmgr/pkg/domain"
)

// Opener returns a fresh, initialized, empty store.
type Opener func(t *testing.T) domain.PersistentStore

var stamp = time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)

// Run executes the full contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.PersistentStore)
	}{
		{"upsert preserves sheet and operations", testUpsertPreserves},
		{"operations created lazily", testLazyOperations},
		{"set stage stamps timestamps", testSetStageStamps},
		{"toggle stage", testToggleStage},
		{"record project once", testRecordProject},
		{"project upload and roll up", testProjectUploadRollUp},
		{"nested transactions share writes", testNestedTransactions},
		{"failed transaction rolls back", testRollback},
		{"listings", testListings},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func run(id int64, name, created, status string) domain.Run {
	meta, _ := domain.ParseRunMetadata([]byte(`{"FlowcellBarcode":"FC` + name + `","Custom":true}`))
	return domain.Run{ID: id, ExperimentName: name, DateCreated: created, Status: status, Metadata: meta}
}

func mustTx(t *testing.T, store domain.PersistentStore, fn func(ctx context.Context, tx domain.Transaction) error) {
	t.Helper()
	if err := store.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func testUpsertPreserves(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		created, err := tx.UpsertRun(run(1, "R1", "2024-01-01", "Running"))
		if err != nil || !created {
			t.Fatalf("expected insert, got created=%v err=%v", created, err)
		}
		if err := tx.SetSampleSheet(1, "sheet.csv"); err != nil {
			return err
		}
		return tx.SetStage(1, domain.StageDownload, domain.OpRequested, time.Time{})
	})
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		updated := run(1, "Renamed", "2030-01-01", "Complete")
		created, err := tx.UpsertRun(updated)
		if err != nil || created {
			t.Fatalf("expected update, got created=%v err=%v", created, err)
		}
		got, ok, err := tx.GetRun(1)
		if err != nil || !ok {
			t.Fatalf("get run: %v %v", ok, err)
		}
		if got.Status != "Complete" || got.SampleSheet != "sheet.csv" || got.ExperimentName != "R1" {
			t.Fatalf("unexpected run after upsert %+v", got)
		}
		if string(got.Metadata.Bytes()) != string(updated.Metadata.Bytes()) {
			t.Fatalf("metadata not stored verbatim: %s", got.Metadata.Bytes())
		}
		ops, err := tx.GetOperations(1)
		if err != nil || ops.Download != domain.OpRequested {
			t.Fatalf("operations lost on upsert: %+v %v", ops, err)
		}
		return nil
	})
}

func testLazyOperations(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		ops, err := tx.GetOperations(42)
		if err != nil {
			return err
		}
		if ops != domain.NewOperations(42) {
			t.Fatalf("expected default operations, got %+v", ops)
		}
		again, err := tx.GetOperations(42)
		if err != nil || again != ops {
			t.Fatalf("second lookup differs: %+v %v", again, err)
		}
		return nil
	})
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		if err := tx.SetSampleSheet(999, "x.csv"); !errors.Is(err, domain.ErrRunNotFound) {
			t.Fatalf("expected ErrRunNotFound, got %v", err)
		}
		return nil
	})
}

func testSetStageStamps(t *testing.T, store domain.PersistentStore) {
	end := stamp.Add(time.Hour)
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		if err := tx.SetStage(5, domain.StageDemux, domain.OpOngoing, stamp); err != nil {
			return err
		}
		if err := tx.SetStage(5, domain.StageDemux, domain.OpCompleted, end); err != nil {
			return err
		}
		if err := tx.SetStage(5, domain.StageDemux, "Q", end); err == nil {
			t.Fatalf("expected invalid code error")
		}
		return nil
	})
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		ops, err := tx.GetOperations(5)
		if err != nil {
			return err
		}
		if ops.Demux != domain.OpCompleted || !ops.DemuxStart.Equal(stamp) || !ops.DemuxEnd.Equal(end) {
			t.Fatalf("unexpected demux state %+v", ops)
		}
		if !ops.DownloadStart.IsZero() {
			t.Fatalf("download start should be unset")
		}
		return nil
	})
}

func testToggleStage(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		code, changed, err := tx.ToggleStage(3, domain.StageDownload)
		if err != nil || !changed || code != domain.OpRequested {
			t.Fatalf("toggle on missing row: %s %v %v", code, changed, err)
		}
		code, changed, _ = tx.ToggleStage(3, domain.StageDownload)
		if !changed || code != domain.OpNotRequested {
			t.Fatalf("toggle back: %s %v", code, changed)
		}
		if err := tx.SetStage(3, domain.StageDownload, domain.OpOngoing, stamp); err != nil {
			return err
		}
		code, changed, _ = tx.ToggleStage(3, domain.StageDownload)
		if changed || code != domain.OpOngoing {
			t.Fatalf("toggle while ongoing must be a no-op: %s %v", code, changed)
		}
		return nil
	})
}

func testRecordProject(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		if err := tx.RecordProject(7, "ProjA", "Y", stamp); err != nil {
			return err
		}
		if err := tx.RecordProject(7, "ProjB", "N", stamp); err != nil {
			return err
		}
		if err := tx.SetProjectUpload(7, "ProjA", domain.OpCompleted, stamp); err != nil {
			return err
		}
		if err := tx.RecordProject(7, "ProjA", "N", stamp.Add(time.Hour)); err != nil {
			return err
		}
		projects, err := tx.ListProjects(7)
		if err != nil {
			return err
		}
		if len(projects) != 2 {
			t.Fatalf("expected two projects, got %+v", projects)
		}
		a := projects[0]
		if a.Name != "ProjA" || a.Status != "N" || a.Upload != domain.OpCompleted || !a.Timestamp.Equal(stamp) {
			t.Fatalf("re-recording must only update status: %+v", a)
		}
		if projects[1].Upload != domain.OpNotRequested || projects[1].Status != "N" {
			t.Fatalf("unexpected ProjB %+v", projects[1])
		}
		return nil
	})
}

func testProjectUploadRollUp(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		for _, name := range []string{"A", "B"} {
			if err := tx.RecordProject(9, name, "Y", stamp); err != nil {
				return err
			}
		}
		code, err := tx.RollUpUpload(9)
		if err != nil || code != domain.OpNotRequested {
			t.Fatalf("roll up with no uploads: %s %v", code, err)
		}
		if err := tx.SetProjectUpload(9, "A", domain.OpCompleted, stamp); err != nil {
			return err
		}
		if next, changed, err := tx.ToggleProjectUpload(9, "B"); err != nil || !changed || next != domain.OpRequested {
			t.Fatalf("toggle project: %s %v %v", next, changed, err)
		}
		if code, _ := tx.RollUpUpload(9); code != domain.OpRequested {
			t.Fatalf("expected Requested roll up, got %s", code)
		}
		if err := tx.SetProjectUpload(9, "B", domain.OpOngoing, stamp); err != nil {
			return err
		}
		if err := tx.SetProjectUpload(9, "B", domain.OpCompleted, stamp.Add(time.Minute)); err != nil {
			return err
		}
		if code, _ := tx.RollUpUpload(9); code != domain.OpCompleted {
			t.Fatalf("expected Completed roll up, got %s", code)
		}
		ops, _ := tx.GetOperations(9)
		if ops.Upload != domain.OpCompleted {
			t.Fatalf("roll up not stored: %+v", ops)
		}
		done, err := tx.ProjectsWithUpload(domain.OpCompleted)
		if err != nil || len(done) != 2 || !done[1].UploadStart.Equal(stamp) {
			t.Fatalf("unexpected completed projects %+v %v", done, err)
		}
		if _, _, err := tx.ToggleProjectUpload(9, "missing"); err == nil {
			t.Fatalf("expected error toggling unknown project")
		}
		if err := tx.SetProjectUpload(9, "missing", domain.OpRequested, stamp); err == nil {
			t.Fatalf("expected error updating unknown project")
		}
		return nil
	})
}

func testNestedTransactions(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(ctx context.Context, outer domain.Transaction) error {
		if _, err := outer.UpsertRun(run(11, "Nested", "2024-02-02", "Complete")); err != nil {
			return err
		}
		return store.RunInTransaction(ctx, func(ctx context.Context, inner domain.Transaction) error {
			if _, ok, _ := inner.GetRun(11); !ok {
				t.Fatalf("inner transaction must see outer writes")
			}
			if err := inner.SetStage(11, domain.StageDownload, domain.OpRequested, time.Time{}); err != nil {
				return err
			}
			return store.View(ctx, func(_ context.Context, view domain.TransactionView) error {
				runs, err := view.RunsWithStage(domain.StageDownload, domain.OpRequested)
				if err != nil || len(runs) != 1 {
					t.Fatalf("view must share the open transaction: %+v %v", runs, err)
				}
				return nil
			})
		})
	})
	err := store.View(context.Background(), func(_ context.Context, view domain.TransactionView) error {
		n, err := view.CountRuns()
		if err != nil || n != 1 {
			t.Fatalf("expected committed run, got %d %v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func testRollback(t *testing.T, store domain.PersistentStore) {
	boom := errors.New("boom")
	err := store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		if _, err := tx.UpsertRun(run(12, "Lost", "2024-02-02", "Complete")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		if _, ok, _ := tx.GetRun(12); ok {
			t.Fatalf("rolled back run must not exist")
		}
		return nil
	})
}

func testListings(t *testing.T, store domain.PersistentStore) {
	mustTx(t, store, func(_ context.Context, tx domain.Transaction) error {
		for _, r := range []domain.Run{
			run(21, "Old", "2024-01-01T00:00:00Z", "Complete"),
			run(22, "Mid", "2024-02-01T00:00:00Z", "Complete"),
			run(23, "New", "2024-03-01T00:00:00Z", "Running"),
		} {
			if _, err := tx.UpsertRun(r); err != nil {
				return err
			}
		}
		if err := tx.SetStage(21, domain.StageDownload, domain.OpCompleted, stamp); err != nil {
			return err
		}
		if err := tx.SetStage(22, domain.StageDemux, domain.OpOngoing, stamp); err != nil {
			return err
		}
		if err := tx.SetStage(23, domain.StageDownload, domain.OpRequested, time.Time{}); err != nil {
			return err
		}
		runs, err := tx.ListRuns(2)
		if err != nil || len(runs) != 2 || runs[0].ID != 23 || runs[1].ID != 22 {
			t.Fatalf("unexpected ListRuns %+v %v", runs, err)
		}
		if n, _ := tx.CountRuns(); n != 3 {
			t.Fatalf("expected 3 runs, got %d", n)
		}
		found, ok, err := tx.FindRunByName("Mid")
		if err != nil || !ok || found.ID != 22 || found.Metadata.FlowcellBarcode != "FCMid" {
			t.Fatalf("unexpected FindRunByName %+v %v %v", found, ok, err)
		}
		active, err := tx.ListActivity(domain.OpRequested, domain.OpOngoing)
		if err != nil || len(active) != 2 || active[0].Run.ID != 23 || active[1].Operations.Demux != domain.OpOngoing {
			t.Fatalf("unexpected activity %+v %v", active, err)
		}
		done, err := tx.ListActivity(domain.OpCompleted, domain.OpFailed)
		if err != nil || len(done) != 1 || done[0].Run.ID != 21 {
			t.Fatalf("unexpected completed listing %+v %v", done, err)
		}
		return nil
	})
}
