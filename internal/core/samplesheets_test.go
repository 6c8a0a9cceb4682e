package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"runmgr/internal/blob"
	"runmgr/pkg/domain"
)

func TestAttachSampleSheetIfUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, testRun(t, 21, "RUN21", "Complete", "HKJ7YBGXY"), nil)

	_, err := f.svc.AttachSampleSheetIfUnique(ctx, 21, "HKJ7YBGXY")
	if !errors.Is(err, ErrNoUniqueSampleSheet) || !strings.Contains(err.Error(), "0 sheets") {
		t.Fatalf("expected no match error, got %v", err)
	}

	f.putSheet(t, "sheets/A_HKJ7YBGXY.csv", testSheet)
	f.putSheet(t, "sheets/B_HKJ7YBGXY.csv", testSheet)
	_, err = f.svc.AttachSampleSheetIfUnique(ctx, 21, "HKJ7YBGXY")
	if !errors.Is(err, ErrNoUniqueSampleSheet) || !strings.Contains(err.Error(), "2 sheets") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if run, _ := f.svc.ResolveRun(ctx, "21"); run.SampleSheet != "" {
		t.Fatalf("ambiguous match must not record a sheet, got %q", run.SampleSheet)
	}

	if _, err := f.sheets.Delete(ctx, "sheets/B_HKJ7YBGXY.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	local, err := f.svc.AttachSampleSheetIfUnique(ctx, 21, "HKJ7YBGXY")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if local != filepath.Join(f.runDir, "RUN21", "A_HKJ7YBGXY.csv") {
		t.Fatalf("unexpected local path %s", local)
	}
	if data, err := os.ReadFile(local); err != nil || string(data) != testSheet {
		t.Fatalf("sheet not copied: %v", err)
	}
	if run, _ := f.svc.ResolveRun(ctx, "21"); run.SampleSheet != "sheets/A_HKJ7YBGXY.csv" {
		t.Fatalf("sheet not recorded, got %q", run.SampleSheet)
	}
}

func TestAttachSampleSheetErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AttachSampleSheetIfUnique(ctx, 99, "FC"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	f.seed(t, testRun(t, 22, "RUN22", "Complete", ""), nil)
	if _, err := f.svc.AttachSampleSheetIfUnique(ctx, 22, ""); !errors.Is(err, ErrNoUniqueSampleSheet) {
		t.Fatalf("expected ErrNoUniqueSampleSheet for missing flowcell, got %v", err)
	}
	if _, err := f.svc.AttachSampleSheet(ctx, 22, "sheets/missing.csv"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected blob.ErrNotFound, got %v", err)
	}

	bare := NewService(f.store)
	if _, err := bare.AttachSampleSheetIfUnique(ctx, 22, "FC"); !errors.Is(err, ErrNoSampleSheetSource) {
		t.Fatalf("expected ErrNoSampleSheetSource, got %v", err)
	}
}

func TestAttachSampleSheetByKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, testRun(t, 23, "RUN23", "Complete", "FC23"), nil)
	f.putSheet(t, "sheets/manual.csv", testSheet)

	local, err := f.svc.AttachSampleSheet(ctx, 23, "sheets/manual.csv")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if filepath.Base(local) != "manual.csv" {
		t.Fatalf("unexpected local path %s", local)
	}
	if run, _ := f.svc.ResolveRun(ctx, "RUN23"); run.SampleSheet != "sheets/manual.csv" {
		t.Fatalf("sheet not recorded, got %q", run.SampleSheet)
	}
}

func TestSampleSheetPattern(t *testing.T) {
	if got := SampleSheetPattern("HKJ7YBGXY"); got != "*HKJ7YBGXY*.csv" {
		t.Fatalf("unexpected pattern %q", got)
	}
}

func TestAttachSampleSheetIgnoresArchivedCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, testRun(t, 24, "RUN24", "Complete", "HKJ7YBGXY"), nil)
	f.putSheet(t, "sheets/SS_HKJ7YBGXY.csv", testSheet)
	f.putSheet(t, "sheets/archive/SS_HKJ7YBGXY_old.csv", testSheet)

	local, err := f.svc.AttachSampleSheetIfUnique(ctx, 24, "HKJ7YBGXY")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if filepath.Base(local) != "SS_HKJ7YBGXY.csv" {
		t.Fatalf("unexpected local path %s", local)
	}
}
