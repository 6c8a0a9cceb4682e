package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runmgr/internal/blob"
	"runmgr/internal/config"
	"runmgr/internal/core"
	"runmgr/internal/infra/persistence/memory"
	"runmgr/pkg/domain"
)

type harness struct {
	store  *memory.Store
	sheets blob.Store
	root   string
	stdout bytes.Buffer
	stderr bytes.Buffer
	opened int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{store: memory.NewStore(), sheets: blob.NewMemory(), root: t.TempDir()}
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	app := BuildRunmgrApp(RunmgrDeps{
		LoadConfig: func(string) (*config.Config, error) { return config.Default(), nil },
		Open: func(_ context.Context, _ *config.Config, logger *slog.Logger) (*Runtime, error) {
			h.opened++
			svc := core.NewService(h.store,
				core.WithLogger(logger),
				core.WithSampleSheets(h.sheets, ""),
				core.WithPaths(core.Paths{
					RunDirectory:      filepath.Join(h.root, "runs"),
					ProjectsDirectory: filepath.Join(h.root, "projects"),
					LockFile:          filepath.Join(h.root, "runmgr.lock"),
				}),
			)
			return &Runtime{Service: svc}, nil
		},
		Stdout: &h.stdout,
		Stderr: &h.stderr,
	})
	return app.RunContext(context.Background(), append([]string{"runmgr"}, args...))
}

func (h *harness) seed(t *testing.T, id int64, name string, codes map[domain.Stage]domain.OpCode, projects ...string) {
	t.Helper()
	meta, err := domain.ParseRunMetadata([]byte(`{"FlowcellBarcode":"FC` + name + `"}`))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	err = h.store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		if _, err := tx.UpsertRun(domain.Run{ID: id, ExperimentName: name, DateCreated: "2024-02-28", Status: "Complete", Metadata: meta}); err != nil {
			return err
		}
		for stage, code := range codes {
			if err := tx.SetStage(id, stage, code, now); err != nil {
				return err
			}
		}
		for _, p := range projects {
			if err := tx.RecordProject(id, p, "Y", now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (h *harness) operations(t *testing.T, id int64) domain.Operations {
	t.Helper()
	var ops domain.Operations
	err := h.store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		var err error
		ops, err = tx.GetOperations(id)
		return err
	})
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	return ops
}

func TestRunsListsNewestFirst(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_A", nil)
	h.seed(t, 2, "RUN_B", map[domain.Stage]domain.OpCode{domain.StageDownload: domain.OpCompleted})
	if err := h.run(t, "runs", "--limit", "1"); err != nil {
		t.Fatalf("runs: %v", err)
	}
	out := h.stdout.String()
	if !strings.Contains(out, "RUN_B") || strings.Contains(out, "RUN_A") {
		t.Fatalf("expected only the newest run, got:\n%s", out)
	}
	if !strings.Contains(out, "1 of 2 runs") {
		t.Fatalf("expected run count, got:\n%s", out)
	}
	if h.opened != 1 {
		t.Fatalf("expected one runtime, opened %d", h.opened)
	}
}

func TestShowAcceptsNameOrID(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 7, "RUN_SHOW", nil, "P1")
	for _, ref := range []string{"7", "RUN_SHOW"} {
		if err := h.run(t, "show", ref); err != nil {
			t.Fatalf("show %s: %v", ref, err)
		}
		out := h.stdout.String()
		if !strings.Contains(out, "RUN_SHOW (7)") || !strings.Contains(out, "P1") {
			t.Fatalf("show %s output:\n%s", ref, out)
		}
	}
	if err := h.run(t, "show", "NOPE"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
	if err := h.run(t, "show"); err == nil {
		t.Fatalf("expected usage error without a run")
	}
}

func TestShowWithoutProjects(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 3, "RUN_EMPTY", nil)
	if err := h.run(t, "show", "3"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "(no projects yet)") {
		t.Fatalf("expected empty project note, got:\n%s", h.stdout.String())
	}
}

func TestOperForcesCodes(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_OP", nil)
	if err := h.run(t, "oper", "RUN_OP", "+d", "x!", "+u"); err != nil {
		t.Fatalf("oper: %v", err)
	}
	ops := h.operations(t, 1)
	if ops.Download != domain.OpRequested || ops.Demux != domain.OpCompleted || ops.Upload != domain.OpRequested {
		t.Fatalf("unexpected operations %+v", ops)
	}
	if err := h.run(t, "oper", "RUN_OP", "-d"); err != nil {
		t.Fatalf("oper -d: %v", err)
	}
	if got := h.operations(t, 1).Download; got != domain.OpNotRequested {
		t.Fatalf("expected download withdrawn, got %s", got)
	}
	if err := h.run(t, "oper", "RUN_OP", "?x"); err == nil || !strings.Contains(err.Error(), "unknown change") {
		t.Fatalf("expected unknown change error, got %v", err)
	}
}

func TestToggleStage(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_T", nil)
	if err := h.run(t, "toggle", "1", "download"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := h.operations(t, 1).Download; got != domain.OpRequested {
		t.Fatalf("expected download requested, got %s", got)
	}
	if err := h.run(t, "toggle", "1", "d"); err != nil {
		t.Fatalf("toggle by letter: %v", err)
	}
	if got := h.operations(t, 1).Download; got != domain.OpNotRequested {
		t.Fatalf("expected download withdrawn, got %s", got)
	}
	if err := h.run(t, "toggle", "1", "sideways"); err == nil {
		t.Fatalf("expected unknown stage error")
	}
}

func TestToggleUploadRollsUp(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_U", nil, "P1", "P2")
	if err := h.run(t, "toggle-upload", "RUN_U", "P1"); err != nil {
		t.Fatalf("toggle-upload: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "RUN_U/P1 upload now: Requested") {
		t.Fatalf("unexpected output %q", h.stdout.String())
	}
	if got := h.operations(t, 1).Upload; got != domain.OpRequested {
		t.Fatalf("expected run upload requested, got %s", got)
	}
}

func TestRedemuxArguments(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_R", nil, "P1")
	if err := h.run(t, "redemux", "RUN_R", "P1"); err == nil || !strings.Contains(err.Error(), "PROJECT:OPTIONS") {
		t.Fatalf("expected argument format error, got %v", err)
	}
	if err := h.run(t, "redemux", "RUN_R", "P1:9"); err == nil {
		t.Fatalf("expected invalid option error")
	}
	if err := h.run(t, "redemux", "RUN_R"); err == nil {
		t.Fatalf("expected usage error without projects")
	}
}

func TestAttachWithoutMatchingSheet(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_S", nil)
	err := h.run(t, "attach", "RUN_S")
	if !errors.Is(err, core.ErrNoUniqueSampleSheet) {
		t.Fatalf("expected no unique sheet, got %v", err)
	}
}

func TestAttachByFlowcell(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_S", nil)
	body := "[Data]\nSample_Id,Sample_Name,index,Sample_Project\nS1,S1,ACGT,P1\n"
	if _, err := h.sheets.Put(context.Background(), "2024_FCRUN_S.csv", strings.NewReader(body), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.run(t, "attach", "RUN_S"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "2024_FCRUN_S.csv") {
		t.Fatalf("unexpected output %q", h.stdout.String())
	}
}

func TestOngoingAndCompleted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_BUSY", map[domain.Stage]domain.OpCode{domain.StageDemux: domain.OpOngoing})
	h.seed(t, 2, "RUN_DONE", map[domain.Stage]domain.OpCode{domain.StageDownload: domain.OpCompleted})
	if err := h.run(t, "ongoing"); err != nil {
		t.Fatalf("ongoing: %v", err)
	}
	if out := h.stdout.String(); !strings.Contains(out, "RUN_BUSY") || strings.Contains(out, "RUN_DONE") {
		t.Fatalf("ongoing output:\n%s", out)
	}
	if err := h.run(t, "completed"); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if out := h.stdout.String(); !strings.Contains(out, "RUN_DONE") || strings.Contains(out, "RUN_BUSY") {
		t.Fatalf("completed output:\n%s", out)
	}
}

func TestUpdateWithoutSchedulerReportsError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "RUN_D", map[domain.Stage]domain.OpCode{domain.StageDownload: domain.OpRequested})
	err := h.run(t, "update")
	if !errors.Is(err, core.ErrNoScheduler) {
		t.Fatalf("expected no scheduler error, got %v", err)
	}
}

func TestLoadConfigErrorStopsCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := BuildRunmgrApp(RunmgrDeps{
		LoadConfig: func(string) (*config.Config, error) { return nil, errors.New("bad config") },
		Open: func(context.Context, *config.Config, *slog.Logger) (*Runtime, error) {
			t.Fatalf("runtime must not open")
			return nil, nil
		},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err := app.RunContext(context.Background(), []string{"runmgr", "runs"}); err == nil || err.Error() != "bad config" {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestOpenRuntimeMemory(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.SampleSheets.Driver = "memory"
	cfg.Paths.RunDirectory = filepath.Join(root, "runs")
	cfg.Paths.ProjectsDirectory = filepath.Join(root, "projects")
	cfg.Metrics.Textfile = filepath.Join(root, "runmgr.prom")
	rt, err := OpenRuntime(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer func() { _ = rt.Close() }()
	if rt.Service == nil || rt.Metrics == nil || rt.Textfile != cfg.Metrics.Textfile {
		t.Fatalf("unexpected runtime %+v", rt)
	}
	if err := rt.Service.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func TestOpenRuntimeWritesSnapshotAndTrace(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.SampleSheets.Driver = "memory"
	cfg.Metrics.Textfile = filepath.Join(root, "runmgr.prom")
	cfg.Metrics.Snapshot = filepath.Join(root, "runmgr.json")
	cfg.Log.Trace = filepath.Join(root, "trace.jsonl")
	rt, err := OpenRuntime(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if rt.Counters == nil || rt.Tracer == nil || rt.Metrics == nil {
		t.Fatalf("exporters not wired: %+v", rt)
	}
	if err := rt.Service.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := rt.writeMetrics(); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var snap core.ExpvarMetricsSnapshot
	data, err := os.ReadFile(cfg.Metrics.Snapshot)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Operations["initialize"].Count != 1 {
		t.Fatalf("initialize not counted: %+v", snap.Operations)
	}
	if _, err := os.Stat(cfg.Metrics.Textfile); err != nil {
		t.Fatalf("textfile not written alongside the snapshot: %v", err)
	}

	trace, err := os.ReadFile(cfg.Log.Trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var entry core.JSONTraceEntry
	if err := json.Unmarshal(bytes.TrimSpace(trace), &entry); err != nil {
		t.Fatalf("decode trace %q: %v", trace, err)
	}
	if entry.Operation != "initialize" || entry.Status != "success" {
		t.Fatalf("unexpected trace entry %+v", entry)
	}
}

func TestOpenRuntimeRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "oracle"
	if _, err := OpenRuntime(context.Background(), cfg, slog.Default()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestInitAndLoadWithoutLister(t *testing.T) {
	h := newHarness(t)
	if err := h.run(t, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(h.stdout.String(), "run database ready") {
		t.Fatalf("unexpected init output %q", h.stdout.String())
	}
	if err := h.run(t, "load"); err == nil || !strings.Contains(err.Error(), "no run lister") {
		t.Fatalf("expected missing lister error, got %v", err)
	}
}
