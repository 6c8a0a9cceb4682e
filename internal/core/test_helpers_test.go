package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"runmgr/internal/blob"
	"runmgr/internal/infra/persistence/memory"
	"runmgr/internal/notify"
	"runmgr/internal/scheduler"
	"runmgr/pkg/domain"
)

const testSheet = "[Header]\nIEMFileVersion,4\n\n[Data]\nLane,Sample_Id,Sample_Name,index,index2,Sample_Project\n" +
	"1,S1,S1,ACGTACGT,TTGGCCAA,P1\n1,S2,S2,GGTTAACC,CCAATTGG,P2\n"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLister struct {
	runs []domain.Run
	err  error
}

func (f *fakeLister) ListRuns(context.Context) ([]domain.Run, error) {
	return f.runs, f.err
}

// fakeScheduler builds real jobs and records submissions instead of running them.
type fakeScheduler struct {
	*scheduler.Submitter
	submitted []scheduler.Job
	fail      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{Submitter: scheduler.New("submit", []string{"-p", "NGS"}, "/opt/bin")}
}

func (f *fakeScheduler) Submit(_ context.Context, job scheduler.Job) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.submitted = append(f.submitted, job)
	return "job-1", nil
}

type captureMailer struct {
	messages []notify.Message
	err      error
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	sheets   blob.Store
	jobs     *fakeScheduler
	mailer   *captureMailer
	lister   *fakeLister
	clock    *testClock
	runDir   string
	projDir  string
	lockFile string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		store:    memory.NewStore(),
		sheets:   blob.NewMemory(),
		jobs:     newFakeScheduler(),
		mailer:   &captureMailer{},
		lister:   &fakeLister{},
		clock:    newTestClock(),
		runDir:   filepath.Join(root, "runs"),
		projDir:  filepath.Join(root, "projects"),
		lockFile: filepath.Join(root, "runmgr.lock"),
	}
	base := []Option{
		WithClock(f.clock),
		WithRunLister(f.lister),
		WithScheduler(f.jobs),
		WithSampleSheets(f.sheets, "sheets/"),
		WithMailer(f.mailer, ""),
		WithPaths(Paths{RunDirectory: f.runDir, ProjectsDirectory: f.projDir, LockFile: f.lockFile}),
	}
	f.svc = NewService(f.store, append(base, opts...)...)
	return f
}

func testRun(t *testing.T, id int64, name, status, flowcell string) domain.Run {
	t.Helper()
	meta, err := domain.ParseRunMetadata([]byte(`{"FlowcellBarcode":"` + flowcell + `"}`))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	return domain.Run{ID: id, ExperimentName: name, DateCreated: "2024-02-28T10:00:00", Status: status, Metadata: meta}
}

func (f *fixture) seed(t *testing.T, run domain.Run, codes map[domain.Stage]domain.OpCode) {
	t.Helper()
	err := f.store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		if _, err := tx.UpsertRun(run); err != nil {
			return err
		}
		for _, stage := range domain.Stages {
			if code, ok := codes[stage]; ok {
				if err := tx.SetStage(run.ID, stage, code, f.clock.Now()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) recordProjects(t *testing.T, runID int64, statuses map[string]string) {
	t.Helper()
	err := f.store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		for name, status := range statuses {
			if err := tx.RecordProject(runID, name, status, f.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("record projects: %v", err)
	}
}

func (f *fixture) putSheet(t *testing.T, key, body string) {
	t.Helper()
	if _, err := f.sheets.Put(context.Background(), key, strings.NewReader(body), blob.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("put sheet: %v", err)
	}
}

func (f *fixture) operations(t *testing.T, runID int64) domain.Operations {
	t.Helper()
	var ops domain.Operations
	err := f.store.RunInTransaction(context.Background(), func(_ context.Context, tx domain.Transaction) error {
		var err error
		ops, err = tx.GetOperations(runID)
		return err
	})
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	return ops
}

func (f *fixture) projects(t *testing.T, runID int64) map[string]domain.ProjectRecord {
	t.Helper()
	out := make(map[string]domain.ProjectRecord)
	err := f.store.View(context.Background(), func(_ context.Context, view domain.TransactionView) error {
		projects, err := view.ListProjects(runID)
		for _, p := range projects {
			out[p.Name] = p
		}
		return err
	})
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	return out
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func hasEvent(events []string, sub string) bool {
	for _, e := range events {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

func mustCycle(t *testing.T, svc *Service) CycleReport {
	t.Helper()
	report, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	return report
}

var errSubmit = errors.New("qsub unavailable")
