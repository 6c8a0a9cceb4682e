// Package memory implements an in-process store with the same transaction
// semantics as the SQL backends. State is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"runmgr/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

type projectKey struct {
	run  int64
	name string
}

type state struct {
	runs       map[int64]domain.Run
	operations map[int64]domain.Operations
	projects   map[projectKey]domain.ProjectRecord
}

func newState() *state {
	return &state{
		runs:       make(map[int64]domain.Run),
		operations: make(map[int64]domain.Operations),
		projects:   make(map[projectKey]domain.ProjectRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.runs {
		c.runs[k] = v
	}
	for k, v := range s.operations {
		c.operations[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	return c
}

// Store holds committed state guarded by a mutex held for the duration of
// each outermost transaction.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Initialize is a no-op for the memory backend.
func (s *Store) Initialize(context.Context) error { return nil }

// Close is a no-op for the memory backend.
func (s *Store) Close() error { return nil }

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

// RunInTransaction applies fn to a working copy of the state and publishes
// it when fn succeeds. Nested calls share the working copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Transaction) error) error {
	if tx := s.active(ctx); tx != nil {
		return fn(ctx, tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{state: s.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, activeTx{owner: s, tx: tx}), tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View runs fn against a throwaway copy of the state.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, view domain.TransactionView) error) error {
	if tx := s.active(ctx); tx != nil {
		return fn(ctx, tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{state: s.state.clone()}
	return fn(context.WithValue(ctx, txKey{}, activeTx{owner: s, tx: tx}), tx)
}

type transaction struct {
	state *state
}

var _ domain.Transaction = (*transaction)(nil)

func (t *transaction) UpsertRun(run domain.Run) (bool, error) {
	existing, ok := t.state.runs[run.ID]
	if ok {
		existing.Status = run.Status
		existing.Metadata = run.Metadata
		t.state.runs[run.ID] = existing
		return false, nil
	}
	t.state.runs[run.ID] = run
	return true, nil
}

func (t *transaction) GetRun(id int64) (domain.Run, bool, error) {
	run, ok := t.state.runs[id]
	return run, ok, nil
}

func (t *transaction) FindRunByName(name string) (domain.Run, bool, error) {
	for _, run := range t.sortedRuns(true) {
		if run.ExperimentName == name {
			return run, true, nil
		}
	}
	return domain.Run{}, false, nil
}

func (t *transaction) sortedRuns(newestFirst bool) []domain.Run {
	out := make([]domain.Run, 0, len(t.state.runs))
	for _, run := range t.state.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DateCreated != b.DateCreated {
			if newestFirst {
				return a.DateCreated > b.DateCreated
			}
			return a.DateCreated < b.DateCreated
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}

func (t *transaction) ListRuns(limit int) ([]domain.Run, error) {
	runs := t.sortedRuns(true)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (t *transaction) CountRuns() (int, error) { return len(t.state.runs), nil }

func (t *transaction) SetSampleSheet(runID int64, name string) error {
	run, ok := t.state.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
	}
	run.SampleSheet = name
	t.state.runs[runID] = run
	return nil
}

func (t *transaction) GetOperations(runID int64) (domain.Operations, error) {
	ops, ok := t.state.operations[runID]
	if !ok {
		ops = domain.NewOperations(runID)
		t.state.operations[runID] = ops
	}
	return ops, nil
}

func (t *transaction) SetStage(runID int64, stage domain.Stage, code domain.OpCode, at time.Time) error {
	if !code.Valid() {
		return fmt.Errorf("invalid operation code %q", code)
	}
	ops, _ := t.GetOperations(runID)
	ops.Apply(stage, code, at)
	t.state.operations[runID] = ops
	return nil
}

func (t *transaction) ToggleStage(runID int64, stage domain.Stage) (domain.OpCode, bool, error) {
	ops, _ := t.GetOperations(runID)
	next, ok := domain.Toggle(ops.Code(stage))
	if !ok {
		return next, false, nil
	}
	ops.Apply(stage, next, time.Time{})
	t.state.operations[runID] = ops
	return next, true, nil
}

func (t *transaction) RunsWithStage(stage domain.Stage, code domain.OpCode) ([]domain.Run, error) {
	var out []domain.Run
	for _, run := range t.sortedRuns(false) {
		if ops, ok := t.state.operations[run.ID]; ok && ops.Code(stage) == code {
			out = append(out, run)
		}
	}
	return out, nil
}

func (t *transaction) ListActivity(codes ...domain.OpCode) ([]domain.RunActivity, error) {
	var out []domain.RunActivity
	for _, run := range t.sortedRuns(true) {
		ops, ok := t.state.operations[run.ID]
		if !ok {
			continue
		}
		for _, stage := range domain.Stages {
			if containsCode(codes, ops.Code(stage)) {
				out = append(out, domain.RunActivity{Run: run, Operations: ops})
				break
			}
		}
	}
	return out, nil
}

func containsCode(codes []domain.OpCode, c domain.OpCode) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}

func (t *transaction) RecordProject(runID int64, name, status string, at time.Time) error {
	key := projectKey{run: runID, name: name}
	if p, ok := t.state.projects[key]; ok {
		p.Status = status
		t.state.projects[key] = p
		return nil
	}
	t.state.projects[key] = domain.ProjectRecord{
		Name:      name,
		ParentRun: runID,
		Timestamp: at,
		Status:    status,
		Upload:    domain.OpNotRequested,
	}
	return nil
}

func (t *transaction) sortedProjects(keep func(domain.ProjectRecord) bool) []domain.ProjectRecord {
	var out []domain.ProjectRecord
	for _, p := range t.state.projects {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentRun != out[j].ParentRun {
			return out[i].ParentRun < out[j].ParentRun
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (t *transaction) ListProjects(runID int64) ([]domain.ProjectRecord, error) {
	return t.sortedProjects(func(p domain.ProjectRecord) bool { return p.ParentRun == runID }), nil
}

func (t *transaction) ProjectsWithUpload(code domain.OpCode) ([]domain.ProjectRecord, error) {
	return t.sortedProjects(func(p domain.ProjectRecord) bool { return p.Upload == code }), nil
}

func (t *transaction) SetProjectUpload(runID int64, name string, code domain.OpCode, at time.Time) error {
	if !code.Valid() {
		return fmt.Errorf("invalid operation code %q", code)
	}
	key := projectKey{run: runID, name: name}
	p, ok := t.state.projects[key]
	if !ok {
		return fmt.Errorf("project %s of run %d not found", name, runID)
	}
	p.Upload = code
	switch code {
	case domain.OpOngoing:
		p.UploadStart = at
	case domain.OpCompleted, domain.OpFailed:
		p.UploadEnd = at
	}
	t.state.projects[key] = p
	return nil
}

func (t *transaction) ToggleProjectUpload(runID int64, name string) (domain.OpCode, bool, error) {
	p, ok := t.state.projects[projectKey{run: runID, name: name}]
	if !ok {
		return "", false, fmt.Errorf("project %s of run %d not found", name, runID)
	}
	next, changed := domain.ToggleProjectUpload(p.Upload)
	if !changed {
		return next, false, nil
	}
	return next, true, t.SetProjectUpload(runID, name, next, time.Time{})
}

func (t *transaction) RollUpUpload(runID int64) (domain.OpCode, error) {
	projects, _ := t.ListProjects(runID)
	codes := make([]domain.OpCode, len(projects))
	for i, p := range projects {
		codes[i] = p.Upload
	}
	code := domain.RollUp(codes)
	return code, t.SetStage(runID, domain.StageUpload, code, time.Time{})
}
