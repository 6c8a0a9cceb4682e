package domain

import (
	"context"
	"time"
)

// TransactionView exposes read access to runs, operations, and projects.
type TransactionView interface {
	GetRun(id int64) (Run, bool, error)
	FindRunByName(name string) (Run, bool, error)
	// ListRuns returns runs newest first; limit <= 0 returns all.
	ListRuns(limit int) ([]Run, error)
	CountRuns() (int, error)
	// RunsWithStage returns runs whose stage currently holds code, oldest first.
	RunsWithStage(stage Stage, code OpCode) ([]Run, error)
	// ListActivity returns runs having any stage in one of codes, newest first.
	ListActivity(codes ...OpCode) ([]RunActivity, error)
	ListProjects(runID int64) ([]ProjectRecord, error)
	ProjectsWithUpload(code OpCode) ([]ProjectRecord, error)
}

// Transaction is the mutating surface available inside RunInTransaction.
type Transaction interface {
	TransactionView
	// UpsertRun inserts a new run or, for a known id, refreshes only its
	// status and metadata. Sample sheet and operations are preserved.
	UpsertRun(run Run) (created bool, err error)
	SetSampleSheet(runID int64, name string) error
	// GetOperations returns the run's operations row, creating it with all
	// stages NotRequested on first access.
	GetOperations(runID int64) (Operations, error)
	// SetStage writes code unconditionally and stamps the implied timestamp.
	SetStage(runID int64, stage Stage, code OpCode, at time.Time) error
	// ToggleStage applies Toggle to the stage and reports whether it changed.
	ToggleStage(runID int64, stage Stage) (OpCode, bool, error)
	// RecordProject inserts the project with upload NotRequested, or updates
	// the status of an existing one.
	RecordProject(runID int64, name, status string, at time.Time) error
	// SetProjectUpload writes the project's upload code; Ongoing stamps the
	// upload start and Completed or Failed stamp the end.
	SetProjectUpload(runID int64, name string, code OpCode, at time.Time) error
	ToggleProjectUpload(runID int64, name string) (OpCode, bool, error)
	// RollUpUpload recomputes and stores the run's upload code from its projects.
	RollUpUpload(runID int64) (OpCode, error)
}

// PersistentStore is implemented by every storage backend. Calls to
// RunInTransaction made with a context returned to an enclosing fn reuse the
// enclosing transaction; only the outermost call commits.
type PersistentStore interface {
	Initialize(ctx context.Context) error
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
	View(ctx context.Context, fn func(ctx context.Context, view TransactionView) error) error
	Close() error
}
