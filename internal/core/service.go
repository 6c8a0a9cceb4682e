// Package core drives sequencing runs through download, demultiplexing and
// upload. Work happens in batch cycles: each cycle refreshes the run list,
// polls the marker files left by finished jobs and submits the jobs that
// operators have requested.
package core

import (
	"context"
	"errors"
	"time"

	"runmgr/internal/blob"
	"runmgr/internal/notify"
	"runmgr/internal/scheduler"
	"runmgr/pkg/domain"
	"runmgr/pkg/samplesheet"
)

// DefaultStageTimeout bounds how long a stage may stay Ongoing without a marker.
const DefaultStageTimeout = 96 * time.Hour

var (
	// ErrCycleInProgress is returned when another process holds the cycle lock.
	ErrCycleInProgress = errors.New("core: another cycle is in progress")
	// ErrNoUniqueSampleSheet is returned when zero or several sheets match a flowcell.
	ErrNoUniqueSampleSheet = errors.New("core: no unique sample sheet")
	// ErrNoSampleSheetSource is returned when no sheet store is configured.
	ErrNoSampleSheetSource = errors.New("core: no sample sheet source configured")
	// ErrNoScheduler is returned when a job must be submitted but no scheduler is configured.
	ErrNoScheduler = errors.New("core: no job scheduler configured")
)

// RunLister enumerates the runs known to the sequencing platform.
type RunLister interface {
	ListRuns(ctx context.Context) ([]domain.Run, error)
}

// JobScheduler builds and submits pipeline jobs. *scheduler.Submitter
// implements it.
type JobScheduler interface {
	DownloadJob(run, runDirectory string) scheduler.Job
	DemuxJob(run, sheet, projectsDirectory string) scheduler.Job
	UploadJob(projectDirectory string) scheduler.Job
	RedemuxJob(run string, targets []scheduler.RedemuxTarget) (scheduler.Job, bool)
	Submit(ctx context.Context, job scheduler.Job) (string, error)
}

// Paths locates the directories jobs write into.
type Paths struct {
	// RunDirectory holds one directory per downloaded run.
	RunDirectory string
	// ProjectsDirectory holds per-run demultiplexing output.
	ProjectsDirectory string
	// LockFile guards cycles against each other; empty disables locking.
	LockFile string
}

// Service coordinates the store with the external systems.
type Service struct {
	store        domain.PersistentStore
	lister       RunLister
	jobs         JobScheduler
	sheets       blob.Store
	sheetPrefix  string
	mailer       notify.Mailer
	subject      string
	verifier     *samplesheet.Verifier
	paths        Paths
	stageTimeout time.Duration

	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; nil restores the no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l == nil {
			l = noopLogger{}
		}
		s.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder installs an operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder installs a sink for stage transitions.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithRunLister sets the source of runs for the refresh step.
func WithRunLister(l RunLister) Option {
	return func(s *Service) { s.lister = l }
}

// WithScheduler sets the job scheduler.
func WithScheduler(j JobScheduler) Option {
	return func(s *Service) { s.jobs = j }
}

// WithSampleSheets sets the store sample sheets are looked up in and the key
// prefix they live under.
func WithSampleSheets(store blob.Store, prefix string) Option {
	return func(s *Service) {
		s.sheets = store
		s.sheetPrefix = prefix
	}
}

// WithMailer sets the digest mailer and the subject of its messages.
func WithMailer(m notify.Mailer, subject string) Option {
	return func(s *Service) {
		if m == nil {
			m = notify.Discard{}
		}
		s.mailer = m
		s.subject = subject
	}
}

// WithVerifier replaces the sample sheet verifier run before demultiplexing.
func WithVerifier(v *samplesheet.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithPaths sets the job directories and lock file.
func WithPaths(p Paths) Option {
	return func(s *Service) { s.paths = p }
}

// WithStageTimeout sets how long a stage may stay Ongoing without a marker
// before it is failed. Zero disables the timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.stageTimeout = d
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:        store,
		mailer:       notify.Discard{},
		verifier:     samplesheet.NewVerifier(),
		stageTimeout: DefaultStageTimeout,
		logger:       noopLogger{},
		clock:        systemClock{},
		metrics:      noopMetrics{},
		tracer:       noopTracer{},
		audit:        noopAudit{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Initialize prepares the store schema.
func (s *Service) Initialize(ctx context.Context) error {
	return s.run(ctx, "initialize", s.store.Initialize)
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// run wraps fn with tracing, metrics and a debug log line.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	dur := s.now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, dur)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "duration", dur, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", op, "duration", dur)
	}
	return err
}

func (s *Service) record(ctx context.Context, entry AuditEntry, err error) {
	entry.Status = AuditStatusSuccess
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}
	s.audit.Record(ctx, entry)
}
