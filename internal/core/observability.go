package core

import (
	"context"
	"time"

	"runmgr/pkg/domain"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MetricsRecorder observes the outcome and duration of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

// MetricsRecorders fans each observation out to every recorder.
type MetricsRecorders []MetricsRecorder

// Observe implements MetricsRecorder.
func (rs MetricsRecorders) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range rs {
		r.Observe(ctx, operation, success, duration)
	}
}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Tracer opens a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's result.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome of an audited change.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records one stage transition, for a run or one of its projects.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	RunID     int64
	Run       string
	Project   string
	Stage     domain.Stage
	From      domain.OpCode
	To        domain.OpCode
	Error     string
	At        time.Time
}

// AuditRecorder receives stage transitions.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

// AuditRecorders fans each entry out to every recorder.
type AuditRecorders []AuditRecorder

// Record implements AuditRecorder.
func (rs AuditRecorders) Record(ctx context.Context, entry AuditEntry) {
	for _, r := range rs {
		r.Record(ctx, entry)
	}
}

func (noopAudit) Record(context.Context, AuditEntry) {}
