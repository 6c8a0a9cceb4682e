// Package command builds the runmgr and ssmgr command line applications.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"runmgr/internal/basespace"
	"runmgr/internal/blob"
	"runmgr/internal/config"
	"runmgr/internal/core"
	"runmgr/internal/notify"
	"runmgr/internal/scheduler"
)

// Runtime is a service wired to its backends, plus what must be released.
type Runtime struct {
	Service *core.Service
	// Metrics is nil when no textfile export is configured.
	Metrics  *core.PrometheusMetricsRecorder
	Textfile string
	// Counters is nil when no snapshot export is configured.
	Counters *core.ExpvarMetricsRecorder
	Snapshot string
	// Tracer is nil unless log.trace is set.
	Tracer   *core.JSONTraceTracer
	Closer   func() error
}

// Close releases the runtime's resources.
func (r *Runtime) Close() error {
	if r == nil || r.Closer == nil {
		return nil
	}
	return r.Closer()
}

// OpenRuntime builds the service described by cfg.
func OpenRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return nil, err
	}
	sheets, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.SampleSheets.Driver),
		Root:   cfg.SampleSheets.Root,
		S3: blob.S3Config{
			Bucket:    cfg.SampleSheets.S3.Bucket,
			Region:    cfg.SampleSheets.S3.Region,
			Endpoint:  cfg.SampleSheets.S3.Endpoint,
			PathStyle: cfg.SampleSheets.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	jobs := scheduler.New(cfg.Scheduler.Command, cfg.Scheduler.Args, cfg.Paths.Bin)
	jobs.Templates = templates(cfg.Scheduler)

	var mailer notify.Mailer = notify.Discard{}
	if cfg.Mail.Server != "" {
		mailer = notify.NewSMTPMailer(cfg.Mail.Server, cfg.Mail.Sender, cfg.Mail.Recipients, cfg.Mail.Subject)
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithRunLister(basespace.New(cfg.BaseSpace.Binary, cfg.BaseSpace.APIServer, cfg.BaseSpace.AccessToken, cfg.BaseSpace.ConfigName)),
		core.WithScheduler(jobs),
		core.WithSampleSheets(sheets, cfg.SampleSheets.Prefix),
		core.WithMailer(mailer, cfg.Mail.Subject),
		core.WithPaths(core.Paths{
			RunDirectory:      cfg.Paths.RunDirectory,
			ProjectsDirectory: cfg.Paths.ProjectsDirectory,
			LockFile:          cfg.Paths.LockFile,
		}),
		core.WithStageTimeout(cfg.Pipeline.StageTimeout.Std()),
	}
	rt := &Runtime{Textfile: cfg.Metrics.Textfile, Snapshot: cfg.Metrics.Snapshot}
	closers := []func() error{store.Close}
	var (
		metrics core.MetricsRecorders
		audit   core.AuditRecorders
	)
	if rt.Textfile != "" {
		rt.Metrics = core.NewPrometheusMetricsRecorder()
		metrics = append(metrics, rt.Metrics)
		audit = append(audit, rt.Metrics)
	}
	if rt.Snapshot != "" {
		rt.Counters = core.NewExpvarMetricsRecorder("")
		metrics = append(metrics, rt.Counters)
		audit = append(audit, rt.Counters)
	}
	if len(metrics) > 0 {
		opts = append(opts, core.WithMetricsRecorder(metrics), core.WithAuditRecorder(audit))
	}
	if cfg.Log.Trace != "" {
		f, err := os.OpenFile(cfg.Log.Trace, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Join(err, store.Close())
		}
		closers = append(closers, f.Close)
		rt.Tracer = core.NewJSONTracer(f)
		opts = append(opts, core.WithTracer(rt.Tracer))
	}
	rt.Closer = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	rt.Service = core.NewService(store, opts...)
	return rt, nil
}

// writeMetrics refreshes every configured metrics file.
func (r *Runtime) writeMetrics() error {
	var errs []error
	if r.Metrics != nil && r.Textfile != "" {
		if err := r.Metrics.WriteTextfile(r.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if r.Counters != nil && r.Snapshot != "" {
		if err := r.Counters.WriteSnapshot(r.Snapshot); err != nil {
			errs = append(errs, fmt.Errorf("write snapshot: %w", err))
		}
	}
	return errors.Join(errs...)
}

func templates(cfg config.SchedulerConfig) scheduler.Templates {
	t := scheduler.DefaultTemplates
	for _, o := range []struct {
		dst *string
		v   string
	}{
		{&t.Download, cfg.DownloadTemplate},
		{&t.Demux, cfg.DemuxTemplate},
		{&t.Upload, cfg.UploadTemplate},
		{&t.Redemux, cfg.RedemuxTemplate},
	} {
		if o.v != "" {
			*o.dst = o.v
		}
	}
	return t
}
