package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"runmgr/internal/lock"
	"runmgr/internal/notify"
	"runmgr/internal/scheduler"
	"runmgr/pkg/domain"
)

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	ID          string
	Started     time.Time
	Finished    time.Time
	Listed      int
	Added       int
	Submitted   int
	Transitions int
	// Events are the digest lines produced by the cycle.
	Events []string
	Mailed bool
}

// cycle carries the per-cycle state shared by the steps.
type cycle struct {
	svc    *Service
	digest *notify.Digest
	report *CycleReport
}

// runOps pairs a run with its operations row.
type runOps struct {
	run domain.Run
	ops domain.Operations
}

// projectRef pairs a project with the run it belongs to.
type projectRef struct {
	run     domain.Run
	project domain.ProjectRecord
}

// RunCycle performs one batch pass: refresh runs, check and start downloads,
// check and start demultiplexing, check and start uploads, then mail the
// digest of what happened. Failures of individual runs do not stop the cycle;
// they are joined into the returned error.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString(), Started: s.now()}
	if s.paths.LockFile != "" {
		l, err := lock.Acquire(s.paths.LockFile)
		if errors.Is(err, lock.ErrLocked) {
			s.logger.Warn("cycle skipped, lock held", "lock", s.paths.LockFile)
			return report, ErrCycleInProgress
		}
		if err != nil {
			return report, fmt.Errorf("acquire cycle lock: %w", err)
		}
		defer func() {
			if err := l.Release(); err != nil {
				s.logger.Warn("release cycle lock", "lock", s.paths.LockFile, "error", err)
			}
		}()
	}

	c := &cycle{svc: s, digest: notify.NewDigest(s.now), report: &report}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"refresh_runs", c.refresh},
		{"check_downloads", c.checkDownloads},
		{"start_downloads", c.startDownloads},
		{"check_demux", c.checkDemux},
		{"start_demux", c.startDemux},
		{"check_uploads", c.checkUploads},
		{"start_uploads", c.startUploads},
	}
	s.logger.Info("cycle started", "cycle", report.ID)
	err := s.run(ctx, "run_cycle", func(ctx context.Context) error {
		var errs []error
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := s.run(ctx, step.name, step.fn); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			}
		}
		if err := c.notify(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
		return errors.Join(errs...)
	})
	report.Finished = s.now()
	report.Events = c.digest.Lines()
	s.logger.Info("cycle finished", "cycle", report.ID, "events", len(report.Events),
		"submitted", report.Submitted, "transitions", report.Transitions)
	return report, err
}

func (c *cycle) event(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.digest.Add("%s", msg)
	c.svc.logger.Info(msg, "cycle", c.report.ID)
}

func (c *cycle) expired(start time.Time) bool {
	t := c.svc.stageTimeout
	return t > 0 && !start.IsZero() && c.svc.now().Sub(start) > t
}

func (c *cycle) refresh(ctx context.Context) error {
	if c.svc.lister == nil {
		return nil
	}
	listed, added, err := c.svc.refreshRuns(ctx)
	c.report.Listed, c.report.Added = listed, added
	if err != nil {
		return err
	}
	if added > 0 {
		c.event("%d runs downloaded from Basespace, %d new runs added.", listed, added)
	}
	return nil
}

func (c *cycle) checkDownloads(ctx context.Context) error {
	pending, err := c.svc.stageRuns(ctx, domain.StageDownload, domain.OpOngoing)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range pending {
		name := p.run.ExperimentName
		code, found, err := downloadOutcome(c.svc.runDirectory(name))
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		detail := ""
		if !found {
			if !c.expired(p.ops.DownloadStart) {
				continue
			}
			code, detail = domain.OpFailed, fmt.Sprintf(" (no marker after %s)", c.svc.stageTimeout)
		}
		if err := c.setStage(ctx, p, domain.StageDownload, code); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		c.event("Download of run %s: %s%s", name, outcomeLabel(code), detail)
	}
	return errors.Join(errs...)
}

func (c *cycle) startDownloads(ctx context.Context) error {
	requested, err := c.svc.stageRuns(ctx, domain.StageDownload, domain.OpRequested)
	if err != nil || len(requested) == 0 {
		return err
	}
	if c.svc.jobs == nil {
		return ErrNoScheduler
	}
	var errs []error
	for _, p := range requested {
		name := p.run.ExperimentName
		if busy(p.run.Status) {
			c.svc.logger.Debug("download deferred", "run", name, "status", p.run.Status)
			continue
		}
		job := c.svc.jobs.DownloadJob(name, c.svc.paths.RunDirectory)
		if err := c.submit(ctx, p, domain.StageDownload, job); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		c.event("Starting download of run %s", name)
	}
	return errors.Join(errs...)
}

func (c *cycle) checkDemux(ctx context.Context) error {
	pending, err := c.svc.stageRuns(ctx, domain.StageDemux, domain.OpOngoing)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range pending {
		name := p.run.ExperimentName
		statusFile := filepath.Join(c.svc.demuxDirectory(name), MarkerDemuxStatus)
		rows, found, err := readDemuxStatus(statusFile)
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		if !found {
			if !c.expired(p.ops.DemuxStart) {
				continue
			}
			if err := c.setStage(ctx, p, domain.StageDemux, domain.OpFailed); err != nil {
				errs = append(errs, fmt.Errorf("run %s: %w", name, err))
				continue
			}
			c.event("Run %s demux: FAILED (no status file after %s)", name, c.svc.stageTimeout)
			continue
		}
		now := c.svc.now()
		err = c.svc.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
			if err := tx.SetStage(p.run.ID, domain.StageDemux, domain.OpCompleted, now); err != nil {
				return err
			}
			for _, row := range rows {
				if err := tx.RecordProject(p.run.ID, row.Project, row.Status, now); err != nil {
					return err
				}
			}
			return nil
		})
		c.audit(ctx, p.run, "", domain.StageDemux, p.ops.Demux, domain.OpCompleted, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		c.event("Run %s demux: SUCCESS, statusfile=%s", name, statusFile)
		for _, row := range rows {
			c.event("Project %s: %s", row.Project, row.Status)
		}
	}
	return errors.Join(errs...)
}

func (c *cycle) startDemux(ctx context.Context) error {
	requested, err := c.svc.stageRuns(ctx, domain.StageDemux, domain.OpRequested)
	if err != nil {
		return err
	}
	var ready []runOps
	for _, p := range requested {
		if p.ops.Download == domain.OpCompleted {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	if c.svc.jobs == nil {
		return ErrNoScheduler
	}
	var errs []error
	for _, p := range ready {
		name := p.run.ExperimentName
		sheet, err := c.svc.stageSampleSheet(ctx, p.run)
		if errors.Is(err, ErrNoUniqueSampleSheet) || errors.Is(err, ErrNoSampleSheetSource) {
			c.svc.logger.Warn("demux waiting for sample sheet", "run", name, "error", err)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		if err := c.svc.verifySampleSheet(name, sheet); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		job := c.svc.jobs.DemuxJob(name, sheet, c.svc.paths.ProjectsDirectory)
		if err := c.submit(ctx, p, domain.StageDemux, job); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
			continue
		}
		c.event("Starting demux of run %s", name)
	}
	return errors.Join(errs...)
}

func (c *cycle) checkUploads(ctx context.Context) error {
	pending, err := c.svc.uploadProjects(ctx, domain.OpOngoing)
	if err != nil {
		return err
	}
	var errs []error
	for _, ref := range pending {
		run, proj := ref.run.ExperimentName, ref.project.Name
		marker := filepath.Join(c.svc.projectDirectory(run, proj), MarkerUpload)
		code, found, err := readUploadOutcome(marker)
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", proj, err))
			continue
		}
		detail := ""
		if !found {
			if !c.expired(ref.project.UploadStart) {
				continue
			}
			code, detail = domain.OpFailed, fmt.Sprintf(" (no marker after %s)", c.svc.stageTimeout)
		}
		if err := c.setProjectUpload(ctx, ref, code); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", proj, err))
			continue
		}
		c.event("Upload of project %s: %s%s", proj, outcomeLabel(code), detail)
	}
	return errors.Join(errs...)
}

func (c *cycle) startUploads(ctx context.Context) error {
	requested, err := c.svc.uploadProjects(ctx, domain.OpRequested)
	if err != nil || len(requested) == 0 {
		return err
	}
	if c.svc.jobs == nil {
		return ErrNoScheduler
	}
	var errs []error
	for _, ref := range requested {
		run, proj := ref.run.ExperimentName, ref.project.Name
		dir := c.svc.projectDirectory(run, proj)
		if err := os.Remove(filepath.Join(dir, MarkerUpload)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("project %s: remove stale marker: %w", proj, err))
			continue
		}
		if _, err := c.svc.jobs.Submit(ctx, c.svc.jobs.UploadJob(dir)); err != nil {
			c.svc.logger.Error("upload submission failed", "run", run, "project", proj, "error", err)
			errs = append(errs, fmt.Errorf("project %s: %w", proj, err))
			continue
		}
		c.report.Submitted++
		if err := c.setProjectUpload(ctx, ref, domain.OpOngoing); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", proj, err))
			continue
		}
		c.event("Starting upload of project %s", proj)
	}
	return errors.Join(errs...)
}

func (c *cycle) notify(ctx context.Context) error {
	if c.digest.Empty() {
		return nil
	}
	subject := c.svc.subject
	if subject == "" {
		subject = notify.DefaultSubject
	}
	msg := notify.Message{
		Subject: fmt.Sprintf("%s [%s]", subject, shortID(c.report.ID)),
		Lines:   c.digest.Lines(),
	}
	if err := c.svc.mailer.Send(ctx, msg); err != nil {
		return err
	}
	c.report.Mailed = true
	return nil
}

// submit hands job to the scheduler and marks the stage Ongoing. A failed
// submission leaves the stage untouched so the next cycle retries it.
func (c *cycle) submit(ctx context.Context, p runOps, stage domain.Stage, job scheduler.Job) error {
	if _, err := c.svc.jobs.Submit(ctx, job); err != nil {
		c.svc.logger.Error("job submission failed", "run", p.run.ExperimentName, "stage", stage, "error", err)
		return err
	}
	c.report.Submitted++
	return c.setStage(ctx, p, stage, domain.OpOngoing)
}

func (c *cycle) setStage(ctx context.Context, p runOps, stage domain.Stage, code domain.OpCode) error {
	err := c.svc.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		return tx.SetStage(p.run.ID, stage, code, c.svc.now())
	})
	c.audit(ctx, p.run, "", stage, p.ops.Code(stage), code, err)
	return err
}

// setProjectUpload writes the project's upload code and rolls the run's code up.
func (c *cycle) setProjectUpload(ctx context.Context, ref projectRef, code domain.OpCode) error {
	err := c.svc.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		if err := tx.SetProjectUpload(ref.run.ID, ref.project.Name, code, c.svc.now()); err != nil {
			return err
		}
		_, err := tx.RollUpUpload(ref.run.ID)
		return err
	})
	c.audit(ctx, ref.run, ref.project.Name, domain.StageUpload, ref.project.Upload, code, err)
	return err
}

func (c *cycle) audit(ctx context.Context, run domain.Run, project string, stage domain.Stage, from, to domain.OpCode, err error) {
	if err == nil {
		c.report.Transitions++
	}
	c.svc.record(ctx, AuditEntry{
		Operation: "cycle",
		RunID:     run.ID,
		Run:       run.ExperimentName,
		Project:   project,
		Stage:     stage,
		From:      from,
		To:        to,
	}, err)
}

// stageRuns returns the runs whose stage holds code, with their operations.
func (s *Service) stageRuns(ctx context.Context, stage domain.Stage, code domain.OpCode) ([]runOps, error) {
	var out []runOps
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		runs, err := tx.RunsWithStage(stage, code)
		if err != nil {
			return err
		}
		out = make([]runOps, 0, len(runs))
		for _, run := range runs {
			ops, err := tx.GetOperations(run.ID)
			if err != nil {
				return err
			}
			out = append(out, runOps{run: run, ops: ops})
		}
		return nil
	})
	return out, err
}

// uploadProjects returns the projects whose upload holds code, with their runs.
func (s *Service) uploadProjects(ctx context.Context, code domain.OpCode) ([]projectRef, error) {
	var out []projectRef
	err := s.store.View(ctx, func(ctx context.Context, view domain.TransactionView) error {
		projects, err := view.ProjectsWithUpload(code)
		if err != nil {
			return err
		}
		runs := make(map[int64]domain.Run)
		for _, p := range projects {
			run, ok := runs[p.ParentRun]
			if !ok {
				var found bool
				run, found, err = view.GetRun(p.ParentRun)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				runs[p.ParentRun] = run
			}
			out = append(out, projectRef{run: run, project: p})
		}
		return nil
	})
	return out, err
}

// busy reports whether the sequencer is still producing the run.
func busy(status string) bool {
	return status == "Running" || status == "Uploading"
}

func outcomeLabel(code domain.OpCode) string {
	if code == domain.OpCompleted {
		return "SUCCESS"
	}
	return "FAILED"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
