package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"runmgr/pkg/domain"
)

// RefreshRuns lists the runs known to the platform and stores them. It
// returns how many runs were listed and how many of them were new.
func (s *Service) RefreshRuns(ctx context.Context) (listed, added int, err error) {
	err = s.run(ctx, "refresh_runs", func(ctx context.Context) error {
		var err error
		listed, added, err = s.refreshRuns(ctx)
		return err
	})
	return listed, added, err
}

func (s *Service) refreshRuns(ctx context.Context) (int, int, error) {
	if s.lister == nil {
		return 0, 0, errors.New("core: no run lister configured")
	}
	runs, err := s.lister.ListRuns(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list runs: %w", err)
	}
	added := 0
	err = s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		for _, run := range runs {
			created, err := tx.UpsertRun(run)
			if err != nil {
				return fmt.Errorf("store run %s: %w", run.ExperimentName, err)
			}
			if created {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return len(runs), 0, err
	}
	return len(runs), added, nil
}

// ToggleStage flips a run's stage between Requested and not requested. For
// the upload stage of a demultiplexed run the request is passed on to its
// projects: requesting marks every demultiplexed project that is not
// requested or failed, un-requesting reverts the requested ones, and the run
// code is rolled up from the result.
func (s *Service) ToggleStage(ctx context.Context, runID int64, stage domain.Stage) (domain.OpCode, bool, error) {
	var (
		run      domain.Run
		from, to domain.OpCode
	)
	err := s.run(ctx, "toggle_stage", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
			r, ok, err := tx.GetRun(runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
			}
			run = r
			ops, err := tx.GetOperations(runID)
			if err != nil {
				return err
			}
			from = ops.Code(stage)
			var projects []domain.ProjectRecord
			if stage == domain.StageUpload {
				if projects, err = tx.ListProjects(runID); err != nil {
					return err
				}
			}
			if len(projects) == 0 {
				to, _, err = tx.ToggleStage(runID, stage)
				return err
			}
			next, ok := domain.Toggle(from)
			if !ok {
				to = from
				return nil
			}
			now := s.now()
			for _, p := range projects {
				switch {
				case next == domain.OpRequested && p.Demultiplexed() &&
					(p.Upload == domain.OpNotRequested || p.Upload == domain.OpFailed):
					err = tx.SetProjectUpload(runID, p.Name, domain.OpRequested, now)
				case next == domain.OpNotRequested && p.Upload == domain.OpRequested:
					err = tx.SetProjectUpload(runID, p.Name, domain.OpNotRequested, now)
				}
				if err != nil {
					return err
				}
			}
			to, err = tx.RollUpUpload(runID)
			return err
		})
	})
	changed := err == nil && to != from
	if changed {
		s.record(ctx, AuditEntry{Operation: "toggle_stage", RunID: runID, Run: run.ExperimentName, Stage: stage, From: from, To: to}, nil)
	}
	return to, changed, err
}

// ForceStage sets a run's stage code unconditionally, stamping the timestamp
// the code implies.
func (s *Service) ForceStage(ctx context.Context, runID int64, stage domain.Stage, code domain.OpCode) error {
	var (
		run  domain.Run
		from domain.OpCode
	)
	err := s.run(ctx, "force_stage", func(ctx context.Context) error {
		if !code.Valid() {
			return fmt.Errorf("invalid operation code %q", code)
		}
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
			r, ok, err := tx.GetRun(runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
			}
			run = r
			ops, err := tx.GetOperations(runID)
			if err != nil {
				return err
			}
			from = ops.Code(stage)
			return tx.SetStage(runID, stage, code, s.now())
		})
	})
	if run.ID != 0 {
		s.record(ctx, AuditEntry{Operation: "force_stage", RunID: runID, Run: run.ExperimentName, Stage: stage, From: from, To: code}, err)
	}
	return err
}

// ToggleProjectUpload flips one project's upload request and rolls the run's
// upload code up.
func (s *Service) ToggleProjectUpload(ctx context.Context, runID int64, project string) (domain.OpCode, bool, error) {
	var (
		code    domain.OpCode
		changed bool
	)
	err := s.run(ctx, "toggle_project_upload", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
			var err error
			code, changed, err = tx.ToggleProjectUpload(runID, project)
			if err != nil || !changed {
				return err
			}
			_, err = tx.RollUpUpload(runID)
			return err
		})
	})
	if changed && err == nil {
		s.record(ctx, AuditEntry{Operation: "toggle_project_upload", RunID: runID, Project: project, Stage: domain.StageUpload, To: code}, nil)
	}
	return code, changed, err
}

// RunDetail is the full state of one run.
type RunDetail struct {
	Run        domain.Run
	Operations domain.Operations
	Projects   []domain.ProjectRecord
	// Demultiplexed lists the projects whose demux output carries a SUCCESS marker.
	Demultiplexed map[string]bool
}

// ResolveRun finds a run by numeric id or experiment name.
func (s *Service) ResolveRun(ctx context.Context, ref string) (domain.Run, error) {
	var run domain.Run
	err := s.store.View(ctx, func(_ context.Context, view domain.TransactionView) error {
		var (
			r   domain.Run
			ok  bool
			err error
		)
		if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
			r, ok, err = view.GetRun(id)
		}
		if err == nil && !ok {
			r, ok, err = view.FindRunByName(ref)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s: %w", ref, domain.ErrRunNotFound)
		}
		run = r
		return nil
	})
	return run, err
}

// Describe returns the run with its operations, projects and demux markers.
func (s *Service) Describe(ctx context.Context, runID int64) (RunDetail, error) {
	var d RunDetail
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		run, ok, err := tx.GetRun(runID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
		}
		d.Run = run
		if d.Operations, err = tx.GetOperations(runID); err != nil {
			return err
		}
		d.Projects, err = tx.ListProjects(runID)
		return err
	})
	if err != nil {
		return RunDetail{}, err
	}
	d.Demultiplexed, err = s.DemuxStatus(d.Run, d.Projects)
	return d, err
}

// DemuxStatus reports which projects have a SUCCESS marker in the run directory.
func (s *Service) DemuxStatus(run domain.Run, projects []domain.ProjectRecord) (map[string]bool, error) {
	out := make(map[string]bool, len(projects))
	for _, p := range projects {
		ok, err := exists(filepath.Join(s.runDirectory(run.ExperimentName), p.Name, MarkerSuccess))
		if err != nil {
			return nil, err
		}
		out[p.Name] = ok
	}
	return out, nil
}

// ListRuns returns up to limit runs, newest first, and the total number of runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunActivity, int, error) {
	var (
		out   []domain.RunActivity
		total int
	)
	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		runs, err := tx.ListRuns(limit)
		if err != nil {
			return err
		}
		if total, err = tx.CountRuns(); err != nil {
			return err
		}
		out = make([]domain.RunActivity, 0, len(runs))
		for _, run := range runs {
			ops, err := tx.GetOperations(run.ID)
			if err != nil {
				return err
			}
			out = append(out, domain.RunActivity{Run: run, Operations: ops})
		}
		return nil
	})
	return out, total, err
}

// Active returns runs with a stage requested or ongoing.
func (s *Service) Active(ctx context.Context) ([]domain.RunActivity, error) {
	return s.activity(ctx, domain.OpRequested, domain.OpOngoing)
}

// Finished returns runs with a stage completed or failed.
func (s *Service) Finished(ctx context.Context) ([]domain.RunActivity, error) {
	return s.activity(ctx, domain.OpCompleted, domain.OpFailed)
}

func (s *Service) activity(ctx context.Context, codes ...domain.OpCode) ([]domain.RunActivity, error) {
	var out []domain.RunActivity
	err := s.store.View(ctx, func(_ context.Context, view domain.TransactionView) error {
		var err error
		out, err = view.ListActivity(codes...)
		return err
	})
	return out, err
}
