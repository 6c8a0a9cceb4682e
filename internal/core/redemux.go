package core

import (
	"context"
	"fmt"
	"strings"

	"runmgr/internal/scheduler"
	"runmgr/pkg/domain"
)

// RedemuxOption is a bitmask of reprocessing options for one project.
type RedemuxOption int

const (
	RedemuxZeroMismatch  RedemuxOption = 1 << iota // no barcode mismatches
	RedemuxRevCompIndex1                           // reverse complement i7
	RedemuxRevCompIndex2                           // reverse complement i5
)

var redemuxLabels = []struct {
	opt   RedemuxOption
	label string
}{
	{RedemuxZeroMismatch, "0 mm"},
	{RedemuxRevCompIndex1, "RC 1"},
	{RedemuxRevCompIndex2, "RC 2"},
}

// String renders the set options as "[0 mm, RC 1, RC 2]", or "" when none is set.
func (o RedemuxOption) String() string {
	var parts []string
	for _, l := range redemuxLabels {
		if o&l.opt != 0 {
			parts = append(parts, l.label)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Toggle flips opt.
func (o RedemuxOption) Toggle(opt RedemuxOption) RedemuxOption {
	return o ^ opt
}

// ParseRedemuxOptions reads option letters: 0 for zero mismatches, 1 and 2 for
// reverse complementing the first or second index.
func ParseRedemuxOptions(s string) (RedemuxOption, error) {
	var o RedemuxOption
	for _, r := range s {
		switch r {
		case '0':
			o = o.Toggle(RedemuxZeroMismatch)
		case '1':
			o = o.Toggle(RedemuxRevCompIndex1)
		case '2':
			o = o.Toggle(RedemuxRevCompIndex2)
		default:
			return 0, fmt.Errorf("unknown redemux option %q", r)
		}
	}
	return o, nil
}

// ProjectSelection chooses reprocessing options for one project of a run.
type ProjectSelection struct {
	Project string
	Options RedemuxOption
}

// RequestRedemux submits a reprocessing job for the selected projects of a
// run. Projects without options are left out; when none remain nothing is
// submitted and the second result is false.
func (s *Service) RequestRedemux(ctx context.Context, runID int64, selections []ProjectSelection) (scheduler.Job, bool, error) {
	var (
		job       scheduler.Job
		submitted bool
	)
	err := s.run(ctx, "request_redemux", func(ctx context.Context) error {
		if s.jobs == nil {
			return ErrNoScheduler
		}
		var run domain.Run
		var projects []domain.ProjectRecord
		err := s.store.View(ctx, func(_ context.Context, view domain.TransactionView) error {
			r, ok, err := view.GetRun(runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
			}
			run = r
			projects, err = view.ListProjects(runID)
			return err
		})
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(projects))
		for _, p := range projects {
			known[p.Name] = true
		}
		targets := make([]scheduler.RedemuxTarget, 0, len(selections))
		for _, sel := range selections {
			if !known[sel.Project] {
				return fmt.Errorf("run %s has no project %s", run.ExperimentName, sel.Project)
			}
			targets = append(targets, scheduler.RedemuxTarget{Project: sel.Project, Options: int(sel.Options)})
		}
		var ok bool
		job, ok = s.jobs.RedemuxJob(run.ExperimentName, targets)
		if !ok {
			return nil
		}
		if _, err := s.jobs.Submit(ctx, job); err != nil {
			return err
		}
		submitted = true
		for _, sel := range selections {
			if sel.Options != 0 {
				s.logger.Info("redemux submitted", "run", run.ExperimentName, "project", sel.Project, "options", sel.Options.String())
			}
		}
		return nil
	})
	return job, submitted, err
}
