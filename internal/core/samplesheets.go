package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"runmgr/internal/blob"
	"runmgr/pkg/domain"
	"runmgr/pkg/samplesheet"
)

// SampleSheetPattern returns the file pattern sheets for flowcell must match.
func SampleSheetPattern(flowcell string) string {
	return "*" + flowcell + "*.csv"
}

// AttachSampleSheetIfUnique looks for exactly one sheet whose name contains
// the flowcell barcode. When found it is copied into the run directory and
// recorded on the run; the local path is returned. Zero or several matches
// return ErrNoUniqueSampleSheet and change nothing.
func (s *Service) AttachSampleSheetIfUnique(ctx context.Context, runID int64, flowcell string) (string, error) {
	var local string
	err := s.run(ctx, "attach_sample_sheet", func(ctx context.Context) error {
		run, err := s.lookupRun(ctx, runID)
		if err != nil {
			return err
		}
		local, err = s.attachUnique(ctx, run, flowcell)
		return err
	})
	return local, err
}

// AttachSampleSheet records key as the run's sheet and copies it into the run
// directory.
func (s *Service) AttachSampleSheet(ctx context.Context, runID int64, key string) (string, error) {
	var local string
	err := s.run(ctx, "attach_sample_sheet", func(ctx context.Context) error {
		if s.sheets == nil {
			return ErrNoSampleSheetSource
		}
		run, err := s.lookupRun(ctx, runID)
		if err != nil {
			return err
		}
		if _, err := s.sheets.Head(ctx, key); err != nil {
			return fmt.Errorf("sample sheet %s: %w", key, err)
		}
		local, err = s.attach(ctx, run, key)
		return err
	})
	return local, err
}

func (s *Service) attachUnique(ctx context.Context, run domain.Run, flowcell string) (string, error) {
	if s.sheets == nil {
		return "", ErrNoSampleSheetSource
	}
	if flowcell == "" {
		return "", fmt.Errorf("%w: run %s has no flowcell barcode", ErrNoUniqueSampleSheet, run.ExperimentName)
	}
	matches, err := blob.Match(ctx, s.sheets, s.sheetPrefix, SampleSheetPattern(flowcell))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %d sheets match flowcell %s", ErrNoUniqueSampleSheet, len(matches), flowcell)
	}
	return s.attach(ctx, run, matches[0].Key)
}

func (s *Service) attach(ctx context.Context, run domain.Run, key string) (string, error) {
	local, err := s.copySampleSheet(ctx, run, key)
	if err != nil {
		return "", err
	}
	err = s.store.RunInTransaction(ctx, func(ctx context.Context, tx domain.Transaction) error {
		return tx.SetSampleSheet(run.ID, key)
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("sample sheet attached", "run", run.ExperimentName, "sheet", key, "path", local)
	return local, nil
}

// stageSampleSheet returns the local copy of the run's sheet, attaching one
// first when the run has none. An existing local copy is kept as is, since
// operators may have corrected it in place.
func (s *Service) stageSampleSheet(ctx context.Context, run domain.Run) (string, error) {
	if run.SampleSheet == "" {
		return s.attachUnique(ctx, run, run.Metadata.FlowcellBarcode)
	}
	local := s.localSheetPath(run, run.SampleSheet)
	ok, err := exists(local)
	if err != nil {
		return "", err
	}
	if ok {
		return local, nil
	}
	if s.sheets == nil {
		return "", ErrNoSampleSheetSource
	}
	return s.copySampleSheet(ctx, run, run.SampleSheet)
}

func (s *Service) localSheetPath(run domain.Run, key string) string {
	return filepath.Join(s.runDirectory(run.ExperimentName), path.Base(key))
}

func (s *Service) copySampleSheet(ctx context.Context, run domain.Run, key string) (string, error) {
	_, rc, err := s.sheets.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("sample sheet %s: %w", key, err)
	}
	defer rc.Close()
	dst := s.localSheetPath(run, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("copy sample sheet %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// verifySampleSheet parses the staged sheet and logs its warnings. Warnings do
// not block demultiplexing; an unreadable sheet does.
func (s *Service) verifySampleSheet(run, path string) error {
	sheet, err := samplesheet.ParseFile(path)
	if err != nil {
		return err
	}
	for _, w := range s.verifier.Verify(sheet) {
		s.logger.Warn("sample sheet warning", "run", run, "sheet", path, "warning", w.Message)
	}
	return nil
}

func (s *Service) lookupRun(ctx context.Context, runID int64) (domain.Run, error) {
	var run domain.Run
	err := s.store.View(ctx, func(_ context.Context, view domain.TransactionView) error {
		r, ok, err := view.GetRun(runID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
		}
		run = r
		return nil
	})
	return run, err
}
