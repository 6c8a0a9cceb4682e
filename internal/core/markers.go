package core

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"runmgr/pkg/domain"
)

// Marker file names written by the pipeline jobs.
const (
	MarkerSuccess     = "SUCCESS"
	MarkerFailed      = "FAILED"
	MarkerDemuxStatus = "STATUS"
	MarkerUpload      = "UPLOAD"
)

// ProjectStatus is one row of a demultiplexing STATUS file.
type ProjectStatus struct {
	Project string
	Status  string
}

func (s *Service) runDirectory(run string) string {
	return filepath.Join(s.paths.RunDirectory, run)
}

func (s *Service) demuxDirectory(run string) string {
	return filepath.Join(s.paths.ProjectsDirectory, run)
}

func (s *Service) projectDirectory(run, project string) string {
	return filepath.Join(s.paths.ProjectsDirectory, run, project)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// downloadOutcome inspects the markers of a download job. FAILED wins over
// SUCCESS when both are present.
func downloadOutcome(dir string) (domain.OpCode, bool, error) {
	failed, err := exists(filepath.Join(dir, MarkerFailed))
	if err != nil {
		return "", false, err
	}
	if failed {
		return domain.OpFailed, true, nil
	}
	ok, err := exists(filepath.Join(dir, MarkerSuccess))
	if err != nil || !ok {
		return "", false, err
	}
	return domain.OpCompleted, true, nil
}

// readDemuxStatus parses a tab separated STATUS file of project and status
// columns. Rows without both columns are skipped.
func readDemuxStatus(path string) ([]ProjectStatus, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	var rows []ProjectStatus
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		rows = append(rows, ProjectStatus{Project: fields[0], Status: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, true, err
	}
	return rows, true, nil
}

// readUploadOutcome reads an UPLOAD marker: a first line of "0" means success,
// anything else failure.
func readUploadOutcome(path string) (domain.OpCode, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	first, _, _ := strings.Cut(string(data), "\n")
	if strings.TrimSpace(first) == "0" {
		return domain.OpCompleted, true, nil
	}
	return domain.OpFailed, true, nil
}
