package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArgvAndJobBuilders(t *testing.T) {
	s := New("submit", []string{"-p", "NGS"}, "/apps/bin")
	got := strings.Join(s.Argv(s.DemuxJob("RUN 1; rm -rf /", "/runs/RUN/sheet.csv", "/projects")), "|")
	want := "submit|-p|NGS|/apps/bin/pardemux.qsub|RUN 1; rm -rf /|/runs/RUN/sheet.csv|/projects"
	if got != want {
		t.Fatalf("argv = %s, want %s", got, want)
	}
	if job := s.DownloadJob("R", "/runs"); job.Template != "download_run.qsub" || len(job.Args) != 2 {
		t.Fatalf("unexpected download job %+v", job)
	}
	if job := s.UploadJob("/projects/R/P"); job.Template != "upload-project.qsub" || job.Args[0] != "/projects/R/P" {
		t.Fatalf("unexpected upload job %+v", job)
	}
}

func TestRedemuxJobSkipsEmptyOptions(t *testing.T) {
	s := New("submit", nil, "bin")
	job, ok := s.RedemuxJob("RUN", []RedemuxTarget{{"A", 3}, {"B", 0}, {"C", 4}})
	if !ok {
		t.Fatalf("expected a job")
	}
	if strings.Join(job.Args, " ") != "RUN A 3 C 4" || job.Template != "reDemux.qsub" {
		t.Fatalf("unexpected redemux job %+v", job)
	}
	if _, ok := s.RedemuxJob("RUN", []RedemuxTarget{{"A", 0}}); ok {
		t.Fatalf("expected no job when no options are selected")
	}
}

func TestSubmitUsesRunner(t *testing.T) {
	s := New("submit", []string{"-p", "NGS"}, "bin")
	var seen []string
	s.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		seen = append([]string{name}, args...)
		return []byte("  job.42\n"), nil
	}
	id, err := s.Submit(context.Background(), s.UploadJob("p"))
	if err != nil || id != "job.42" {
		t.Fatalf("unexpected submit result %q %v", id, err)
	}
	if len(seen) != 5 || seen[0] != "submit" {
		t.Fatalf("unexpected argv %v", seen)
	}
	if _, err := s.Submit(context.Background(), Job{}); err == nil {
		t.Fatalf("expected error for job without template")
	}
}

func TestSubmitReportsExitCode(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-submit")
	body := "#!/bin/sh\necho \"rejected $*\"\nexit 3\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	s := New(script, nil, dir)
	_, err := s.Submit(context.Background(), s.DownloadJob("RUN", "/runs"))
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.ExitCode != 3 || !strings.Contains(subErr.Output, "rejected") || !strings.Contains(subErr.Output, "RUN /runs") {
		t.Fatalf("unexpected submission error %+v", subErr)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSubmitMissingCommand(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent"), nil, "bin")
	_, err := s.Submit(context.Background(), s.UploadJob("p"))
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.ExitCode != -1 || subErr.Err == nil {
		t.Fatalf("expected start failure, got %v", err)
	}
}
