// Package scheduler submits pipeline jobs to the batch system through its
// submission command. Arguments are always passed as a list, never through
// a shell.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Templates names the job scripts, relative to the bin directory.
type Templates struct {
	Download string
	Demux    string
	Upload   string
	Redemux  string
}

// DefaultTemplates are the job scripts shipped with the pipeline.
var DefaultTemplates = Templates{
	Download: "download_run.qsub",
	Demux:    "pardemux.qsub",
	Upload:   "upload-project.qsub",
	Redemux:  "reDemux.qsub",
}

// Job is one submission: a template script and its positional arguments.
type Job struct {
	Template string
	Args     []string
}

// SubmissionError reports a submission command that failed or exited non-zero.
type SubmissionError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submit %s: exit code %d", strings.Join(e.Argv, " "), e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.ExitCode < 0 && e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Submitter runs Command BaseArgs... <BinPath/template> args...
type Submitter struct {
	Command   string
	BaseArgs  []string
	BinPath   string
	Templates Templates
	run       runFunc
}

// New returns a Submitter with the default templates.
func New(command string, baseArgs []string, binPath string) *Submitter {
	return &Submitter{
		Command:   command,
		BaseArgs:  append([]string(nil), baseArgs...),
		BinPath:   binPath,
		Templates: DefaultTemplates,
		run:       runCommand,
	}
}

// Argv returns the full command line for job.
func (s *Submitter) Argv(job Job) []string {
	argv := make([]string, 0, 2+len(s.BaseArgs)+len(job.Args))
	argv = append(argv, s.Command)
	argv = append(argv, s.BaseArgs...)
	argv = append(argv, filepath.Join(s.BinPath, job.Template))
	return append(argv, job.Args...)
}

// Submit runs the submission command and returns its trimmed output, which
// usually carries the scheduler's job id.
func (s *Submitter) Submit(ctx context.Context, job Job) (string, error) {
	if job.Template == "" {
		return "", errors.New("scheduler: job has no template")
	}
	run := s.run
	if run == nil {
		run = runCommand
	}
	argv := s.Argv(job)
	out, err := run(ctx, argv[0], argv[1:]...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &SubmissionError{Argv: argv, ExitCode: code, Output: output, Err: err}
	}
	return output, nil
}

// DownloadJob fetches run into runDirectory.
func (s *Submitter) DownloadJob(run, runDirectory string) Job {
	return Job{Template: s.Templates.Download, Args: []string{run, runDirectory}}
}

// DemuxJob demultiplexes run with sheet into projectsDirectory.
func (s *Submitter) DemuxJob(run, sheet, projectsDirectory string) Job {
	return Job{Template: s.Templates.Demux, Args: []string{run, sheet, projectsDirectory}}
}

// UploadJob uploads one demultiplexed project directory.
func (s *Submitter) UploadJob(projectDirectory string) Job {
	return Job{Template: s.Templates.Upload, Args: []string{projectDirectory}}
}

// RedemuxTarget is one project and its option bitmask in a redemux job.
type RedemuxTarget struct {
	Project string
	Options int
}

// RedemuxJob reprocesses the given projects of run. Targets with no options
// are left out.
func (s *Submitter) RedemuxJob(run string, targets []RedemuxTarget) (Job, bool) {
	args := []string{run}
	for _, t := range targets {
		if t.Options == 0 {
			continue
		}
		args = append(args, t.Project, fmt.Sprint(t.Options))
	}
	if len(args) == 1 {
		return Job{}, false
	}
	return Job{Template: s.Templates.Redemux, Args: args}, true
}
