package domain

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the textual form of every timestamp column.
const TimestampLayout = "2006-01-02T15:04:05"

// FormatTimestamp renders t for storage; the zero time renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp. Empty input yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ErrRunNotFound is returned when a run id or name has no stored record.
var ErrRunNotFound = errors.New("run not found")

// Run is a sequencing run as reported by the run lister.
type Run struct {
	ID             int64
	ExperimentName string
	DateCreated    string
	Status         string
	SampleSheet    string
	Metadata       RunMetadata
}

// Operations holds the per-stage codes and timestamps of one run.
type Operations struct {
	RunID         int64
	Download      OpCode
	Demux         OpCode
	Upload        OpCode
	DownloadStart time.Time
	DownloadEnd   time.Time
	DemuxStart    time.Time
	DemuxEnd      time.Time
}

// NewOperations returns the row created lazily for a run on first access.
func NewOperations(runID int64) Operations {
	return Operations{RunID: runID, Download: OpNotRequested, Demux: OpNotRequested, Upload: OpNotRequested}
}

// Code returns the code of the given stage.
func (o Operations) Code(stage Stage) OpCode {
	switch stage {
	case StageDownload:
		return o.Download
	case StageDemux:
		return o.Demux
	case StageUpload:
		return o.Upload
	}
	return ""
}

// Started returns the start timestamp recorded for the stage, if any.
func (o Operations) Started(stage Stage) time.Time {
	switch stage {
	case StageDownload:
		return o.DownloadStart
	case StageDemux:
		return o.DemuxStart
	}
	return time.Time{}
}

// Apply sets the stage code and the start/end timestamp it implies.
// Ongoing stamps the start, Completed and Failed stamp the end. Upload carries
// no run-level timestamps.
func (o *Operations) Apply(stage Stage, code OpCode, at time.Time) {
	switch stage {
	case StageDownload:
		o.Download = code
		switch code {
		case OpOngoing:
			o.DownloadStart = at
		case OpCompleted, OpFailed:
			o.DownloadEnd = at
		}
	case StageDemux:
		o.Demux = code
		switch code {
		case OpOngoing:
			o.DemuxStart = at
		case OpCompleted, OpFailed:
			o.DemuxEnd = at
		}
	case StageUpload:
		o.Upload = code
	}
}

// Summary renders the three codes as a compact "DXU" string, e.g. "CUN".
func (o Operations) Summary() string {
	return string(o.Download) + string(o.Demux) + string(o.Upload)
}

// ProjectRecord is one demultiplexed project of a run.
type ProjectRecord struct {
	Name        string
	ParentRun   int64
	Timestamp   time.Time
	Status      string
	Upload      OpCode
	UploadStart time.Time
	UploadEnd   time.Time
}

// Demultiplexed reports whether the demux job marked the project as produced.
func (p ProjectRecord) Demultiplexed() bool { return p.Status == ProjectDemuxed }

// ProjectDemuxed is the STATUS marker value for a successfully demultiplexed project.
const ProjectDemuxed = "Y"

// RunActivity pairs a run with its operations row for listings.
type RunActivity struct {
	Run        Run
	Operations Operations
}
