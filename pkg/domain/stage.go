// Package domain defines the persistent run, project, and operation records
// tracked by runmgr together with the stage codes that drive the pipeline.
package domain

import "fmt"

// Stage identifies one of the three tracked pipeline stages of a run.
type Stage string

// Pipeline stages in execution order.
const (
	StageDownload Stage = "download"
	StageDemux    Stage = "demux"
	StageUpload   Stage = "upload"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageDownload, StageDemux, StageUpload}

// ParseStage resolves a stage by name or by its single-letter CLI abbreviation (d, x, u).
func ParseStage(s string) (Stage, error) {
	switch s {
	case "d", "download", "Download":
		return StageDownload, nil
	case "x", "demux", "Demux":
		return StageDemux, nil
	case "u", "upload", "Upload":
		return StageUpload, nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// OpCode is the persisted single-letter status of a stage.
type OpCode string

// Stage status codes as stored in the Operations and Projects tables.
const (
	OpNotRequested OpCode = "N"
	OpRequested    OpCode = "Y"
	OpOngoing      OpCode = "U"
	OpFailed       OpCode = "F"
	OpCompleted    OpCode = "C"
)

var opLabels = map[OpCode]string{
	OpNotRequested: "Not requested",
	OpRequested:    "Requested",
	OpOngoing:      "Ongoing",
	OpFailed:       "Failed",
	OpCompleted:    "Completed",
}

// Valid reports whether c is one of the five known codes.
func (c OpCode) Valid() bool {
	_, ok := opLabels[c]
	return ok
}

// String returns the human readable label for the code.
func (c OpCode) String() string {
	if label, ok := opLabels[c]; ok {
		return label
	}
	return "Unknown(" + string(c) + ")"
}

// ParseOpCode accepts a code letter and rejects anything else.
func ParseOpCode(s string) (OpCode, error) {
	c := OpCode(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid operation code %q", s)
	}
	return c, nil
}

// Toggle returns the code a manual toggle moves c to. Ongoing stages are
// never toggled; the second return value is false in that case.
func Toggle(c OpCode) (OpCode, bool) {
	switch c {
	case OpNotRequested, OpFailed, OpCompleted:
		return OpRequested, true
	case OpRequested:
		return OpNotRequested, true
	default:
		return c, false
	}
}

// ToggleProjectUpload returns the code a manual toggle moves a project's
// upload code to. Completed and Ongoing uploads are left alone.
func ToggleProjectUpload(c OpCode) (OpCode, bool) {
	switch c {
	case OpNotRequested, OpFailed:
		return OpRequested, true
	case OpRequested:
		return OpNotRequested, true
	default:
		return c, false
	}
}

// RollUp derives a run's upload code from its project upload codes.
// Precedence is Requested, then Ongoing, then Completed, otherwise NotRequested.
// Failed projects do not contribute.
func RollUp(codes []OpCode) OpCode {
	var requested, ongoing, completed bool
	for _, c := range codes {
		switch c {
		case OpRequested:
			requested = true
		case OpOngoing:
			ongoing = true
		case OpCompleted:
			completed = true
		}
	}
	switch {
	case requested:
		return OpRequested
	case ongoing:
		return OpOngoing
	case completed:
		return OpCompleted
	default:
		return OpNotRequested
	}
}
