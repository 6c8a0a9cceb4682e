package samplesheet

import (
	"fmt"
	"strconv"
	"strings"
)

type laneBoundRule struct{}

func (laneBoundRule) Name() string { return "lane_bound" }
func (laneBoundRule) Scope() Scope { return ScopeProject }

// Evaluate flags lanes above the maximum; non-numeric lanes are flagged too.
func (r laneBoundRule) Evaluate(c Check) []Warning {
	for _, lane := range c.Project.LaneOrder {
		n, err := strconv.Atoi(strings.TrimSpace(lane))
		if err != nil || n > c.MaxLane {
			return []Warning{{
				Rule:    r.Name(),
				Project: c.Project.Name,
				Message: fmt.Sprintf("Project %s: incorrect lane number(s).", c.Project.Name),
			}}
		}
	}
	return nil
}

type sampleNameRule struct{}

func (sampleNameRule) Name() string { return "sample_names" }
func (sampleNameRule) Scope() Scope { return ScopeProject }

func (r sampleNameRule) Evaluate(c Check) []Warning {
	for _, smp := range c.Project.Samples {
		if smp.Sanitized {
			return []Warning{{
				Rule:    r.Name(),
				Project: c.Project.Name,
				Message: fmt.Sprintf("Project %s: bad characters in sample names.", c.Project.Name),
			}}
		}
	}
	return nil
}

type singleDualRule struct{}

func (singleDualRule) Name() string { return "single_dual_mix" }
func (singleDualRule) Scope() Scope { return ScopeLane }

func (r singleDualRule) Evaluate(c Check) []Warning {
	var single, dual bool
	for _, smp := range c.Project.Lanes[c.Lane] {
		if smp.Dual() {
			dual = true
		} else {
			single = true
		}
	}
	if single && dual {
		return []Warning{{
			Rule:    r.Name(),
			Project: c.Project.Name,
			Lane:    c.Lane,
			Message: fmt.Sprintf("Project %s, lane %s: mix of single and dual indexes.", c.Project.Name, c.Lane),
		}}
	}
	return nil
}

// barcodeRule checks, sample by sample, the index length against the lane's
// first sample (reported once), invalid bases, and near-collisions with every
// later sample of the lane.
type barcodeRule struct{}

func (barcodeRule) Name() string { return "barcodes" }
func (barcodeRule) Scope() Scope { return ScopeLane }

func (r barcodeRule) Evaluate(c Check) []Warning {
	samples := c.Project.Lanes[c.Lane]
	if len(samples) == 0 {
		return nil
	}
	var out []Warning
	warn := func(format string, args ...any) {
		out = append(out, Warning{
			Rule:    r.Name(),
			Project: c.Project.Name,
			Lane:    c.Lane,
			Message: fmt.Sprintf("Project %s, lane %s: ", c.Project.Name, c.Lane) + fmt.Sprintf(format, args...),
		})
	}
	length := samples[0].BarcodeLength()
	lengthReported := false
	for i, a := range samples {
		if a.BarcodeLength() != length && !lengthReported {
			warn("mix of different index lengths, sample `%s'.", a.Name)
			lengthReported = true
		}
		if !ValidSeq(a.I7) {
			warn("invalid characters in i7 index for sample `%s'.", a.Name)
		}
		if !ValidSeq(a.I5) {
			warn("invalid characters in i5 index for sample `%s'.", a.Name)
		}
		for _, b := range samples[i+1:] {
			if Distance(a, b) <= c.Threshold {
				warn("potential barcode conflict, samples `%s' and `%s'", a.Name, b.Name)
			}
		}
	}
	return out
}

type crossProjectRule struct{}

func (crossProjectRule) Name() string { return "cross_project_conflict" }
func (crossProjectRule) Scope() Scope { return ScopePair }

func (r crossProjectRule) Evaluate(c Check) []Warning {
	if c.Other == nil {
		return nil
	}
	var out []Warning
	for _, a := range c.Project.Lanes[c.Lane] {
		for _, b := range c.Other.Lanes[c.Lane] {
			if Distance(a, b) <= c.Threshold {
				out = append(out, Warning{
					Rule:    r.Name(),
					Project: c.Project.Name,
					Lane:    c.Lane,
					Message: fmt.Sprintf("Project %s, lane %s: potential barcode conflict, samples `%s' and `%s' (%s)",
						c.Project.Name, c.Lane, a.Name, b.Name, c.Other.Name),
				})
			}
		}
	}
	return out
}
