// Package samplesheet parses Illumina-style sample sheets into projects and
// per-lane sample lists, re-emits them, and checks their barcodes for
// conflicts.
package samplesheet

import "strings"

// ValidChars lists the characters allowed in sample names and ids. Any other
// character is replaced by '-'.
const ValidChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// DefaultLane is assigned to every sample of a sheet without a Lane column.
const DefaultLane = "1"

// Sample is one row of the [Data] section.
type Sample struct {
	Lane string
	Name string
	ID   string
	I7   string
	I5   string
	// Raw holds the row's fields as read. Save writes the original line
	// until an edit changes one of them.
	Raw []string
	// Sanitized is set when Name or ID needed character substitution.
	Sanitized bool

	text   string
	eol    string
	edited bool
}

// rowText is the line as read, or Raw re-encoded once a field was edited.
func (s *Sample) rowText() string {
	if s.edited || s.text == "" {
		return encodeRow(s.Raw)
	}
	return s.text
}

// Sanitize replaces characters outside ValidChars with '-' and reports
// whether anything changed.
func Sanitize(s string) (string, bool) {
	changed := false
	clean := strings.Map(func(r rune) rune {
		if r < 128 && strings.ContainsRune(ValidChars, r) {
			return r
		}
		changed = true
		return '-'
	}, s)
	return clean, changed
}

func newSample(lane, name, id string, raw []string) *Sample {
	smp := &Sample{Lane: lane, Raw: raw}
	var changed bool
	smp.Name, changed = Sanitize(name)
	smp.Sanitized = changed
	smp.ID, changed = Sanitize(id)
	smp.Sanitized = smp.Sanitized || changed
	return smp
}

// Dual reports whether the sample carries an i5 index.
func (s *Sample) Dual() bool { return s.I5 != "" }

// BarcodeLength is the combined length of both indexes.
func (s *Sample) BarcodeLength() int { return len(s.I7) + len(s.I5) }

// Project groups the samples of one Sample_Project value.
type Project struct {
	Name string
	// Lane is the lane of the first row seen for the project.
	Lane      string
	Lanes     map[string][]*Sample
	LaneOrder []string
	Samples   []*Sample
}

func newProject(name, lane string) *Project {
	return &Project{Name: name, Lane: lane, Lanes: make(map[string][]*Sample)}
}

func (p *Project) add(smp *Sample) {
	p.Samples = append(p.Samples, smp)
	if _, ok := p.Lanes[smp.Lane]; !ok {
		p.LaneOrder = append(p.LaneOrder, smp.Lane)
	}
	p.Lanes[smp.Lane] = append(p.Lanes[smp.Lane], smp)
}

// NumSamples returns the number of samples across all lanes.
func (p *Project) NumSamples() int { return len(p.Samples) }
