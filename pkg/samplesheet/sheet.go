package samplesheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DataMarker starts the section holding the column header and sample rows.
const DataMarker = "[Data]"

// Recognized column header names.
const (
	ColumnLane    = "Lane"
	ColumnName    = "Sample_Name"
	ColumnID      = "Sample_Id"
	ColumnIndex1  = "index"
	ColumnIndex2  = "index2"
	ColumnProject = "Sample_Project"
)

// FormatError reports a sample sheet that cannot be parsed.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "sample sheet: " + e.Reason }

// Columns holds the resolved position of each recognized column, or -1.
type Columns struct {
	Lane    int
	Name    int
	ID      int
	Index1  int
	Index2  int
	Project int
}

func resolveColumns(header []string) (Columns, error) {
	cols := Columns{Lane: -1, Name: -1, ID: -1, Index1: -1, Index2: -1, Project: -1}
	for i, h := range header {
		var target *int
		switch h {
		case ColumnLane:
			target = &cols.Lane
		case ColumnName:
			target = &cols.Name
		case ColumnID:
			target = &cols.ID
		case ColumnIndex1:
			target = &cols.Index1
		case ColumnIndex2:
			target = &cols.Index2
		case ColumnProject:
			target = &cols.Project
		}
		if target != nil && *target < 0 {
			*target = i
		}
	}
	if cols.Name < 0 || cols.Project < 0 {
		return cols, &FormatError{Reason: "header row lacks " + ColumnName + " or " + ColumnProject}
	}
	return cols, nil
}

func field(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// Sheet is a parsed sample sheet.
type Sheet struct {
	Projects     map[string]*Project
	ProjectOrder []string
	// LaneProjects lists, per lane, the projects having samples in it in
	// registration order.
	LaneProjects map[string][]*Project
	LaneOrder    []string
	// Header is every byte up to and including the column header row.
	Header  string
	Columns Columns
}

func newSheet(header string, cols Columns) *Sheet {
	return &Sheet{
		Projects:     make(map[string]*Project),
		LaneProjects: make(map[string][]*Project),
		Header:       header,
		Columns:      cols,
	}
}

// lineEnding is the terminator of the header's last line, used for rows
// that were read without one.
func (s *Sheet) lineEnding() string { return lineEnding(s.Header) }

func lineEnding(text string) string {
	if strings.HasSuffix(text, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// Parse reads a sample sheet. Each data row is one line; rows too short to
// reach the project column and rows with no content are skipped.
func Parse(r io.Reader) (*Sheet, error) {
	br := bufio.NewReader(r)
	header, names, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	cols, err := resolveColumns(names)
	if err != nil {
		return nil, err
	}
	sheet := newSheet(header, cols)
	err = readRecords(br, func(rec record) error {
		if len(rec.fields) > cols.Project {
			sheet.addRow(rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sheet, nil
}

// ParseFile parses the sample sheet at path.
func ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	sheet, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sheet, nil
}

func (s *Sheet) addRow(rec record) {
	row := rec.fields
	cols := s.Columns
	lane := DefaultLane
	if cols.Lane >= 0 {
		lane = field(row, cols.Lane)
	}
	name := row[cols.Project]
	p, ok := s.Projects[name]
	if !ok {
		p = newProject(name, lane)
		s.Projects[name] = p
		s.ProjectOrder = append(s.ProjectOrder, name)
	}
	smp := newSample(lane, field(row, cols.Name), field(row, cols.ID), row)
	smp.text, smp.eol = rec.text, rec.eol
	smp.I7 = field(row, cols.Index1)
	smp.I5 = field(row, cols.Index2)
	p.add(smp)
	s.registerLane(lane, p)
}

func (s *Sheet) registerLane(lane string, p *Project) {
	projects, ok := s.LaneProjects[lane]
	if !ok {
		s.LaneOrder = append(s.LaneOrder, lane)
	}
	for _, existing := range projects {
		if existing == p {
			return
		}
	}
	s.LaneProjects[lane] = append(projects, p)
}

// Save writes the header followed by every sample row, grouped by lane
// registration order, then project, then the project's lane buckets. Rows
// nobody edited are written back exactly as read.
func (s *Sheet) Save(w io.Writer) error {
	return s.SaveFiltered(w, true, nil)
}

// SaveFiltered is Save restricted to the samples keep accepts. A nil keep
// accepts everything; withHeader=false omits the header block.
func (s *Sheet) SaveFiltered(w io.Writer, withHeader bool, keep func(p *Project, smp *Sample) bool) error {
	bw := bufio.NewWriter(w)
	if withHeader {
		if _, err := bw.WriteString(s.Header); err != nil {
			return err
		}
	}
	rw := &rowWriter{w: bw, eol: s.lineEnding()}
	for _, p := range s.orderedProjects() {
		for _, lane := range p.LaneOrder {
			for _, smp := range p.Lanes[lane] {
				if keep != nil && !keep(p, smp) {
					continue
				}
				if err := rw.write(smp.rowText(), smp.eol); err != nil {
					return err
				}
			}
		}
	}
	if err := rw.finish(); err != nil {
		return err
	}
	return bw.Flush()
}

// rowWriter holds back each row's terminator until the next row, so a last
// line read without one is written back without one.
type rowWriter struct {
	w       *bufio.Writer
	eol     string
	pending string
	started bool
}

func (rw *rowWriter) write(text, eol string) error {
	if rw.started {
		term := rw.pending
		if term == "" {
			term = rw.eol
		}
		if _, err := rw.w.WriteString(term); err != nil {
			return err
		}
	}
	rw.started = true
	rw.pending = eol
	_, err := rw.w.WriteString(text)
	return err
}

func (rw *rowWriter) finish() error {
	if !rw.started || rw.pending == "" {
		return nil
	}
	_, err := rw.w.WriteString(rw.pending)
	return err
}

func (s *Sheet) orderedProjects() []*Project {
	seen := make(map[*Project]bool, len(s.Projects))
	var out []*Project
	for _, lane := range s.LaneOrder {
		for _, p := range s.LaneProjects[lane] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Samples returns all samples in save order.
func (s *Sheet) Samples() []*Sample {
	var out []*Sample
	for _, p := range s.orderedProjects() {
		for _, lane := range p.LaneOrder {
			out = append(out, p.Lanes[lane]...)
		}
	}
	return out
}

func readHeader(br *bufio.Reader) (string, []string, error) {
	var header strings.Builder
	inData := false
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			header.WriteString(line)
			if inData {
				names, perr := splitHeaderRow(line)
				if perr != nil {
					return "", nil, perr
				}
				return header.String(), names, nil
			}
			if strings.HasPrefix(strings.TrimSpace(line), DataMarker) {
				inData = true
			}
		}
		if errors.Is(err, io.EOF) {
			if inData {
				return "", nil, &FormatError{Reason: "missing column header row after " + DataMarker}
			}
			return "", nil, &FormatError{Reason: "no " + DataMarker + " section"}
		}
		if err != nil {
			return "", nil, err
		}
	}
}

func splitHeaderRow(line string) ([]string, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return nil, &FormatError{Reason: "empty column header row"}
	}
	names, err := newRowReader(strings.NewReader(trimmed)).Read()
	if err != nil {
		return nil, &FormatError{Reason: "column header row: " + err.Error()}
	}
	return names, nil
}

// record is one data line: its fields, its text without the terminator, and
// the terminator itself ("" for a final line without one).
type record struct {
	fields []string
	text   string
	eol    string
}

// readRecords calls fn for every line with content after the column header.
func readRecords(br *bufio.Reader, fn func(rec record) error) error {
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			text, eol := splitLineEnding(line)
			if strings.TrimSpace(text) != "" {
				fields, perr := newRowReader(strings.NewReader(text)).Read()
				if perr != nil {
					return &FormatError{Reason: perr.Error()}
				}
				if !blankRow(fields) {
					if ferr := fn(record{fields: fields, text: text, eol: eol}); ferr != nil {
						return ferr
					}
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func splitLineEnding(line string) (string, string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	default:
		return line, ""
	}
}

// encodeRow renders fields as one CSV line, quoting where needed.
func encodeRow(fields []string) string {
	var b strings.Builder
	cw := csv.NewWriter(&b)
	_ = cw.Write(fields)
	cw.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

func newRowReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
