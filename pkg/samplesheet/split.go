package samplesheet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SplitOutput names the file written for one project.
type SplitOutput struct {
	Project string
	Path    string
}

// CreateFunc opens the destination for one split output.
type CreateFunc func(path string) (io.WriteCloser, error)

// SplitByProject writes one sample sheet per distinct non-empty project
// value, named "<base>.P001.csv", "<base>.P002.csv", ... in first-seen
// order. Each output starts with the verbatim header. Underscores in the
// sample name become hyphens and both index fields are trimmed. Rows with an
// empty project are reported in warnings and not written.
func SplitByProject(r io.Reader, base string, create CreateFunc) ([]SplitOutput, []string, error) {
	br := bufio.NewReader(r)
	header, names, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}
	cols, err := resolveColumns(names)
	if err != nil {
		return nil, nil, err
	}

	var (
		outputs  []SplitOutput
		warnings []string
		streams  = make(map[string]*bufio.Writer)
		closers  []io.Closer
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	eol := lineEnding(header)
	err = readRecords(br, func(rec record) error {
		row := rec.fields
		name := field(row, cols.Name)
		proj := field(row, cols.Project)
		if proj == "" {
			warnings = append(warnings, fmt.Sprintf("Empty project for sample %s!", name))
			return nil
		}
		changed := false
		if cols.Name < len(row) {
			if v := strings.ReplaceAll(row[cols.Name], "_", "-"); v != row[cols.Name] {
				row[cols.Name], changed = v, true
			}
		}
		for _, col := range []int{cols.Index1, cols.Index2} {
			if col >= 0 && col < len(row) {
				if v := strings.TrimSpace(row[col]); v != row[col] {
					row[col], changed = v, true
				}
			}
		}
		out, ok := streams[proj]
		if !ok {
			path := fmt.Sprintf("%s.P%03d.csv", base, len(outputs)+1)
			wc, err := create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			closers = append(closers, wc)
			out = bufio.NewWriter(wc)
			if _, err := out.WriteString(header); err != nil {
				return err
			}
			streams[proj] = out
			outputs = append(outputs, SplitOutput{Project: proj, Path: path})
		}
		text := rec.text
		if changed {
			text = encodeRow(row)
		}
		term := rec.eol
		if term == "" {
			term = eol
		}
		_, err := out.WriteString(text + term)
		return err
	})
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	for _, out := range streams {
		if err := out.Flush(); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
	}
	if err := closeAll(); err != nil {
		return nil, nil, err
	}
	return outputs, warnings, nil
}

// SplitFile splits the sheet at path, writing outputs next to it.
func SplitFile(path string) ([]SplitOutput, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return SplitByProject(f, base, func(p string) (io.WriteCloser, error) { return os.Create(p) })
}

// SplitByLane writes one sheet per lane, named "<base>.L00<lane>.csv", in
// lane registration order. Lane values must be decimal digits.
func SplitByLane(s *Sheet, base string, create CreateFunc) ([]SplitOutput, error) {
	for _, lane := range s.LaneOrder {
		if !numericLane(lane) {
			return nil, &FormatError{Reason: fmt.Sprintf("lane %q is not a number", lane)}
		}
	}
	var outputs []SplitOutput
	for _, lane := range s.LaneOrder {
		path := fmt.Sprintf("%s.L00%s.csv", base, lane)
		wc, err := create(path)
		if err != nil {
			return outputs, fmt.Errorf("create %s: %w", path, err)
		}
		lane := lane
		err = s.SaveFiltered(wc, true, func(_ *Project, smp *Sample) bool { return smp.Lane == lane })
		if cerr := wc.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, SplitOutput{Project: lane, Path: path})
	}
	return outputs, nil
}

func numericLane(lane string) bool {
	if lane == "" {
		return false
	}
	for _, r := range lane {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
