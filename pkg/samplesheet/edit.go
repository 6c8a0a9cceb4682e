package samplesheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// IndexEdit describes a rewrite of the index columns. Steps apply in order:
// reverse-complement (or reverse), swap, drop i5.
type IndexEdit struct {
	RevComp1 bool
	RevComp2 bool
	Reverse1 bool
	Reverse2 bool
	Swap     bool
	DropI5   bool
}

// EditIndexes applies edit to every sample, keeping I7/I5 and the raw row in
// step. Rows lacking an index column are left unchanged for that column. Every
// sample is checked before any is changed, so an error leaves the sheet as it
// was.
func (s *Sheet) EditIndexes(edit IndexEdit) error {
	samples := s.Samples()
	type pair struct{ i7, i5 string }
	next := make([]pair, len(samples))
	for i, smp := range samples {
		i7, i5 := smp.I7, smp.I5
		var err error
		switch {
		case edit.RevComp1:
			if i7, err = ReverseComplement(i7); err != nil {
				return fmt.Errorf("sample %s: %w", smp.Name, err)
			}
		case edit.Reverse1:
			i7 = Reverse(i7)
		}
		switch {
		case edit.RevComp2:
			if i5, err = ReverseComplement(i5); err != nil {
				return fmt.Errorf("sample %s: %w", smp.Name, err)
			}
		case edit.Reverse2:
			i5 = Reverse(i5)
		}
		if edit.Swap {
			i7, i5 = i5, i7
		}
		if edit.DropI5 {
			i5 = ""
		}
		next[i] = pair{i7, i5}
	}
	for i, smp := range samples {
		s.setIndexes(smp, next[i].i7, next[i].i5)
	}
	return nil
}

func (s *Sheet) setIndexes(smp *Sample, i7, i5 string) {
	if col := s.Columns.Index1; col >= 0 && col < len(smp.Raw) {
		setField(smp, col, i7)
		smp.I7 = i7
	}
	if col := s.Columns.Index2; col >= 0 && col < len(smp.Raw) {
		setField(smp, col, i5)
		smp.I5 = i5
	}
}

func setField(smp *Sample, col int, v string) {
	if smp.Raw[col] != v {
		smp.Raw[col] = v
		smp.edited = true
	}
}

// BarcodeUpdate holds replacement indexes for one sample.
type BarcodeUpdate struct {
	I7 string
	I5 string
	// HasI5 distinguishes "no i5 given" from an explicitly empty one.
	HasI5 bool
}

// ReadBarcodeUpdates parses a tab-separated file of "sample<TAB>i7[<TAB>i5]"
// rows. Blank rows and rows starting with '#' are ignored.
func ReadBarcodeUpdates(r io.Reader) (map[string]BarcodeUpdate, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	updates := make(map[string]BarcodeUpdate)
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return updates, nil
		}
		if err != nil {
			return nil, fmt.Errorf("barcode updates: %w", err)
		}
		line++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("barcode updates: row %d for %s has no index", line, row[0])
		}
		u := BarcodeUpdate{I7: strings.TrimSpace(row[1])}
		if len(row) > 2 {
			u.I5 = strings.TrimSpace(row[2])
			u.HasI5 = true
		}
		updates[row[0]] = u
	}
}

// ReadBarcodeUpdatesFile reads updates from path.
func ReadBarcodeUpdatesFile(path string) (map[string]BarcodeUpdate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadBarcodeUpdates(f)
}

// ApplyBarcodeUpdates replaces the indexes of samples named in updates and
// returns how many samples changed. Samples are matched on the raw
// Sample_Name value.
func (s *Sheet) ApplyBarcodeUpdates(updates map[string]BarcodeUpdate) int {
	n := 0
	for _, smp := range s.Samples() {
		u, ok := updates[field(smp.Raw, s.Columns.Name)]
		if !ok {
			continue
		}
		i5 := smp.I5
		if u.HasI5 {
			i5 = u.I5
		}
		s.setIndexes(smp, u.I7, i5)
		n++
	}
	return n
}
