package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SequencingStats is the subset of run statistics runmgr reads.
type SequencingStats struct {
	NumLanes        int `json:"NumLanes"`
	NumCyclesRead1  int `json:"NumCyclesRead1"`
	NumCyclesIndex1 int `json:"NumCyclesIndex1"`
	NumCyclesIndex2 int `json:"NumCyclesIndex2"`
	NumCyclesRead2  int `json:"NumCyclesRead2"`
}

// RunMetadata is a typed view over the lister's JSON document for a run.
// The original bytes are kept so storing and reloading never drops fields.
type RunMetadata struct {
	FlowcellBarcode string          `json:"FlowcellBarcode"`
	InstrumentName  string          `json:"InstrumentName"`
	InstrumentType  string          `json:"InstrumentType"`
	SequencingStats SequencingStats `json:"SequencingStats"`

	raw []byte
}

// ParseRunMetadata decodes the typed fields and retains b verbatim.
func ParseRunMetadata(b []byte) (RunMetadata, error) {
	var m RunMetadata
	if len(bytes.TrimSpace(b)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return RunMetadata{}, fmt.Errorf("decode run metadata: %w", err)
	}
	m.raw = append([]byte(nil), b...)
	return m, nil
}

// Bytes returns the stored JSON document. Metadata built in code without a
// source document is marshaled from the typed fields.
func (m RunMetadata) Bytes() []byte {
	if m.raw != nil {
		return append([]byte(nil), m.raw...)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Configuration renders the read layout as "Read1+Index1+Index2+Read2".
func (m RunMetadata) Configuration() string {
	s := m.SequencingStats
	return fmt.Sprintf("%d+%d+%d+%d", s.NumCyclesRead1, s.NumCyclesIndex1, s.NumCyclesIndex2, s.NumCyclesRead2)
}

// RunID decodes a run identifier that the lister may emit as a JSON number
// or as a numeric string.
type RunID int64

// UnmarshalJSON accepts 123 or "123".
func (id *RunID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("run id %s: %w", string(b), err)
	}
	*id = RunID(v)
	return nil
}
