package samplesheet

import (
	"fmt"
	"strings"
)

// Mismatches counts differing positions over the shorter of a and b. Extra
// trailing bases of the longer sequence are not counted, so unequal-length
// barcodes that share a prefix compare as identical.
func Mismatches(a, b string) int {
	n := min(len(a), len(b))
	d := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

// Distance is the i7 mismatch count plus the i5 mismatch count of two
// samples, each truncated to the shorter barcode. A missing i5 contributes
// nothing. The result is symmetric but under-counts conflicts between
// barcodes of different lengths.
func Distance(a, b *Sample) int {
	return Mismatches(a.I7, b.I7) + Mismatches(a.I5, b.I5)
}

var complements = map[byte]byte{
	'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'N': 'N',
	'a': 't', 'c': 'g', 'g': 'c', 't': 'a', 'n': 'n',
}

// ValidSeq reports whether seq contains only A, C, G, T in either case.
// The empty sequence is valid.
func ValidSeq(seq string) bool {
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
		default:
			return false
		}
	}
	return true
}

// Complement returns the base-wise complement of seq. It fails on characters
// other than ACGTN.
func Complement(seq string) (string, error) {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, ok := complements[seq[i]]
		if !ok {
			return "", fmt.Errorf("cannot complement %q: invalid base %q", seq, seq[i])
		}
		out[i] = c
	}
	return string(out), nil
}

// Reverse returns seq reversed.
func Reverse(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = seq[i]
	}
	return string(out)
}

// ReverseComplement returns the reverse complement of seq.
func ReverseComplement(seq string) (string, error) {
	c, err := Complement(seq)
	if err != nil {
		return "", err
	}
	return Reverse(c), nil
}

// MinBarcodeDistance returns the smallest Distance between two samples
// sharing a lane in p. ok is false when no lane holds two samples.
func MinBarcodeDistance(p *Project) (dist int, ok bool) {
	for _, lane := range p.LaneOrder {
		samples := p.Lanes[lane]
		for i := 0; i < len(samples); i++ {
			for j := i + 1; j < len(samples); j++ {
				d := Distance(samples[i], samples[j])
				if !ok || d < dist {
					dist, ok = d, true
				}
			}
		}
	}
	return dist, ok
}

// Match is a sample index close to a queried barcode.
type Match struct {
	Project  string
	Sample   string
	Index    string
	Distance int
}

// FindSimilarBarcodes returns every i7 or i5 index in the sheet within
// maxDist mismatches of barcode, in project registration order.
func FindSimilarBarcodes(s *Sheet, barcode string, maxDist int) []Match {
	var out []Match
	for _, name := range s.ProjectOrder {
		p := s.Projects[name]
		for _, smp := range p.Samples {
			if d := Mismatches(barcode, smp.I7); d <= maxDist {
				out = append(out, Match{Project: p.Name, Sample: smp.Name, Index: smp.I7, Distance: d})
			}
			if smp.I5 == "" {
				continue
			}
			if d := Mismatches(barcode, smp.I5); d <= maxDist {
				out = append(out, Match{Project: p.Name, Sample: smp.Name, Index: smp.I5, Distance: d})
			}
		}
	}
	return out
}

// BarcodeConfig is the "<i7 length>+<i5 length>" signature of a project.
type BarcodeConfig struct {
	Project    string
	Signature  string
	Mismatched []string
}

// BarcodeConfigurations returns one signature per project, taken from its
// first sample. Samples with a different signature are listed in Mismatched.
func BarcodeConfigurations(s *Sheet) []BarcodeConfig {
	var out []BarcodeConfig
	for _, name := range s.ProjectOrder {
		p := s.Projects[name]
		if len(p.Samples) == 0 {
			continue
		}
		cfg := BarcodeConfig{Project: p.Name, Signature: signature(p.Samples[0])}
		for _, smp := range p.Samples[1:] {
			if sig := signature(smp); sig != cfg.Signature {
				cfg.Mismatched = append(cfg.Mismatched, smp.Name+" ("+sig+")")
			}
		}
		out = append(out, cfg)
	}
	return out
}

func signature(smp *Sample) string {
	return fmt.Sprintf("%d+%d", len(smp.I7), len(smp.I5))
}

// FullBarcode renders "i7+i5", or just i7 for single-indexed samples.
func FullBarcode(smp *Sample) string {
	if smp.I5 == "" {
		return smp.I7
	}
	return strings.Join([]string{smp.I7, smp.I5}, "+")
}
