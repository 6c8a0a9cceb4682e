package samplesheet

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type bufferCloser struct{ *bytes.Buffer }

func (bufferCloser) Close() error { return nil }

func TestSplitByProject(t *testing.T) {
	body := "1,S1,My_Sample,  AACC ,GGTT ,ProjA\n1,S2,Other,CCAA,TTGG,ProjB\n1,S3,Lost_One,ACGT,,\n1,S4,Again_1,TTTT,AAAA,ProjA\n"
	outs := map[string]*bytes.Buffer{}
	create := func(path string) (io.WriteCloser, error) {
		b := &bytes.Buffer{}
		outs[path] = b
		return bufferCloser{b}, nil
	}
	result, warnings, err := SplitByProject(strings.NewReader(sheetHeader+body), "run", create)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(result) != 2 || result[0] != (SplitOutput{"ProjA", "run.P001.csv"}) || result[1] != (SplitOutput{"ProjB", "run.P002.csv"}) {
		t.Fatalf("unexpected outputs %+v", result)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Lost_One") {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	want := sheetHeader + "1,S1,My-Sample,AACC,GGTT,ProjA\n1,S4,Again-1,TTTT,AAAA,ProjA\n"
	if outs["run.P001.csv"].String() != want {
		t.Fatalf("unexpected ProjA output:\n%s", outs["run.P001.csv"].String())
	}
}

func TestSplitFileWritesNextToSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.csv")
	if err := os.WriteFile(path, []byte(sheetHeader+"1,S1,S1,AACC,,P\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, _, err := SplitFile(path)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(result) != 1 || result[0].Path != filepath.Join(dir, "sheet.P001.csv") {
		t.Fatalf("unexpected outputs %+v", result)
	}
	if _, err := os.Stat(result[0].Path); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestSplitByLane(t *testing.T) {
	sheet := mustParse(t, "1,S1,S1,AACC,,P\n2,S2,S2,GGTT,,Q\n")
	outs := map[string]*bytes.Buffer{}
	result, err := SplitByLane(sheet, "run", func(path string) (io.WriteCloser, error) {
		b := &bytes.Buffer{}
		outs[path] = b
		return bufferCloser{b}, nil
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(result) != 2 || outs["run.L002.csv"].String() != sheetHeader+"2,S2,S2,GGTT,,Q\n" {
		t.Fatalf("unexpected lane split %+v", result)
	}
}

func TestSplitByProjectKeepsRowText(t *testing.T) {
	header := strings.ReplaceAll(sheetHeader, "\n", "\r\n")
	body := "1,S1,S1,AACC,GGTT,ProjA,\"Smith, J\"\r\n1,S2,My_Sample,CCAA,TTGG,ProjA,\"Doe, A\"\r\n"
	outs := map[string]*bytes.Buffer{}
	_, _, err := SplitByProject(strings.NewReader(header+body), "run", func(path string) (io.WriteCloser, error) {
		b := &bytes.Buffer{}
		outs[path] = b
		return bufferCloser{b}, nil
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := header + "1,S1,S1,AACC,GGTT,ProjA,\"Smith, J\"\r\n1,S2,My-Sample,CCAA,TTGG,ProjA,\"Doe, A\"\r\n"
	if got := outs["run.P001.csv"].String(); got != want {
		t.Fatalf("unexpected split output:\nwant %q\ngot  %q", want, got)
	}
}

func TestSplitByLaneRejectsNonNumericLane(t *testing.T) {
	sheet := mustParse(t, "1,S1,S1,AACC,,P\n../x,S2,S2,GGTT,,Q\n")
	created := 0
	_, err := SplitByLane(sheet, filepath.Join(t.TempDir(), "run"), func(path string) (io.WriteCloser, error) {
		created++
		return bufferCloser{&bytes.Buffer{}}, nil
	})
	if err == nil || !strings.Contains(err.Error(), "../x") {
		t.Fatalf("expected lane error, got %v", err)
	}
	if created != 0 {
		t.Fatalf("expected no outputs before the lane check, created %d", created)
	}
}
