package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ssHeader = "[Header]\nIEMFileVersion,4\n\n[Data]\nLane,Sample_Id,Sample_Name,index,index2,Sample_Project\n"

func writeSheetFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "FC123.csv")
	if err := os.WriteFile(path, []byte(ssHeader+body), 0o600); err != nil {
		t.Fatalf("write sheet: %v", err)
	}
	return path
}

func runSsmgr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := BuildSsmgrApp(SsmgrDeps{Stdout: &stdout, Stderr: &stderr})
	err := app.RunContext(context.Background(), append([]string{"ssmgr"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestSsmgrVerifyClean(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,ACGTACGT,TTGGCCAA,P1\n1,S2,S2,GGTTAACC,CCAATTGG,P1\n")
	stdout, stderr, err := runSsmgr(t, "verify", path)
	if err != nil {
		t.Fatalf("verify: %v (%s)", err, stderr)
	}
	if strings.TrimSpace(stdout) != "0 warnings" {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestSsmgrVerifyReportsConflicts(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,ACGTACGT,TTGGCCAA,P1\n1,S2,S2,ACGTACGA,TTGGCCAA,P1\n")
	_, stderr, err := runSsmgr(t, "verify", path)
	if !errors.Is(err, ErrSheetWarnings) {
		t.Fatalf("expected warnings error, got %v", err)
	}
	if !strings.Contains(stderr, "potential barcode conflict, samples `S1' and `S2'") {
		t.Fatalf("unexpected warnings %q", stderr)
	}
}

func TestSsmgrShowAndDistance(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,ACGTACGT,TTGGCCAA,P1\n1,S2,S2,ACGTTTTT,TTGGCCAA,P1\n2,S3,S3,GGGG,,P2\n")
	stdout, _, err := runSsmgr(t, "show", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"P1", "P2", "8+8", "4+0"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("show output lacks %q:\n%s", want, stdout)
		}
	}
	stdout, _, err = runSsmgr(t, "distance", path, "P1")
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if !strings.Contains(stdout, "P1") || strings.Contains(stdout, "P2") {
		t.Fatalf("unexpected distance output:\n%s", stdout)
	}
	if _, _, err := runSsmgr(t, "distance", path, "P9"); err == nil {
		t.Fatalf("expected unknown project error")
	}
}

func TestSsmgrFindBarcodes(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,ACGTACGT,TTGGCCAA,P1\n1,S2,S2,GGTTAACC,CCAATTGG,P1\n")
	stdout, _, err := runSsmgr(t, "findbc", "--max", "1", path, "ACGTACGA")
	if err != nil {
		t.Fatalf("findbc: %v", err)
	}
	if !strings.Contains(stdout, "S1") || strings.Contains(stdout, "S2") {
		t.Fatalf("unexpected matches:\n%s", stdout)
	}
	if _, _, err := runSsmgr(t, "findbc", path); err == nil {
		t.Fatalf("expected usage error without barcodes")
	}
}

func TestSsmgrRevcompWritesOutput(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,AACC,GGTT,P1\n")
	out := filepath.Join(t.TempDir(), "out.csv")
	if _, _, err := runSsmgr(t, "revcomp", "--i7", "--output", out, path); err != nil {
		t.Fatalf("revcomp: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "1,S1,S1,GGTT,GGTT,P1") {
		t.Fatalf("unexpected sheet:\n%s", data)
	}
}

func TestSsmgrUpdateBarcodes(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,AACC,GGTT,P1\n1,S2,S2,CCAA,TTGG,P1\n")
	updates := filepath.Join(t.TempDir(), "updates.tsv")
	if err := os.WriteFile(updates, []byte("S2\tACAC\tGTGT\n"), 0o600); err != nil {
		t.Fatalf("write updates: %v", err)
	}
	stdout, stderr, err := runSsmgr(t, "update", path, updates)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(stderr, "1 samples updated") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
	if !strings.Contains(stdout, "1,S2,S2,ACAC,GTGT,P1") || !strings.Contains(stdout, "1,S1,S1,AACC,GGTT,P1") {
		t.Fatalf("unexpected sheet:\n%s", stdout)
	}
}

func TestSsmgrSplitByProject(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,AACC,GGTT,P1\n1,S2,S2,CCAA,TTGG,P2\n")
	stdout, _, err := runSsmgr(t, "split", path)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	base := strings.TrimSuffix(path, ".csv")
	for _, project := range []string{"P1", "P2"} {
		if !strings.Contains(stdout, project) {
			t.Fatalf("split output lacks %s:\n%s", project, stdout)
		}
	}
	matches, err := filepath.Glob(base + "*")
	if err != nil || len(matches) < 3 {
		t.Fatalf("expected split files next to the sheet, got %v (%v)", matches, err)
	}
}

func TestSsmgrSplitByLane(t *testing.T) {
	path := writeSheetFile(t, "1,S1,S1,AACC,GGTT,P1\n2,S2,S2,CCAA,TTGG,P1\n")
	stdout, _, err := runSsmgr(t, "split", "--by-lane", path)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	base := strings.TrimSuffix(path, ".csv")
	for _, lane := range []string{"1", "2"} {
		if !strings.Contains(stdout, base+".L00"+lane+".csv") {
			t.Fatalf("missing lane %s output:\n%s", lane, stdout)
		}
	}
}
