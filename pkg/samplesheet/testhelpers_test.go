package samplesheet

import (
	"strings"
	"testing"
)

const sheetHeader = "[Header]\nIEMFileVersion,4\nExperiment Name,Run42\n\n[Reads]\n151\n151\n\n[Data]\nLane,Sample_Id,Sample_Name,index,index2,Sample_Project\n"

func mustParse(t *testing.T, body string) *Sheet {
	t.Helper()
	sheet, err := Parse(strings.NewReader(sheetHeader + body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return sheet
}

func messages(ws []Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Message
	}
	return out
}

func countContaining(ws []Warning, sub string) int {
	n := 0
	for _, w := range ws {
		if strings.Contains(w.Message, sub) {
			n++
		}
	}
	return n
}
