package domain

import "testing"

func TestToggle(t *testing.T) {
	cases := []struct {
		in      OpCode
		want    OpCode
		changed bool
	}{
		{OpNotRequested, OpRequested, true},
		{OpRequested, OpNotRequested, true},
		{OpFailed, OpRequested, true},
		{OpCompleted, OpRequested, true},
		{OpOngoing, OpOngoing, false},
	}
	for _, tc := range cases {
		got, changed := Toggle(tc.in)
		if got != tc.want || changed != tc.changed {
			t.Fatalf("Toggle(%s) = %s,%v want %s,%v", tc.in, got, changed, tc.want, tc.changed)
		}
	}
}

func TestToggleProjectUploadLeavesCompleted(t *testing.T) {
	if got, changed := ToggleProjectUpload(OpCompleted); changed || got != OpCompleted {
		t.Fatalf("expected completed upload untouched, got %s %v", got, changed)
	}
	if got, _ := ToggleProjectUpload(OpFailed); got != OpRequested {
		t.Fatalf("expected failed upload to be requested, got %s", got)
	}
}

func TestRollUpPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		codes []OpCode
		want  OpCode
	}{
		{"empty", nil, OpNotRequested},
		{"requested wins", []OpCode{OpCompleted, OpOngoing, OpRequested}, OpRequested},
		{"ongoing over completed", []OpCode{OpCompleted, OpOngoing, OpNotRequested}, OpOngoing},
		{"completed", []OpCode{OpCompleted, OpNotRequested}, OpCompleted},
		{"failed ignored", []OpCode{OpFailed, OpFailed}, OpNotRequested},
		{"failed with completed", []OpCode{OpFailed, OpCompleted}, OpCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RollUp(tc.codes); got != tc.want {
				t.Fatalf("RollUp(%v) = %s want %s", tc.codes, got, tc.want)
			}
		})
	}
}

func TestParseStageAndCode(t *testing.T) {
	if s, err := ParseStage("x"); err != nil || s != StageDemux {
		t.Fatalf("ParseStage(x) = %s, %v", s, err)
	}
	if _, err := ParseStage("q"); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
	if _, err := ParseOpCode("Z"); err == nil {
		t.Fatalf("expected error for unknown code")
	}
	if OpOngoing.String() != "Ongoing" {
		t.Fatalf("unexpected label %q", OpOngoing.String())
	}
}
