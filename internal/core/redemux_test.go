package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"runmgr/internal/scheduler"
	"runmgr/pkg/domain"
)

func TestRedemuxOptionString(t *testing.T) {
	cases := []struct {
		opt  RedemuxOption
		want string
	}{
		{0, ""},
		{RedemuxZeroMismatch, "[0 mm]"},
		{RedemuxRevCompIndex2, "[RC 2]"},
		{RedemuxZeroMismatch | RedemuxRevCompIndex1 | RedemuxRevCompIndex2, "[0 mm, RC 1, RC 2]"},
		{RedemuxRevCompIndex1 | RedemuxRevCompIndex2, "[RC 1, RC 2]"},
	}
	for _, tc := range cases {
		if got := tc.opt.String(); got != tc.want {
			t.Fatalf("%d: got %q want %q", int(tc.opt), got, tc.want)
		}
	}
	if got := RedemuxZeroMismatch.Toggle(RedemuxZeroMismatch); got != 0 {
		t.Fatalf("toggle twice should clear, got %d", got)
	}
}

func TestParseRedemuxOptions(t *testing.T) {
	o, err := ParseRedemuxOptions("02")
	if err != nil || o != RedemuxZeroMismatch|RedemuxRevCompIndex2 || int(o) != 5 {
		t.Fatalf("unexpected options %d %v", o, err)
	}
	if _, err := ParseRedemuxOptions("3"); err == nil {
		t.Fatalf("expected error for unknown option")
	}
}

func TestRequestRedemux(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, testRun(t, 31, "RUN31", "Complete", "FC31"), nil)
	f.recordProjects(t, 31, map[string]string{"P1": "Y", "P2": "Y", "P3": "N"})

	job, submitted, err := f.svc.RequestRedemux(ctx, 31, []ProjectSelection{
		{Project: "P1", Options: RedemuxZeroMismatch | RedemuxRevCompIndex1},
		{Project: "P2"},
		{Project: "P3", Options: RedemuxRevCompIndex2},
	})
	if err != nil || !submitted {
		t.Fatalf("redemux: %v %v", submitted, err)
	}
	want := scheduler.Job{Template: "reDemux.qsub", Args: []string{"RUN31", "P1", "3", "P3", "4"}}
	if !reflect.DeepEqual(job, want) || !reflect.DeepEqual(f.jobs.submitted, []scheduler.Job{want}) {
		t.Fatalf("unexpected job %+v (submitted %+v)", job, f.jobs.submitted)
	}

	_, submitted, err = f.svc.RequestRedemux(ctx, 31, []ProjectSelection{{Project: "P1"}})
	if err != nil || submitted || len(f.jobs.submitted) != 1 {
		t.Fatalf("empty selection should not submit: %v %v", submitted, err)
	}

	if _, _, err := f.svc.RequestRedemux(ctx, 31, []ProjectSelection{{Project: "PX", Options: 1}}); err == nil {
		t.Fatalf("expected error for unknown project")
	}
	if _, _, err := f.svc.RequestRedemux(ctx, 404, nil); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
