package result

import (
	"errors"
	"testing"
)

func TestRunVerdict(t *testing.T) {
	cases := []struct {
		name   string
		status ExitStatus
		want   Verdict
	}{
		{name: "clean exit", status: ExitStatus{}, want: VerdictAC},
		{name: "non zero", status: ExitStatus{ExitCode: 3}, want: VerdictRE},
		{name: "signal", status: ExitStatus{ExitCode: -1, Signal: "segmentation fault"}, want: VerdictRE},
		{name: "timeout wins over exit code", status: ExitStatus{ExitCode: -1, TimedOut: true}, want: VerdictTLE},
		{name: "memory", status: ExitStatus{ExitCode: -1, MemoryLimitExceeded: true}, want: VerdictMLE},
		{name: "output", status: ExitStatus{ExitCode: -1, OutputLimitExceeded: true}, want: VerdictOLE},
		{name: "system", status: ExitStatus{Err: errors.New("wait failed")}, want: VerdictSE},
	}
	for _, tc := range cases {
		if got := RunVerdict(tc.status); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestExitStatusSuccess(t *testing.T) {
	if !(ExitStatus{}).Success() {
		t.Fatalf("expected zero status to be success")
	}
	if (ExitStatus{Killed: true}).Success() {
		t.Fatalf("expected killed process not to be success")
	}
}
