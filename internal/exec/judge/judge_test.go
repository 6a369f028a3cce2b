package judge

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"judgebox/internal/exec/sandbox/engine/enginetest"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/sandbox/result"
	appErr "judgebox/pkg/errors"
)

func newTestJudge(t *testing.T, runner *enginetest.Runner, cfg Config) *Judge {
	t.Helper()
	reg, err := registry.NewLocalRegistry(nil)
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	j, err := NewJudge(reg, runner, nil, cfg)
	if err != nil {
		t.Fatalf("new judge failed: %v", err)
	}
	return j
}

// plusOne behaves like print(int(input())+1) and crashes on "crash".
func plusOne(p *enginetest.Process) {
	p.OnWrite = func(p *enginetest.Process, data string) {
		in := strings.TrimSpace(data)
		if in == "crash" {
			p.Stderr("Segmentation fault\n")
			p.Exit(result.ExitStatus{ExitCode: 139})
			return
		}
		if in == "slow" {
			time.Sleep(50 * time.Millisecond)
			in = "0"
		}
		n, err := strconv.Atoi(in)
		if err != nil {
			p.Stderr("ValueError\n")
			p.Exit(result.ExitStatus{ExitCode: 1})
			return
		}
		p.Stdout(fmt.Sprintf("%d\n", n+1))
		p.Exit(result.ExitStatus{WallTimeMs: int64(n), MemoryKB: 1024})
	}
}

func TestPythonScenarioPasses(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{})

	res, err := j.RunTests(context.Background(), "Python", "print(int(input())+1)", []TestCase{
		{ID: "1", Input: "5", Expected: "6"},
		{ID: "2", Input: "10", Expected: "11"},
	})
	if err != nil {
		t.Fatalf("run tests failed: %v", err)
	}
	if !res.Passed || res.PassedCount != 2 || res.FailedCount != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, c := range res.Cases {
		if !c.Passed || c.Verdict != result.VerdictAC {
			t.Fatalf("case %s failed: %+v", c.ID, c)
		}
	}
	if res.ExecutionTimeMs != 10 || res.MemoryKB != 1024 {
		t.Fatalf("unexpected aggregates: time=%d memory=%d", res.ExecutionTimeMs, res.MemoryKB)
	}
	for _, p := range runner.Processes() {
		if !p.StdinClosed() {
			t.Fatalf("stdin left open")
		}
	}
	if _, _, cleanups := runner.Counts(); cleanups != 1 {
		t.Fatalf("cleanups = %d, want 1", cleanups)
	}
}

func TestCompiledLanguageCompilesOnce(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{})

	cases := []TestCase{
		{ID: "a", Input: "1", Expected: "2"},
		{ID: "b", Input: "2", Expected: "3"},
		{ID: "c", Input: "3", Expected: "4"},
		{ID: "d", Input: "4", Expected: "5"},
	}
	res, err := j.Submit(context.Background(), "cpp", "int main(){}", cases)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !res.Passed {
		t.Fatalf("unexpected result: %+v", res)
	}
	compiles, spawns, _ := runner.Counts()
	if compiles != 1 || spawns != len(cases) {
		t.Fatalf("compiles = %d, spawns = %d", compiles, spawns)
	}
}

func TestEachCaseRunsInItsOwnDirectory(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{MaxCasesInFlight: 3})

	_, err := j.RunTests(context.Background(), "python", "x", []TestCase{
		{ID: "a", Input: "1", Expected: "2"},
		{ID: "b", Input: "2", Expected: "3"},
		{ID: "c", Input: "3", Expected: "4"},
	})
	if err != nil {
		t.Fatalf("run tests failed: %v", err)
	}
	forks := runner.Forks()
	sort.Strings(forks)
	if strings.Join(forks, ",") != "case-1,case-2,case-3" {
		t.Fatalf("unexpected forks: %v", forks)
	}
	seen := map[string]bool{}
	for _, dir := range runner.SpawnDirs() {
		if dir == "/tmp/ws-fake" || seen[dir] {
			t.Fatalf("cases share a directory: %v", runner.SpawnDirs())
		}
		seen[dir] = true
	}
}

func TestCrashIsIsolatedToItsCase(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{})

	res, err := j.RunTests(context.Background(), "python", "x", []TestCase{
		{ID: "1", Input: "1", Expected: "2"},
		{ID: "2", Input: "crash", Expected: "0"},
		{ID: "3", Input: "3", Expected: "4"},
	})
	if err != nil {
		t.Fatalf("run tests failed: %v", err)
	}
	if res.Passed || res.PassedCount != 2 || res.FailedCount != 1 {
		t.Fatalf("unexpected summary: %+v", res)
	}
	if !res.Cases[0].Passed || res.Cases[0].Output != "2\n" {
		t.Fatalf("case 1 corrupted: %+v", res.Cases[0])
	}
	if res.Cases[1].Verdict != result.VerdictRE || res.Cases[1].Error != "Segmentation fault" {
		t.Fatalf("case 2 should be a runtime error: %+v", res.Cases[1])
	}
	if !res.Cases[2].Passed || res.Cases[2].Output != "4\n" {
		t.Fatalf("case 3 corrupted: %+v", res.Cases[2])
	}
}

func TestCompileErrorFailsEveryCaseWithoutSpawning(t *testing.T) {
	runner := &enginetest.Runner{
		CompileErr: appErr.New(appErr.CompilationError).WithMessage("main.cpp:1:12: error: expected ')'"),
	}
	j := newTestJudge(t, runner, Config{})

	res, err := j.Submit(context.Background(), "C++", "int main( {", []TestCase{
		{ID: "1", Input: "1", Expected: "2"},
		{ID: "2", Input: "2", Expected: "3"},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Passed || res.FailedCount != 2 || !strings.Contains(res.CompileError, "expected ')'") {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, c := range res.Cases {
		if c.Passed || c.Verdict != result.VerdictCE || c.Error != res.CompileError {
			t.Fatalf("case %s should carry the compile error: %+v", c.ID, c)
		}
	}
	if _, spawns, cleanups := runner.Counts(); spawns != 0 || cleanups != 1 {
		t.Fatalf("spawns = %d, cleanups = %d", spawns, cleanups)
	}
}

func TestVerdictsForWrongAnswerAndTimeout(t *testing.T) {
	runner := &enginetest.Runner{Setup: func(p *enginetest.Process) {
		p.OnWrite = func(p *enginetest.Process, data string) {
			if strings.TrimSpace(data) == "loop" {
				p.Exit(result.ExitStatus{ExitCode: -1, TimedOut: true, Killed: true})
				return
			}
			p.Stdout("41  \n\n")
			p.Exit(result.ExitStatus{})
		}
	}}
	j := newTestJudge(t, runner, Config{CaseTimeout: 750 * time.Millisecond})

	res, err := j.RunTests(context.Background(), "python", "x", []TestCase{
		{ID: "wa", Input: "x", Expected: "42"},
		{ID: "ac", Input: "x", Expected: "41"},
		{ID: "tle", Input: "loop", Expected: "42"},
	})
	if err != nil {
		t.Fatalf("run tests failed: %v", err)
	}
	if res.Cases[0].Verdict != result.VerdictWA || res.Cases[0].Passed {
		t.Fatalf("expected WA: %+v", res.Cases[0])
	}
	if res.Cases[1].Verdict != result.VerdictAC {
		t.Fatalf("expected AC after normalization: %+v", res.Cases[1])
	}
	if res.Cases[2].Verdict != result.VerdictTLE || res.Cases[2].Error != "Time limit exceeded (750ms)" {
		t.Fatalf("expected TLE: %+v", res.Cases[2])
	}
}

func TestResultsKeepCaseOrder(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{MaxCasesInFlight: 3, WorkerPoolSize: 3})

	res, err := j.RunTests(context.Background(), "python", "x", []TestCase{
		{ID: "slow", Input: "slow", Expected: "1"},
		{ID: "fast-1", Input: "1", Expected: "2"},
		{ID: "fast-2", Input: "2", Expected: "3"},
	})
	if err != nil {
		t.Fatalf("run tests failed: %v", err)
	}
	for i, id := range []string{"slow", "fast-1", "fast-2"} {
		if res.Cases[i].ID != id || !res.Cases[i].Passed {
			t.Fatalf("case %d = %+v, want id %s passed", i, res.Cases[i], id)
		}
	}
	if j.InFlight() != 0 {
		t.Fatalf("slots leaked: %d", j.InFlight())
	}
}

func TestJudgeRejectsBadRequests(t *testing.T) {
	j := newTestJudge(t, &enginetest.Runner{}, Config{})
	ctx := context.Background()

	if _, err := j.RunTests(ctx, "cobol", "x", []TestCase{{ID: "1"}}); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if _, err := j.RunTests(ctx, "python", "x", nil); !appErr.Is(err, appErr.TestCaseNotFound) {
		t.Fatalf("expected TestCaseNotFound, got %v", err)
	}
}

func TestAcquireSlotTimesOutWhenPoolFull(t *testing.T) {
	j := newTestJudge(t, &enginetest.Runner{}, Config{WorkerPoolSize: 1, QueueWait: 20 * time.Millisecond})
	ctx := context.Background()

	if err := j.acquireSlot(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := j.acquireSlot(ctx); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := j.acquireSlot(cancelled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	j.releaseSlot()
	if err := j.acquireSlot(ctx); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	j.releaseSlot()
}

func TestQueueFullFailsTheRequest(t *testing.T) {
	runner := &enginetest.Runner{Setup: plusOne}
	j := newTestJudge(t, runner, Config{WorkerPoolSize: 1, QueueWait: 10 * time.Millisecond})
	if err := j.acquireSlot(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer j.releaseSlot()

	_, err := j.RunTests(context.Background(), "python", "x", []TestCase{{ID: "1", Input: "1", Expected: "2"}})
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	if _, _, cleanups := runner.Counts(); cleanups != 1 {
		t.Fatalf("workspace not cleaned after queue failure")
	}
}
