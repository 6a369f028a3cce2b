package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"judgebox/internal/exec/sandbox/engine/enginetest"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/sandbox/result"
	appErr "judgebox/pkg/errors"
)

const waitTimeout = 10 * time.Second

func newTestSession(t *testing.T, runner *enginetest.Runner, cfg Config) *Session {
	t.Helper()
	reg, err := registry.NewLocalRegistry(nil)
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	if cfg.QuietPeriod == 0 {
		cfg.QuietPeriod = time.Hour
	}
	s := New("", Deps{Resolver: reg, Runner: runner, Config: cfg})
	t.Cleanup(s.Close)
	return s
}

// collectUntil reads events until stop returns true for one of them.
func collectUntil(t *testing.T, s *Session, stop func(Event) bool) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed early after %d events", len(out))
			}
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %+v", out)
		}
	}
}

func untilResult(ev Event) bool { return ev.Type == EventResult }

func outputs(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventOutput {
			b.WriteString(ev.Output)
		}
	}
	return b.String()
}

func lastResult(t *testing.T, events []Event) *Result {
	t.Helper()
	last := events[len(events)-1]
	if last.Type != EventResult || last.Result == nil {
		t.Fatalf("last event is not a result: %+v", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == EventResult {
			t.Fatalf("more than one result event: %+v", events)
		}
	}
	return last.Result
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestSessionCompletesAndStreamsOutput(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("hello\n")
		p.Exit(result.ExitStatus{})
	}}
	s := newTestSession(t, runner, Config{})

	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "print('hello')"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events := collectUntil(t, s, untilResult)
	res := lastResult(t, events)
	if !res.Success || res.Output != "hello\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if outputs(events) != "hello\n" {
		t.Fatalf("unexpected output events: %+v", events)
	}
	waitState(t, s, StateCompleted)
	if compiles, spawns, cleanups := runner.Counts(); compiles != 0 || spawns != 1 || cleanups != 1 {
		t.Fatalf("counts = %d/%d/%d", compiles, spawns, cleanups)
	}
}

func TestSessionRendersBackspaces(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("ab")
		p.Stdout("\b")
		p.Stdout("c")
		p.Exit(result.ExitStatus{})
	}}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "py", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events := collectUntil(t, s, untilResult)
	if res := lastResult(t, events); res.Output != "ac" {
		t.Fatalf("rendered output = %q, want %q", res.Output, "ac")
	}
}

func TestSessionWaitsForInputAndResumes(t *testing.T) {
	runner := &enginetest.Runner{
		Setup: func(p *enginetest.Process) {
			p.OnWrite = func(p *enginetest.Process, data string) {
				p.Stdout("Hi " + data)
				p.Exit(result.ExitStatus{})
			}
		},
		Script: func(p *enginetest.Process) {
			p.Stdout("Name: ")
		},
	}
	s := newTestSession(t, runner, Config{QuietPeriod: 20 * time.Millisecond})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "input()"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	sawPrompt := false
	collectUntil(t, s, func(ev Event) bool {
		if ev.Type == EventOutput && ev.Output == "Name: " {
			sawPrompt = true
		}
		return sawPrompt && ev.Type == EventWaitingForInput
	})
	if got := s.State(); got != StateWaitingForInput {
		t.Fatalf("state = %s, want WaitingForInput", got)
	}
	if !s.SendInput(context.Background(), "bob") {
		t.Fatalf("input was not accepted")
	}

	events := collectUntil(t, s, untilResult)
	res := lastResult(t, events)
	if !res.Success || res.Output != "Name: Hi bob\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if writes := runner.Processes()[0].Writes(); len(writes) != 1 || writes[0] != "bob\n" {
		t.Fatalf("unexpected stdin writes: %q", writes)
	}
}

func TestSessionPromptLoopKeepsEveryPrompt(t *testing.T) {
	runner := &enginetest.Runner{
		Setup: func(p *enginetest.Process) {
			count := 0
			p.OnWrite = func(p *enginetest.Process, data string) {
				count++
				if count < 3 {
					p.Stdout("ok\nEnter: ")
					return
				}
				p.Stdout("ok\n")
				p.Exit(result.ExitStatus{})
			}
		},
		Script: func(p *enginetest.Process) {
			p.Stdout("Enter: ")
		},
	}
	s := newTestSession(t, runner, Config{QuietPeriod: 20 * time.Millisecond})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var events []Event
	for _, line := range []string{"a", "b", "c"} {
		events = append(events, collectUntil(t, s, func(ev Event) bool { return ev.Type == EventWaitingForInput })...)
		if !s.SendInput(context.Background(), line) {
			t.Fatalf("input %q was not accepted", line)
		}
	}
	events = append(events, collectUntil(t, s, untilResult)...)

	want := "Enter: ok\nEnter: ok\nEnter: ok\n"
	if got := outputs(events); got != want {
		t.Fatalf("streamed output = %q, want %q", got, want)
	}
	if res := lastResult(t, events); !res.Success || res.Output != want {
		t.Fatalf("unexpected result: %+v", res)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Type == EventWaitingForInput && events[i-1].Type == EventWaitingForInput {
			t.Fatalf("consecutive waiting-for-input events: %+v", events)
		}
	}
}

func TestSessionNoWaitingEventAfterNewline(t *testing.T) {
	release := make(chan struct{})
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("working\n")
		<-release
		p.Exit(result.ExitStatus{})
	}}
	s := newTestSession(t, runner, Config{QuietPeriod: 10 * time.Millisecond})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	collectUntil(t, s, func(ev Event) bool { return ev.Type == EventOutput })
	time.Sleep(60 * time.Millisecond)
	close(release)
	for _, ev := range collectUntil(t, s, untilResult) {
		if ev.Type == EventWaitingForInput {
			t.Fatalf("unexpected waiting-for-input after a complete line")
		}
	}
}

func TestSessionStopSuppressesOutputAndKills(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {
		p.Stdout("tick")
	}}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	collectUntil(t, s, func(ev Event) bool { return ev.Type == EventOutput })

	if !s.Stop() {
		t.Fatalf("stop reported no active run")
	}
	proc := runner.Processes()[0]
	proc.Stdout("late")

	events := collectUntil(t, s, untilResult)
	if len(events) != 1 {
		t.Fatalf("expected only the result after stop, got %+v", events)
	}
	res := events[0].Result
	if res.Success || res.Error != "Execution stopped" {
		t.Fatalf("unexpected stop result: %+v", res)
	}
	if !proc.Killed() {
		t.Fatalf("process was not killed")
	}
	if got := s.State(); got != StateStopped {
		t.Fatalf("state = %s, want Stopped", got)
	}
	if _, _, cleanups := runner.Counts(); cleanups != 1 {
		t.Fatalf("cleanups = %d, want 1", cleanups)
	}
	if s.Stop() {
		t.Fatalf("second stop should be a no-op")
	}
	if s.SendInput(context.Background(), "x") {
		t.Fatalf("input accepted after stop")
	}
}

func TestSessionStopDuringCompile(t *testing.T) {
	runner := &enginetest.Runner{BlockCompile: true}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "cpp", Code: "int main(){}"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitState(t, s, StateCompiling)
	s.Stop()
	res := lastResult(t, collectUntil(t, s, untilResult))
	if res.Error != "Execution stopped" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, spawns, _ := runner.Counts(); spawns != 0 {
		t.Fatalf("spawned %d processes after stop", spawns)
	}
}

func TestSessionNewExecuteStopsPreviousRun(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {}}
	s := newTestSession(t, runner, Config{})
	ctx := context.Background()
	if err := s.Start(ctx, ExecuteRequest{Language: "python", Code: "while True: pass"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitState(t, s, StateRunning)

	runner.Script = func(p *enginetest.Process) {
		p.Stdout("second\n")
		p.Exit(result.ExitStatus{})
	}
	if err := s.Start(ctx, ExecuteRequest{Language: "python", Code: "print('second')"}); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	first := collectUntil(t, s, untilResult)
	if res := lastResult(t, first); res.Error != "Execution stopped" {
		t.Fatalf("first run should end stopped, got %+v", res)
	}
	second := collectUntil(t, s, untilResult)
	if res := lastResult(t, second); !res.Success || res.Output != "second\n" {
		t.Fatalf("unexpected second result: %+v", res)
	}
	if first[0].RunID == second[0].RunID {
		t.Fatalf("runs share an id")
	}
	if !runner.Processes()[0].Killed() {
		t.Fatalf("previous process still alive")
	}
}

func TestSessionCompileErrorNeverSpawns(t *testing.T) {
	runner := &enginetest.Runner{
		CompileErr: appErr.New(appErr.CompilationError).WithMessage("main.cpp:1:1: error: expected ';'"),
	}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "c++", Code: "int main( {"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	res := lastResult(t, collectUntil(t, s, untilResult))
	if res.Success || !strings.Contains(res.Error, "expected ';'") {
		t.Fatalf("unexpected result: %+v", res)
	}
	compiles, spawns, cleanups := runner.Counts()
	if compiles != 1 || spawns != 0 || cleanups != 1 {
		t.Fatalf("counts = %d/%d/%d", compiles, spawns, cleanups)
	}
	waitState(t, s, StateFailed)
}

func TestSessionRejectsUnsupportedLanguage(t *testing.T) {
	runner := &enginetest.Runner{}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "cobol", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	res := lastResult(t, collectUntil(t, s, untilResult))
	if res.Success || !strings.Contains(res.Error, "not supported") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, spawns, cleanups := runner.Counts(); spawns != 0 || cleanups != 0 {
		t.Fatalf("unexpected runner activity")
	}
}

func TestSessionReportsFailures(t *testing.T) {
	tests := []struct {
		name   string
		script func(p *enginetest.Process)
		want   string
	}{
		{
			name: "stderr",
			script: func(p *enginetest.Process) {
				p.Stderr("Traceback: boom\n")
				p.Exit(result.ExitStatus{ExitCode: 1})
			},
			want: "Traceback: boom",
		},
		{
			name: "exit code",
			script: func(p *enginetest.Process) {
				p.Exit(result.ExitStatus{ExitCode: 7})
			},
			want: "Process exited with code 7",
		},
		{
			name: "timeout",
			script: func(p *enginetest.Process) {
				p.Exit(result.ExitStatus{ExitCode: -1, TimedOut: true})
			},
			want: "Execution timed out after 1500ms",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &enginetest.Runner{Script: tt.script}
			s := newTestSession(t, runner, Config{RunTimeout: 1500 * time.Millisecond})
			if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			res := lastResult(t, collectUntil(t, s, untilResult))
			if res.Success || res.Error != tt.want {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}

func TestSessionWritesInitialInput(t *testing.T) {
	runner := &enginetest.Runner{Setup: func(p *enginetest.Process) {
		p.OnWrite = func(p *enginetest.Process, data string) {
			p.Stdout(data)
			p.Exit(result.ExitStatus{})
		}
	}}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x", Input: "42"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	res := lastResult(t, collectUntil(t, s, untilResult))
	if res.Output != "42\n" {
		t.Fatalf("unexpected output: %q", res.Output)
	}
}

func TestSessionCloseStopsRunAndClosesEvents(t *testing.T) {
	runner := &enginetest.Runner{Script: func(p *enginetest.Process) {}}
	s := newTestSession(t, runner, Config{})
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitState(t, s, StateRunning)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatalf("close did not return")
	}
	for range s.Events() {
	}
	if !runner.Processes()[0].Killed() {
		t.Fatalf("process survived close")
	}
	if err := s.Start(context.Background(), ExecuteRequest{Language: "python", Code: "x"}); !appErr.Is(err, appErr.TransportDisconnected) {
		t.Fatalf("expected start after close to fail, got %v", err)
	}
}

func TestSendInputIgnoredWithoutRun(t *testing.T) {
	s := newTestSession(t, &enginetest.Runner{}, Config{})
	if s.SendInput(context.Background(), "x") {
		t.Fatalf("input accepted without a run")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}
