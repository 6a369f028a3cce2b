// Package session mediates between one client connection and the child process of its current run.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/observer"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/sandbox/result"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/contextkey"
	"judgebox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const stoppedMessage = "Execution stopped"

// Deps are the collaborators a session drives.
type Deps struct {
	Resolver registry.Resolver
	Runner   engine.Runner
	Metrics  observer.MetricsRecorder
	Config   Config
}

// Session owns at most one live run. Events from consecutive runs never interleave:
// a run's terminal result is emitted before the next run starts.
type Session struct {
	id     string
	deps   Deps
	cfg    Config
	events chan Event
	quit   chan struct{}

	startMu sync.Mutex
	mu      sync.Mutex
	current *run
	closed  bool

	runs      sync.WaitGroup
	closeOnce sync.Once
}

// New creates an idle session. An empty id gets a generated one.
func New(id string, deps Deps) *Session {
	cfg := deps.Config
	cfg.ApplyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observer.NoopMetricsRecorder{}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		events: make(chan Event, cfg.EventBuffer),
		quit:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Events is closed by Close once every run has finished.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the state of the latest run, or Idle before the first one.
func (s *Session) State() State {
	r := s.currentRun()
	if r == nil {
		return StateIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start stops any active run and begins a new one.
func (s *Session) Start(ctx context.Context, req ExecuteRequest) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.isClosed() {
		return appErr.New(appErr.TransportDisconnected).WithMessage("session is closed")
	}
	s.Stop()

	ctx = context.WithValue(ctx, contextkey.SessionID, s.id)
	r := newRun(ctx, req, !s.cfg.DisableEchoDedup)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.cancel()
		return appErr.New(appErr.TransportDisconnected).WithMessage("session is closed")
	}
	s.current = r
	s.runs.Add(1)
	s.mu.Unlock()

	go s.execute(ctx, r)
	return nil
}

// SendInput writes text plus a newline to the running program.
// It reports false when no run is accepting input.
func (s *Session) SendInput(ctx context.Context, text string) bool {
	r := s.currentRun()
	if r == nil {
		return false
	}
	if len(text) > s.cfg.MaxInputBytes {
		logger.Warn(ctx, "input rejected", zap.String("session_id", s.id), zap.Int("bytes", len(text)),
			zap.Error(appErr.New(appErr.InputTooLarge)))
		return false
	}

	r.mu.Lock()
	if r.proc == nil || (r.state != StateRunning && r.state != StateWaitingForInput) {
		r.mu.Unlock()
		return false
	}
	r.state = StateRunning
	r.waitNotified = false
	r.tracker.inputSent(text)
	r.inputMark = r.tracker.accepted
	proc := r.proc
	r.mu.Unlock()

	select {
	case r.inputSignal <- struct{}{}:
	default:
	}
	if err := proc.Write([]byte(text + "\n")); err != nil {
		logger.Warn(ctx, "write stdin failed", zap.String("session_id", s.id), zap.Error(err))
		return false
	}
	return true
}

// Stop ends the active run, if any, and waits for its terminal result to be emitted.
func (s *Session) Stop() bool {
	r := s.currentRun()
	if r == nil {
		return false
	}
	stopped := r.stop()
	<-r.done
	return stopped
}

// Close stops the active run and closes the event stream.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		r := s.current
		s.mu.Unlock()

		close(s.quit)
		if r != nil {
			r.stop()
			<-r.done
		}
		s.runs.Wait()
		close(s.events)
	})
}

func (s *Session) currentRun() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(ev Event) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// emitOutput drops events once the run was stopped.
func (s *Session) emitOutput(r *run, ev Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.muted {
		return
	}
	s.emit(ev)
}

func (s *Session) execute(ctx context.Context, r *run) {
	defer s.runs.Done()
	defer close(r.done)
	defer r.cancel()

	final, res := StateFailed, Result{Error: "Execution failed"}
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "session run panicked", zap.String("run_id", r.id), zap.Any("panic", p), zap.Stack("stack"))
			r.abort()
			final, res = StateFailed, Result{Error: "Internal error during execution"}
		}
		s.finish(ctx, r, final, res)
	}()
	final, res = s.drive(ctx, r)
}

func (s *Session) drive(ctx context.Context, r *run) (State, Result) {
	recipe, err := s.deps.Resolver.Resolve(ctx, r.req.Language)
	if err != nil {
		return failed(err.Error())
	}
	r.setLanguage(recipe.ID)
	if r.isStopped() {
		return stopped()
	}

	ws, err := s.deps.Runner.Prepare(recipe, r.req.Code)
	if err != nil {
		return failed(err.Error())
	}
	r.setWorkspace(ws)

	if recipe.HasCompileStep() {
		r.transition(StateCompiling)
		compiled, err := s.deps.Runner.Compile(r.ctx, ws)
		s.deps.Metrics.ObserveCompile(ctx, recipe.ID, err == nil, compiled.TimeMs)
		if r.isStopped() {
			return stopped()
		}
		if err != nil {
			return failed(err.Error())
		}
	}

	timeoutMs := recipe.RunTimeoutMs
	if s.cfg.RunTimeout > 0 {
		timeoutMs = s.cfg.RunTimeout.Milliseconds()
	}
	proc, err := s.deps.Runner.Spawn(r.ctx, ws, engine.SpawnOptions{TimeoutMs: timeoutMs})
	if err != nil {
		if r.isStopped() {
			return stopped()
		}
		return failed(err.Error())
	}
	r.attach(proc)
	r.transition(StateRunning)
	logger.Info(ctx, "run started", zap.String("run_id", r.id), zap.String("language", recipe.ID), zap.Int("pid", proc.Pid()))

	if r.req.Input != "" {
		input := r.req.Input
		if !strings.HasSuffix(input, "\n") {
			input += "\n"
		}
		if err := proc.Write([]byte(input)); err != nil {
			logger.Warn(ctx, "write initial input failed", zap.String("run_id", r.id), zap.Error(err))
		}
	}

	status := s.pump(r, proc)
	s.deps.Metrics.ObserveRun(ctx, recipe.ID, string(result.RunVerdict(status)), status.WallTimeMs, status.MemoryKB)
	return r.conclude(status, timeoutMs)
}

// pump forwards output until both streams close, re-arming the quiet timer on every chunk and input.
func (s *Session) pump(r *run, proc engine.Process) result.ExitStatus {
	quiet := time.NewTimer(s.cfg.QuietPeriod)
	defer quiet.Stop()

	chunks := proc.Chunks()
	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			isErr := chunk.Stream == engine.Stderr
			if delta, ok := r.push(chunk.Data, isErr); ok {
				s.emitOutput(r, Event{Type: EventOutput, RunID: r.id, Output: delta, IsError: isErr})
			}
			quiet.Reset(s.cfg.QuietPeriod)
		case <-quiet.C:
			if r.markWaiting(proc) {
				s.emitOutput(r, Event{Type: EventWaitingForInput, RunID: r.id})
			}
		case <-r.inputSignal:
			quiet.Reset(s.cfg.QuietPeriod)
		}
	}
	for _, out := range r.flush() {
		s.emitOutput(r, Event{Type: EventOutput, RunID: r.id, Output: out.text, IsError: out.isErr})
	}
	return proc.Wait()
}

func (s *Session) finish(ctx context.Context, r *run, final State, res Result) {
	r.mu.Lock()
	if r.stopped {
		final, res = stopped()
	}
	r.state = final
	ws := r.ws
	language := r.language
	r.mu.Unlock()

	if ws != nil {
		if err := s.deps.Runner.Cleanup(ws); err != nil {
			logger.Warn(ctx, "workspace cleanup failed", zap.String("run_id", r.id), zap.String("dir", ws.Dir), zap.Error(err))
		}
	}
	s.deps.Metrics.ObserveSession(ctx, language, string(final))
	logger.Info(ctx, "run finished",
		zap.String("run_id", r.id),
		zap.String("language", language),
		zap.String("state", string(final)),
		zap.Bool("success", res.Success),
	)
	s.emit(Event{Type: EventResult, RunID: r.id, Result: &res})
}

func failed(msg string) (State, Result) {
	return StateFailed, Result{Success: false, Error: msg}
}

func stopped() (State, Result) {
	return StateStopped, Result{Success: false, Error: stoppedMessage}
}

func exitMessage(status result.ExitStatus) string {
	if status.Signal != "" {
		return fmt.Sprintf("Process terminated by signal: %s", status.Signal)
	}
	return fmt.Sprintf("Process exited with code %d", status.ExitCode)
}
