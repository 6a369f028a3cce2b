package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/result"

	"github.com/google/uuid"
)

// run is one execute-code request. Only the goroutine in Session.execute emits its events.
type run struct {
	id          string
	req         ExecuteRequest
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	inputSignal chan struct{}

	mu           sync.Mutex
	state        State
	language     string
	ws           *engine.Workspace
	proc         engine.Process
	tracker      *outputTracker
	waitNotified bool
	// inputMark is the tracker's accepted count at the last send-input.
	inputMark int
	stopped   bool

	emitMu sync.Mutex
	muted  bool
}

func newRun(ctx context.Context, req ExecuteRequest, dedupEcho bool) *run {
	runCtx, cancel := context.WithCancel(ctx)
	return &run{
		id:          uuid.NewString(),
		req:         req,
		ctx:         runCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		inputSignal: make(chan struct{}, 1),
		state:       StateIdle,
		language:    req.Language,
		tracker:     newOutputTracker(dedupEcho),
	}
}

func (r *run) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		return false
	}
	r.state = to
	return true
}

func (r *run) setLanguage(id string) {
	r.mu.Lock()
	r.language = id
	r.mu.Unlock()
}

func (r *run) setWorkspace(ws *engine.Workspace) {
	r.mu.Lock()
	r.ws = ws
	r.mu.Unlock()
}

func (r *run) attach(proc engine.Process) {
	r.mu.Lock()
	r.proc = proc
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		proc.Kill()
	}
}

func (r *run) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// stop mutes output, moves the run to Stopped and kills the child. It reports false for finished runs.
func (r *run) stop() bool {
	r.emitMu.Lock()
	r.muted = true
	r.emitMu.Unlock()

	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.stopped = true
	r.state = StateStopped
	proc := r.proc
	r.mu.Unlock()

	r.cancel()
	if proc != nil {
		proc.Kill()
	}
	return true
}

// abort kills the child after a panic and keeps its pipes drained until exit.
func (r *run) abort() {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return
	}
	proc.Kill()
	go func() {
		for range proc.Chunks() {
		}
	}()
}

func (r *run) push(data []byte, isErr bool) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.tracker.accepted
	delta, ok := r.tracker.push(data, isErr)
	if r.tracker.accepted != before && r.state == StateWaitingForInput {
		r.state = StateRunning
		r.waitNotified = false
	}
	return delta, ok
}

func (r *run) flush() []pendingOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.flush()
}

// markWaiting applies the input-wait heuristic after a quiet period.
func (r *run) markWaiting(proc engine.Process) bool {
	select {
	case <-proc.Done():
		return false
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.waitNotified || r.tracker.accepted == r.inputMark || r.tracker.endsWithNewline() {
		return false
	}
	r.state = StateWaitingForInput
	r.waitNotified = true
	return true
}

func (r *run) conclude(status result.ExitStatus, timeoutMs int64) (State, Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return stopped()
	}
	output := r.tracker.output()
	switch {
	case status.TimedOut:
		return StateFailed, Result{Output: output, Error: fmt.Sprintf("Execution timed out after %dms", timeoutMs)}
	case status.MemoryLimitExceeded:
		return StateFailed, Result{Output: output, Error: "Memory limit exceeded"}
	case status.OutputLimitExceeded:
		return StateFailed, Result{Output: output, Error: "Output limit exceeded"}
	case status.Err != nil:
		return StateFailed, Result{Output: output, Error: "Execution failed: " + status.Err.Error()}
	case status.Success():
		return StateCompleted, Result{Success: true, Output: output}
	}
	msg := strings.TrimRight(r.tracker.stderrText(), "\n")
	if msg == "" {
		msg = exitMessage(status)
	}
	return StateFailed, Result{Output: output, Error: msg}
}
