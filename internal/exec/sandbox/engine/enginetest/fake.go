// Package enginetest provides in-memory Runner and Process fakes for tests.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"

	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/profile"
	"judgebox/internal/exec/sandbox/result"
)

// Process is a scripted engine.Process.
type Process struct {
	chunks chan engine.Chunk
	done   chan struct{}

	mu          sync.Mutex
	exited      bool
	status      result.ExitStatus
	writes      []string
	stdinClosed bool

	// OnWrite runs after every stdin write.
	OnWrite func(p *Process, data string)

	killed atomic.Bool
}

// NewProcess returns a live process with a buffered chunk channel.
func NewProcess() *Process {
	return &Process{
		chunks: make(chan engine.Chunk, 256),
		done:   make(chan struct{}),
	}
}

// Emit queues output; it is dropped once the process exited.
func (p *Process) Emit(stream engine.Stream, data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.chunks <- engine.Chunk{Stream: stream, Data: []byte(data)}
}

// Stdout is shorthand for Emit(engine.Stdout, data).
func (p *Process) Stdout(data string) { p.Emit(engine.Stdout, data) }

// Stderr is shorthand for Emit(engine.Stderr, data).
func (p *Process) Stderr(data string) { p.Emit(engine.Stderr, data) }

// Exit finishes the process with status. Later calls are ignored.
func (p *Process) Exit(status result.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.status = status
	close(p.chunks)
	close(p.done)
}

func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	p.writes = append(p.writes, string(data))
	hook := p.OnWrite
	p.mu.Unlock()
	if hook != nil {
		hook(p, string(data))
	}
	return nil
}

func (p *Process) CloseStdin() error {
	p.mu.Lock()
	p.stdinClosed = true
	p.mu.Unlock()
	return nil
}

func (p *Process) Chunks() <-chan engine.Chunk { return p.chunks }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Wait() result.ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) Kill() {
	p.killed.Store(true)
	p.Exit(result.ExitStatus{ExitCode: -1, Signal: "killed", Killed: true})
}

func (p *Process) Pid() int { return 4242 }

// Killed reports whether Kill was called.
func (p *Process) Killed() bool { return p.killed.Load() }

// Writes returns everything written to stdin.
func (p *Process) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// StdinClosed reports whether CloseStdin was called.
func (p *Process) StdinClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdinClosed
}

// Runner records calls and hands out scripted processes.
type Runner struct {
	// CompileErr fails every compile when set.
	CompileErr error

	// BlockCompile makes Compile wait for ctx cancellation.
	BlockCompile bool

	// PrepareErr fails every prepare when set.
	PrepareErr error

	// Setup runs synchronously before Spawn returns, e.g. to install OnWrite.
	Setup func(p *Process)

	// Script drives each spawned process from its own goroutine.
	Script func(p *Process)

	mu        sync.Mutex
	compiles  int
	spawns    int
	cleanups  int
	forks     []string
	spawnDirs []string
	processes []*Process
}

func (r *Runner) Prepare(recipe profile.LanguageRecipe, source string) (*engine.Workspace, error) {
	if r.PrepareErr != nil {
		return nil, r.PrepareErr
	}
	return &engine.Workspace{
		ID:         "fake",
		Dir:        "/tmp/ws-fake",
		SourcePath: "/tmp/ws-fake/" + recipe.SourceFile(),
		Recipe:     recipe,
	}, nil
}

func (r *Runner) Compile(ctx context.Context, ws *engine.Workspace) (result.CompileResult, error) {
	r.mu.Lock()
	r.compiles++
	r.mu.Unlock()
	if r.BlockCompile {
		<-ctx.Done()
		return result.CompileResult{}, ctx.Err()
	}
	if r.CompileErr != nil {
		return result.CompileResult{ExitCode: 1, Output: r.CompileErr.Error()}, r.CompileErr
	}
	return result.CompileResult{OK: true, TimeMs: 1}, nil
}

func (r *Runner) Fork(ws *engine.Workspace, name string) (*engine.Workspace, error) {
	r.mu.Lock()
	r.forks = append(r.forks, name)
	r.mu.Unlock()
	fork := *ws
	fork.ID = ws.ID + "-" + name
	fork.Dir = ws.Dir + "/" + name
	fork.SourcePath = fork.Dir + "/" + ws.Recipe.SourceFile()
	return &fork, nil
}

func (r *Runner) Spawn(ctx context.Context, ws *engine.Workspace, opts engine.SpawnOptions) (engine.Process, error) {
	p := NewProcess()
	r.mu.Lock()
	r.spawns++
	r.spawnDirs = append(r.spawnDirs, ws.Dir)
	r.processes = append(r.processes, p)
	setup, script := r.Setup, r.Script
	r.mu.Unlock()
	if setup != nil {
		setup(p)
	}
	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.Done():
		}
	}()
	if script != nil {
		go script(p)
	}
	return p, nil
}

func (r *Runner) Cleanup(ws *engine.Workspace) error {
	r.mu.Lock()
	r.cleanups++
	r.mu.Unlock()
	return nil
}

// Counts returns compile, spawn and cleanup call counts.
func (r *Runner) Counts() (compiles, spawns, cleanups int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compiles, r.spawns, r.cleanups
}

// Forks returns the run directory names passed to Fork.
func (r *Runner) Forks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.forks...)
}

// SpawnDirs returns the workspace directory of every spawn.
func (r *Runner) SpawnDirs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spawnDirs...)
}

// Processes returns every spawned process in spawn order.
func (r *Runner) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.processes...)
}
