package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"judgebox/internal/exec/sandbox/profile"
	"judgebox/internal/exec/sandbox/result"
	"judgebox/internal/exec/sandbox/spec"
)

// Stream identifies the pipe a chunk was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is one read from a child's stdout or stderr.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// SpawnOptions tune a single spawn.
type SpawnOptions struct {
	// TimeoutMs is the wall-clock limit; zero falls back to the recipe's RunTimeoutMs.
	TimeoutMs int64
	Limits    spec.ResourceLimit
}

// Runner prepares workspaces and drives child processes.
type Runner interface {
	Prepare(recipe profile.LanguageRecipe, source string) (*Workspace, error)
	Compile(ctx context.Context, ws *Workspace) (result.CompileResult, error)
	// Fork gives one run a private directory under ws holding copies of the prepared files.
	Fork(ws *Workspace, name string) (*Workspace, error)
	Spawn(ctx context.Context, ws *Workspace, opts SpawnOptions) (Process, error)
	Cleanup(ws *Workspace) error
}

// Process is a running child. Chunks is closed before Done.
type Process interface {
	// Write sends bytes to stdin. It is a no-op once the process has exited.
	Write(p []byte) error
	CloseStdin() error
	Chunks() <-chan Chunk
	Done() <-chan struct{}
	// Wait blocks until exit and every chunk has been delivered.
	Wait() result.ExitStatus
	// Kill sends SIGTERM to the process group and SIGKILL after the grace window. Safe to repeat.
	Kill()
	Pid() int
}

// LocalRunner runs programs as child processes of this service.
type LocalRunner struct {
	cfg Config
}

// NewLocalRunner creates a runner rooted at cfg.WorkRoot.
func NewLocalRunner(cfg Config) (*LocalRunner, error) {
	cfg.ApplyDefaults()
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "judgebox")
	}
	root, err := filepath.Abs(cfg.WorkRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve work root: %w", err)
	}
	if strings.ContainsAny(root, " \t\n") {
		return nil, fmt.Errorf("work root must not contain whitespace: %q", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	cfg.WorkRoot = root
	return &LocalRunner{cfg: cfg}, nil
}

// Prepare writes source into a fresh workspace.
func (r *LocalRunner) Prepare(recipe profile.LanguageRecipe, source string) (*Workspace, error) {
	return prepareWorkspace(r.cfg.WorkRoot, recipe, source, r.cfg.MaxSourceBytes)
}

// Fork copies the prepared files of ws into the run directory name.
func (r *LocalRunner) Fork(ws *Workspace, name string) (*Workspace, error) {
	return forkWorkspace(ws, name)
}

// Cleanup removes the workspace. Safe to call more than once.
func (r *LocalRunner) Cleanup(ws *Workspace) error {
	return removeWorkspace(ws)
}

func timeoutOrDefault(ms, fallback int64) int64 {
	if ms > 0 {
		return ms
	}
	return fallback
}
