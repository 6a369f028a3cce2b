//go:build linux

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"judgebox/internal/exec/sandbox/result"
	"judgebox/internal/exec/sandbox/spec"
	appErr "judgebox/pkg/errors"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

const (
	readBufferSize  = 4096
	chunkBufferSize = 64
)

// helperRequest is read by cmd/sandbox-init from fd 3.
type helperRequest struct {
	Cmd            []string           `json:"cmd"`
	Env            []string           `json:"env"`
	WorkDir        string             `json:"workDir"`
	Limits         spec.ResourceLimit `json:"limits"`
	SeccompProfile string             `json:"seccompProfile,omitempty"`
}

// Compile runs the recipe's compile step with its own timeout.
func (r *LocalRunner) Compile(ctx context.Context, ws *Workspace) (result.CompileResult, error) {
	if !ws.Recipe.HasCompileStep() {
		return result.CompileResult{OK: true, Skipped: true}, nil
	}
	argv, err := buildCommand(ws.Recipe.CompileCmdTpl, ws)
	if err != nil {
		return result.CompileResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "build compile command: %v", err)
	}

	timeoutMs := timeoutOrDefault(ws.Recipe.CompileTimeoutMs, 10000)
	compileCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(compileCtx, argv[0], argv[1:]...)
	cmd.Dir = ws.Dir
	cmd.Env = buildEnv(ws, r.cfg.PathEnv)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = r.cfg.KillGrace
	output := newLimitedBuffer(r.cfg.CompileOutputLimitBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	runErr := cmd.Run()
	res := result.CompileResult{
		TimeMs: time.Since(start).Milliseconds(),
		Output: output.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runErr == nil {
		res.OK = true
		return res, nil
	}
	if ctx.Err() != nil {
		return res, appErr.Wrapf(ctx.Err(), appErr.ExecutionStopped, "compilation cancelled")
	}
	if errors.Is(compileCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, appErr.Newf(appErr.CompilationError, "Compilation timed out after %dms", timeoutMs).
			WithDetail("output", res.Output)
	}
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return res, appErr.Wrapf(runErr, appErr.JudgeSystemError, "start compiler: %v", runErr)
	}
	msg := res.Output
	if msg == "" {
		msg = fmt.Sprintf("Compiler exited with code %d", res.ExitCode)
	}
	return res, appErr.New(appErr.CompilationError).WithMessage(msg)
}

// Spawn starts the recipe's run command with piped stdio.
func (r *LocalRunner) Spawn(ctx context.Context, ws *Workspace, opts SpawnOptions) (Process, error) {
	argv, err := buildCommand(ws.Recipe.RunCmdTpl, ws)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "build run command: %v", err)
	}
	limits := r.cfg.Limits.Merge(opts.Limits)
	env := buildEnv(ws, r.cfg.PathEnv)

	var cmd *exec.Cmd
	var reqReader, reqWriter *os.File
	if r.cfg.HelperPath != "" {
		reqReader, reqWriter, err = os.Pipe()
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create helper pipe: %v", err)
		}
		cmd = exec.Command(r.cfg.HelperPath)
		cmd.ExtraFiles = []*os.File{reqReader}
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Dir = ws.Dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeFiles(reqReader, reqWriter)
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create stdin pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeFiles(reqReader, reqWriter)
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create stdout pipe: %v", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeFiles(reqReader, reqWriter, outR, outW)
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create stderr pipe: %v", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeFiles(reqReader, reqWriter, outR, outW, errR, errW)
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "start process: %v", err)
	}
	// The child holds its own copies; EOF on our read ends depends on closing these.
	closeFiles(outW, errW, reqReader)

	if reqWriter != nil {
		req := helperRequest{
			Cmd:            argv,
			Env:            env,
			WorkDir:        ws.Dir,
			Limits:         limits,
			SeccompProfile: r.cfg.SeccompProfile,
		}
		encErr := json.NewEncoder(reqWriter).Encode(req)
		_ = reqWriter.Close()
		if encErr != nil {
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
			_ = cmd.Wait()
			closeFiles(outR, errR)
			return nil, appErr.Wrapf(encErr, appErr.JudgeSystemError, "send helper request: %v", encErr)
		}
	}

	p := &linuxProcess{
		cmd:         cmd,
		pid:         cmd.Process.Pid,
		stdin:       stdin,
		chunks:      make(chan Chunk, chunkBufferSize),
		done:        make(chan struct{}),
		grace:       r.cfg.KillGrace,
		outputLimit: outputLimit(r.cfg.OutputLimitBytes, limits),
		start:       time.Now(),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.pump(outR, Stdout, &readers)
	go p.pump(errR, Stderr, &readers)
	go p.wait(&readers)

	timeout := time.Duration(timeoutOrDefault(opts.TimeoutMs, ws.Recipe.RunTimeoutMs)) * time.Millisecond
	go p.supervise(ctx, timeout)
	if limits.MemoryMB > 0 {
		go p.sampleMemory(r.cfg.MemorySampleInterval, limits.MemoryMB)
	}
	return p, nil
}

func outputLimit(configured int64, limits spec.ResourceLimit) int64 {
	if limits.OutputMB > 0 {
		perRun := limits.OutputMB * 1024 * 1024
		if configured <= 0 || perRun < configured {
			return perRun
		}
	}
	return configured
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

type linuxProcess struct {
	cmd   *exec.Cmd
	pid   int
	start time.Time
	grace time.Duration

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	chunks chan Chunk
	done   chan struct{}
	status result.ExitStatus

	outputLimit int64
	outputBytes atomic.Int64
	peakRSSKB   atomic.Int64

	killOnce       sync.Once
	killed         atomic.Bool
	timedOut       atomic.Bool
	outputExceeded atomic.Bool
	memoryExceeded atomic.Bool
}

func (p *linuxProcess) Pid() int { return p.pid }

func (p *linuxProcess) Chunks() <-chan Chunk { return p.chunks }

func (p *linuxProcess) Done() <-chan struct{} { return p.done }

func (p *linuxProcess) Write(data []byte) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.exited() {
		return nil
	}
	if _, err := p.stdin.Write(data); err != nil {
		if p.exited() || errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			return nil
		}
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (p *linuxProcess) CloseStdin() error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close stdin: %w", err)
	}
	return nil
}

func (p *linuxProcess) Wait() result.ExitStatus {
	<-p.done
	return p.status
}

func (p *linuxProcess) Kill() {
	if p.exited() {
		return
	}
	p.killOnce.Do(func() {
		p.killed.Store(true)
		_ = unix.Kill(-p.pid, unix.SIGTERM)
		go func() {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-p.done:
			case <-timer.C:
				_ = unix.Kill(-p.pid, unix.SIGKILL)
			}
		}()
	})
}

func (p *linuxProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *linuxProcess) pump(r *os.File, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total := p.outputBytes.Add(int64(n))
			if p.outputLimit > 0 && total > p.outputLimit {
				// Keep draining so the child never blocks on a full pipe before it dies.
				if !p.outputExceeded.Swap(true) {
					p.Kill()
				}
			} else {
				data := make([]byte, n)
				copy(data, buf[:n])
				p.chunks <- Chunk{Stream: stream, Data: data}
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *linuxProcess) wait(readers *sync.WaitGroup) {
	waitErr := p.cmd.Wait()
	// Background children keep the pipes open; the group goes with the leader.
	_ = unix.Kill(-p.pid, unix.SIGKILL)
	readers.Wait()
	p.status = p.buildStatus(waitErr)
	close(p.chunks)
	close(p.done)
}

func (p *linuxProcess) supervise(ctx context.Context, timeout time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-p.done:
	case <-expired:
		p.timedOut.Store(true)
		p.Kill()
	case <-ctx.Done():
		p.Kill()
	}
}

func (p *linuxProcess) sampleMemory(interval time.Duration, limitMB int64) {
	proc, err := process.NewProcess(int32(p.pid))
	if err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	limitKB := limitMB * 1024
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			info, err := proc.MemoryInfo()
			if err != nil {
				continue
			}
			kb := int64(info.RSS / 1024)
			for {
				peak := p.peakRSSKB.Load()
				if kb <= peak || p.peakRSSKB.CompareAndSwap(peak, kb) {
					break
				}
			}
			if kb > limitKB {
				p.memoryExceeded.Store(true)
				p.Kill()
				return
			}
		}
	}
}

func (p *linuxProcess) buildStatus(waitErr error) result.ExitStatus {
	status := result.ExitStatus{
		WallTimeMs:          time.Since(p.start).Milliseconds(),
		TimedOut:            p.timedOut.Load(),
		Killed:              p.killed.Load(),
		OutputLimitExceeded: p.outputExceeded.Load(),
		MemoryLimitExceeded: p.memoryExceeded.Load(),
		MemoryKB:            p.peakRSSKB.Load(),
	}
	state := p.cmd.ProcessState
	if state == nil {
		status.ExitCode = -1
		status.Err = waitErr
		return status
	}
	status.ExitCode = state.ExitCode()
	status.CPUTimeMs = (state.UserTime() + state.SystemTime()).Milliseconds()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
		if ws.Signal() == syscall.SIGXCPU {
			status.TimedOut = true
		}
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && int64(ru.Maxrss) > status.MemoryKB {
		status.MemoryKB = int64(ru.Maxrss)
	}
	return status
}
