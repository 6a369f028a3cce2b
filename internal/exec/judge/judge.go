// Package judge runs a program against a batch of test cases and compares outputs.
package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/observer"
	"judgebox/internal/exec/sandbox/profile"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/sandbox/result"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkerPoolSize   = 4
	defaultQueueWait        = 2 * time.Second
	defaultCaseOutputLimit  = 64 * 1024
	defaultMaxCasesInFlight = 4
)

// Config controls judge concurrency.
type Config struct {
	// WorkerPoolSize caps child processes across all requests.
	WorkerPoolSize int `yaml:"workerPoolSize"`
	// QueueWait bounds how long a case waits for a free slot.
	QueueWait time.Duration `yaml:"queueWait"`
	// MaxCasesInFlight caps fan-out within one request.
	MaxCasesInFlight int `yaml:"maxCasesInFlight"`
	// CaseTimeout overrides the recipe run timeout when set.
	CaseTimeout time.Duration `yaml:"caseTimeout"`
	// CaseOutputLimit caps the output kept per case for the response.
	CaseOutputLimit int `yaml:"caseOutputLimit"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = defaultWorkerPoolSize
	}
	if c.QueueWait <= 0 {
		c.QueueWait = defaultQueueWait
	}
	if c.MaxCasesInFlight <= 0 {
		c.MaxCasesInFlight = defaultMaxCasesInFlight
	}
	if c.CaseOutputLimit <= 0 {
		c.CaseOutputLimit = defaultCaseOutputLimit
	}
}

// Judge compiles once and runs every case against the same artifact.
type Judge struct {
	resolver registry.Resolver
	runner   engine.Runner
	metrics  observer.MetricsRecorder
	cfg      Config
	sem      chan struct{}
}

// NewJudge creates a judge sharing one slot pool across requests.
func NewJudge(resolver registry.Resolver, runner engine.Runner, metrics observer.MetricsRecorder, cfg Config) (*Judge, error) {
	if resolver == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	cfg.ApplyDefaults()
	return &Judge{
		resolver: resolver,
		runner:   runner,
		metrics:  metrics,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.WorkerPoolSize),
	}, nil
}

// RunTests judges code against the visible cases the caller selected.
func (j *Judge) RunTests(ctx context.Context, language, code string, cases []TestCase) (*Result, error) {
	return j.judge(ctx, language, code, cases)
}

// Submit judges code against the full case set. The algorithm is the same as RunTests.
func (j *Judge) Submit(ctx context.Context, language, code string, cases []TestCase) (*Result, error) {
	return j.judge(ctx, language, code, cases)
}

func (j *Judge) judge(ctx context.Context, language, code string, cases []TestCase) (*Result, error) {
	if len(cases) == 0 {
		return nil, appErr.New(appErr.TestCaseNotFound).WithMessage("no test cases to run")
	}
	recipe, err := j.resolver.Resolve(ctx, language)
	if err != nil {
		return nil, err
	}
	ws, err := j.runner.Prepare(recipe, code)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := j.runner.Cleanup(ws); err != nil {
			logger.Warn(ctx, "workspace cleanup failed", zap.String("dir", ws.Dir), zap.Error(err))
		}
	}()

	start := time.Now()
	out := &Result{Language: recipe.ID, Cases: make([]CaseResult, len(cases))}

	compileMsg, err := j.compile(ctx, ws)
	if err != nil {
		return nil, err
	}
	if compileMsg != "" {
		out.CompileError = compileMsg
		for i, tc := range cases {
			out.Cases[i] = CaseResult{ID: tc.ID, Error: compileMsg, Verdict: result.VerdictCE}
		}
		out.summarize()
		j.logResult(ctx, out, time.Since(start))
		return out, nil
	}

	timeoutMs := recipe.RunTimeoutMs
	if j.cfg.CaseTimeout > 0 {
		timeoutMs = j.cfg.CaseTimeout.Milliseconds()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.MaxCasesInFlight)
	for i, tc := range cases {
		i, tc := i, tc
		g.Go(func() error {
			res, err := j.runCase(gctx, ws, i, recipe, tc, timeoutMs)
			if err != nil {
				return err
			}
			out.Cases[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.summarize()
	j.logResult(ctx, out, time.Since(start))
	return out, nil
}

// compile returns the user-facing compiler message when compilation fails, or an error for system faults.
func (j *Judge) compile(ctx context.Context, ws *engine.Workspace) (string, error) {
	if !ws.Recipe.HasCompileStep() {
		return "", nil
	}
	if err := j.acquireSlot(ctx); err != nil {
		return "", err
	}
	defer j.releaseSlot()

	res, err := j.runner.Compile(ctx, ws)
	j.metrics.ObserveCompile(ctx, ws.Recipe.ID, err == nil, res.TimeMs)
	if err == nil {
		return "", nil
	}
	if appErr.Is(err, appErr.CompilationError) {
		return err.Error(), nil
	}
	return "", err
}

// runCase runs one case in its own copy of the workspace so cases never share files.
func (j *Judge) runCase(ctx context.Context, ws *engine.Workspace, index int, recipe profile.LanguageRecipe, tc TestCase, timeoutMs int64) (CaseResult, error) {
	if err := j.acquireSlot(ctx); err != nil {
		return CaseResult{}, err
	}
	defer j.releaseSlot()

	res := CaseResult{ID: tc.ID}
	caseWS, err := j.runner.Fork(ws, fmt.Sprintf("case-%d", index+1))
	if err != nil {
		logger.Error(ctx, "prepare case directory failed", zap.String("case_id", tc.ID), zap.Error(err))
		res.Verdict = result.VerdictSE
		res.Error = err.Error()
		return res, nil
	}
	proc, err := j.runner.Spawn(ctx, caseWS, engine.SpawnOptions{TimeoutMs: timeoutMs})
	if err != nil {
		if ctx.Err() != nil {
			return CaseResult{}, ctx.Err()
		}
		res.Verdict = result.VerdictSE
		res.Error = err.Error()
		return res, nil
	}

	// The runner caps total output; stdout is kept whole for comparison.
	stdout := newCappedBuilder(0)
	stderr := newCappedBuilder(j.cfg.CaseOutputLimit)
	var collected sync.WaitGroup
	collected.Add(1)
	go func() {
		defer collected.Done()
		for chunk := range proc.Chunks() {
			if chunk.Stream == engine.Stderr {
				stderr.Write(chunk.Data)
			} else {
				stdout.Write(chunk.Data)
			}
		}
	}()

	input := tc.Input
	if input != "" && !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	if err := proc.Write([]byte(input)); err != nil {
		logger.Warn(ctx, "write case input failed", zap.String("case_id", tc.ID), zap.Error(err))
	}
	if err := proc.CloseStdin(); err != nil {
		logger.Warn(ctx, "close case stdin failed", zap.String("case_id", tc.ID), zap.Error(err))
	}
	collected.Wait()
	status := proc.Wait()
	if ctx.Err() != nil {
		return CaseResult{}, ctx.Err()
	}

	actual := stdout.String()
	res.Output = truncate(actual, j.cfg.CaseOutputLimit)
	res.TimeMs = status.WallTimeMs
	res.MemoryKB = status.MemoryKB
	res.Verdict = result.RunVerdict(status)
	switch res.Verdict {
	case result.VerdictAC:
		if !OutputMatches(actual, tc.Expected) {
			res.Verdict = result.VerdictWA
		}
	case result.VerdictTLE:
		res.Error = fmt.Sprintf("Time limit exceeded (%dms)", timeoutMs)
	case result.VerdictMLE:
		res.Error = "Memory limit exceeded"
	case result.VerdictOLE:
		res.Error = "Output limit exceeded"
	case result.VerdictSE:
		res.Error = "Execution failed: " + status.Err.Error()
	default:
		res.Error = strings.TrimRight(stderr.String(), "\n")
		if res.Error == "" {
			res.Error = exitMessage(status)
		}
	}
	res.Passed = res.Verdict == result.VerdictAC
	j.metrics.ObserveRun(ctx, recipe.ID, string(res.Verdict), res.TimeMs, res.MemoryKB)
	return res, nil
}

func (j *Judge) acquireSlot(ctx context.Context) error {
	select {
	case j.sem <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(j.cfg.QueueWait)
	defer timer.Stop()
	select {
	case j.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge worker pool is full")
	}
}

func (j *Judge) releaseSlot() {
	select {
	case <-j.sem:
	default:
	}
}

// InFlight reports how many slots are taken.
func (j *Judge) InFlight() int {
	return len(j.sem)
}

func (j *Judge) logResult(ctx context.Context, res *Result, elapsed time.Duration) {
	logger.Info(ctx, "judge finished",
		zap.String("language", res.Language),
		zap.Bool("passed", res.Passed),
		zap.Int("passed_count", res.PassedCount),
		zap.Int("failed_count", res.FailedCount),
		zap.Bool("compile_error", res.CompileError != ""),
		zap.Duration("elapsed", elapsed),
	)
}

func exitMessage(status result.ExitStatus) string {
	if status.Signal != "" {
		return fmt.Sprintf("Process terminated by signal: %s", status.Signal)
	}
	return fmt.Sprintf("Process exited with code %d", status.ExitCode)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}

// cappedBuilder keeps at most limit bytes; zero means no cap.
type cappedBuilder struct {
	b     strings.Builder
	limit int
}

func newCappedBuilder(limit int) *cappedBuilder {
	return &cappedBuilder{limit: limit}
}

func (c *cappedBuilder) Write(p []byte) {
	if c.limit <= 0 {
		c.b.Write(p)
		return
	}
	room := c.limit - c.b.Len()
	if room <= 0 {
		return
	}
	if len(p) > room {
		p = p[:room]
	}
	c.b.Write(p)
}

func (c *cappedBuilder) String() string {
	return c.b.String()
}
