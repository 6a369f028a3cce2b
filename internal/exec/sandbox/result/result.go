// Package result defines sandbox execution results and verdict mapping.
package result

// Verdict represents the outcome of one judged run.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictOLE Verdict = "OLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictSE  Verdict = "SE"
)

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	Skipped  bool
	ExitCode int
	TimedOut bool
	TimeMs   int64
	Output   string
}

// ExitStatus describes how a spawned process terminated.
type ExitStatus struct {
	ExitCode int
	Signal   string

	TimedOut            bool
	Killed              bool
	OutputLimitExceeded bool
	MemoryLimitExceeded bool

	WallTimeMs int64
	CPUTimeMs  int64
	MemoryKB   int64

	// Err is set when the process could not be waited on.
	Err error
}

// Success reports a clean zero exit that was not forced by the runner.
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.ExitCode == 0 && !s.TimedOut && !s.Killed &&
		!s.OutputLimitExceeded && !s.MemoryLimitExceeded
}

// RunVerdict maps a finished run to a verdict, before output comparison.
// A clean exit maps to AC and must still be checked against the expected output.
func RunVerdict(s ExitStatus) Verdict {
	switch {
	case s.Err != nil:
		return VerdictSE
	case s.TimedOut:
		return VerdictTLE
	case s.MemoryLimitExceeded:
		return VerdictMLE
	case s.OutputLimitExceeded:
		return VerdictOLE
	case s.ExitCode != 0 || s.Signal != "":
		return VerdictRE
	default:
		return VerdictAC
	}
}
