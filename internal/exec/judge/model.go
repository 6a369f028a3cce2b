package judge

import "judgebox/internal/exec/sandbox/result"

// TestCase is one input/expected pair from the problem store.
type TestCase struct {
	ID       string `json:"id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	// Visible cases are used by run-tests; submit uses every case.
	Visible bool `json:"visible"`
}

// CaseResult is the verdict of one test case.
type CaseResult struct {
	ID       string         `json:"id"`
	Passed   bool           `json:"passed"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
	Verdict  result.Verdict `json:"verdict"`
	TimeMs   int64          `json:"timeMs"`
	MemoryKB int64          `json:"memoryKB"`
}

// Result is the outcome of judging one program against a case set.
type Result struct {
	Language        string       `json:"language"`
	Passed          bool         `json:"passed"`
	PassedCount     int          `json:"passedCount"`
	FailedCount     int          `json:"failedCount"`
	Cases           []CaseResult `json:"cases"`
	ExecutionTimeMs int64        `json:"executionTimeMs"`
	MemoryKB        int64        `json:"memoryKB"`
	CompileError    string       `json:"compileError,omitempty"`
}

func (r *Result) summarize() {
	r.PassedCount, r.FailedCount = 0, 0
	for _, c := range r.Cases {
		if c.Passed {
			r.PassedCount++
		} else {
			r.FailedCount++
		}
		if c.TimeMs > r.ExecutionTimeMs {
			r.ExecutionTimeMs = c.TimeMs
		}
		if c.MemoryKB > r.MemoryKB {
			r.MemoryKB = c.MemoryKB
		}
	}
	r.Passed = len(r.Cases) > 0 && r.FailedCount == 0
}
