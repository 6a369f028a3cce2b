package controller

import (
	"context"
	"strings"

	"judgebox/internal/common/http/middleware"
	"judgebox/internal/exec/judge"
	"judgebox/internal/exec/repository"
	progressmodel "judgebox/internal/progress/model"
	"judgebox/pkg/utils/logger"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Judger runs code against a case set.
type Judger interface {
	RunTests(ctx context.Context, language, code string, cases []judge.TestCase) (*judge.Result, error)
	Submit(ctx context.Context, language, code string, cases []judge.TestCase) (*judge.Result, error)
}

// CaseSource resolves the cases of a problem.
type CaseSource interface {
	VisibleCases(ctx context.Context, problemID string) ([]judge.TestCase, error)
	AllCases(ctx context.Context, problemID string) ([]judge.TestCase, error)
}

// ProgressRecorder stores submit outcomes against the user's progress.
type ProgressRecorder interface {
	RecordSubmission(ctx context.Context, userID, problemID string, attempt progressmodel.Attempt) (*progressmodel.Progress, error)
}

// JudgeController handles run-tests and submit requests.
type JudgeController struct {
	judger    Judger
	cases     CaseSource
	progress  ProgressRecorder
	publisher repository.ResultPublisher
}

// NewJudgeController creates a new controller. progress and publisher may be nil.
func NewJudgeController(judger Judger, cases CaseSource, progress ProgressRecorder, publisher repository.ResultPublisher) *JudgeController {
	if publisher == nil {
		publisher = repository.NoopResultPublisher{}
	}
	return &JudgeController{
		judger:    judger,
		cases:     cases,
		progress:  progress,
		publisher: publisher,
	}
}

// Register mounts the judge routes.
func (h *JudgeController) Register(group gin.IRoutes) {
	group.POST("/problems/:id/run-tests", h.RunTests)
	group.POST("/problems/:id/submit", h.Submit)
}

// RunTests judges code against the problem's sample cases.
func (h *JudgeController) RunTests(c *gin.Context) {
	problemID, req, ok := bindJudgeRequest(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cases, err := h.cases.VisibleCases(ctx, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.judger.RunTests(ctx, req.Language, req.Code, cases)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RunTestsResponse{
		TestResults:  toTestResults(res.Cases),
		AllPassed:    res.Passed,
		PassedCount:  res.PassedCount,
		FailedCount:  res.FailedCount,
		CompileError: res.CompileError,
	})
}

// Submit judges code against every case, then records progress and publishes the result.
func (h *JudgeController) Submit(c *gin.Context) {
	problemID, req, ok := bindJudgeRequest(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cases, err := h.cases.AllCases(ctx, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.judger.Submit(ctx, req.Language, req.Code, cases)
	if err != nil {
		response.Error(c, err)
		return
	}

	userID := middleware.UserID(c)
	if h.progress != nil && userID != "" && userID != middleware.AnonymousUser {
		_, err := h.progress.RecordSubmission(ctx, userID, problemID, progressmodel.Attempt{
			Language:        res.Language,
			AllPassed:       res.Passed,
			PassedCount:     res.PassedCount,
			FailedCount:     res.FailedCount,
			ExecutionTimeMs: res.ExecutionTimeMs,
			MemoryKB:        res.MemoryKB,
		})
		if err != nil {
			logger.Warn(ctx, "record progress failed", zap.String("problem_id", problemID), zap.Error(err))
		}
	}
	event := repository.JudgeResultEvent{
		UserID:          userID,
		ProblemID:       problemID,
		Language:        res.Language,
		AllPassed:       res.Passed,
		PassedCount:     res.PassedCount,
		FailedCount:     res.FailedCount,
		ExecutionTimeMs: res.ExecutionTimeMs,
		MemoryKB:        res.MemoryKB,
	}
	if err := h.publisher.PublishResult(ctx, event); err != nil {
		logger.Warn(ctx, "publish judge result failed", zap.String("problem_id", problemID), zap.Error(err))
	}

	response.Success(c, SubmitResponse{
		AllPassed:     res.Passed,
		PassedCount:   res.PassedCount,
		FailedCount:   res.FailedCount,
		TestResults:   toTestResults(res.Cases),
		ExecutionTime: res.ExecutionTimeMs,
		MemoryUsed:    res.MemoryKB,
		CompileError:  res.CompileError,
	})
}

func bindJudgeRequest(c *gin.Context) (string, JudgeRequest, bool) {
	problemID := strings.TrimSpace(c.Param("id"))
	if problemID == "" {
		response.BadRequest(c, "Invalid problem id")
		return "", JudgeRequest{}, false
	}
	var req JudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return "", JudgeRequest{}, false
	}
	return problemID, req, true
}

func toTestResults(cases []judge.CaseResult) []TestResult {
	out := make([]TestResult, len(cases))
	for i, cr := range cases {
		out[i] = TestResult{
			Passed:  cr.Passed,
			Output:  cr.Output,
			Error:   cr.Error,
			Verdict: string(cr.Verdict),
		}
	}
	return out
}

// JudgeRequest is the payload of run-tests and submit.
type JudgeRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

// TestResult is one case in a judge response.
type TestResult struct {
	Passed  bool   `json:"passed"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Verdict string `json:"verdict,omitempty"`
}

// RunTestsResponse defines the run-tests response payload.
type RunTestsResponse struct {
	TestResults  []TestResult `json:"testResults"`
	AllPassed    bool         `json:"allPassed"`
	PassedCount  int          `json:"passedCount"`
	FailedCount  int          `json:"failedCount"`
	CompileError string       `json:"compileError,omitempty"`
}

// SubmitResponse defines the submit response payload. ExecutionTime is in ms, MemoryUsed in KB.
type SubmitResponse struct {
	AllPassed     bool         `json:"allPassed"`
	PassedCount   int          `json:"passedCount"`
	FailedCount   int          `json:"failedCount"`
	TestResults   []TestResult `json:"testResults"`
	ExecutionTime int64        `json:"executionTime"`
	MemoryUsed    int64        `json:"memoryUsed"`
	CompileError  string       `json:"compileError,omitempty"`
}
