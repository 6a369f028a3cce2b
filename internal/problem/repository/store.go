package repository

import (
	"context"
	"errors"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"judgebox/internal/problem/model"
	appErr "judgebox/pkg/errors"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemStore resolves problems and their test cases.
type ProblemStore interface {
	GetProblem(ctx context.Context, problemID string) (*model.Problem, error)
	GetTestCases(ctx context.Context, problemID string) ([]model.TestCase, error)
}

// validateCases rejects empty or duplicate case ids.
func validateCases(problemID string, cases []model.TestCase) error {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(cases))
	for _, tc := range cases {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			return appErr.Newf(appErr.TestCaseInvalid, "problem %s has a test case without id", problemID)
		}
		if !seen.Add(id) {
			return appErr.Newf(appErr.TestCaseInvalid, "problem %s has duplicate test case %s", problemID, id)
		}
	}
	return nil
}
