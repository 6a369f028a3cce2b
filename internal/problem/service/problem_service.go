// Package service resolves the case set a judge request runs against.
package service

import (
	"context"
	"errors"

	"judgebox/internal/problem/model"
	"judgebox/internal/problem/repository"
	appErr "judgebox/pkg/errors"
)

// ProblemService resolves problems and filters their cases.
type ProblemService struct {
	store repository.ProblemStore
}

// NewProblemService creates a new ProblemService.
func NewProblemService(store repository.ProblemStore) *ProblemService {
	return &ProblemService{store: store}
}

// GetProblem returns problem metadata.
func (s *ProblemService) GetProblem(ctx context.Context, problemID string) (*model.Problem, error) {
	if problemID == "" {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	p, err := s.store.GetProblem(ctx, problemID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return p, nil
}

// VisibleCases returns the sample cases used by run-tests.
func (s *ProblemService) VisibleCases(ctx context.Context, problemID string) ([]model.TestCase, error) {
	cases, err := s.AllCases(ctx, problemID)
	if err != nil {
		return nil, err
	}
	visible := make([]model.TestCase, 0, len(cases))
	for _, tc := range cases {
		if tc.Visible {
			visible = append(visible, tc)
		}
	}
	if len(visible) == 0 {
		return nil, appErr.Newf(appErr.TestCaseNotFound, "problem %s has no sample cases", problemID)
	}
	return visible, nil
}

// AllCases returns the full case set used by submit.
func (s *ProblemService) AllCases(ctx context.Context, problemID string) ([]model.TestCase, error) {
	if problemID == "" {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	cases, err := s.store.GetTestCases(ctx, problemID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if len(cases) == 0 {
		return nil, appErr.Newf(appErr.TestCaseNotFound, "problem %s has no test cases", problemID)
	}
	return cases, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, repository.ErrProblemNotFound) {
		return appErr.New(appErr.ProblemNotFound)
	}
	var typed *appErr.Error
	if errors.As(err, &typed) {
		return err
	}
	return appErr.Wrap(err, appErr.DatabaseError)
}
