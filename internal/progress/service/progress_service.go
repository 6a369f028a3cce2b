// Package service applies progress transitions on behalf of the HTTP layer and the judge.
package service

import (
	"context"
	"strings"
	"time"

	"judgebox/internal/progress/model"
	"judgebox/internal/progress/repository"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

// View is the progress response, with the live elapsed time folded in.
type View struct {
	*model.Progress
	ElapsedMs int64           `json:"elapsedMs"`
	History   []model.Attempt `json:"history"`
}

type ProgressService struct {
	repo repository.ProgressRepository
	now  func() time.Time
}

func NewProgressService(repo repository.ProgressRepository) *ProgressService {
	return &ProgressService{repo: repo, now: time.Now}
}

func (s *ProgressService) Get(ctx context.Context, userID, problemID string) (*View, error) {
	if err := validateKey(userID, problemID); err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, userID, problemID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListAttempts(ctx, userID, problemID)
	if err != nil {
		return nil, err
	}
	return s.view(p, history), nil
}

// List returns every problem the user has touched, without history.
func (s *ProgressService) List(ctx context.Context, userID string) ([]*View, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErr.New(appErr.Unauthorized)
	}
	ids, err := s.repo.ListProblems(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(ids))
	for _, id := range ids {
		p, err := s.repo.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		views = append(views, s.view(p, nil))
	}
	return views, nil
}

func (s *ProgressService) Start(ctx context.Context, userID, problemID string) (*View, error) {
	return s.apply(ctx, userID, problemID, "start", (*model.Progress).Start)
}

func (s *ProgressService) Pause(ctx context.Context, userID, problemID string) (*View, error) {
	return s.apply(ctx, userID, problemID, "pause", (*model.Progress).Pause)
}

func (s *ProgressService) Resume(ctx context.Context, userID, problemID string) (*View, error) {
	return s.apply(ctx, userID, problemID, "resume", (*model.Progress).Resume)
}

// RecordSubmission stores the attempt and marks the problem solved when every case passed.
func (s *ProgressService) RecordSubmission(ctx context.Context, userID, problemID string, attempt model.Attempt) (*model.Progress, error) {
	if err := validateKey(userID, problemID); err != nil {
		return nil, err
	}
	now := s.now()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	p, err := s.repo.Update(ctx, userID, problemID, func(p *model.Progress) error {
		p.RecordAttempt(now)
		if attempt.AllPassed {
			p.MarkSolved(now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendAttempt(ctx, userID, problemID, attempt); err != nil {
		logger.Warn(ctx, "append attempt failed", zap.String("problem_id", problemID), zap.Error(err))
	}
	if attempt.AllPassed {
		logger.Info(ctx, "problem solved", zap.String("problem_id", problemID), zap.Int("attempts", p.Attempts))
	}
	return p, nil
}

func (s *ProgressService) apply(ctx context.Context, userID, problemID, action string, fn func(*model.Progress, time.Time) error) (*View, error) {
	if err := validateKey(userID, problemID); err != nil {
		return nil, err
	}
	now := s.now()
	p, err := s.repo.Update(ctx, userID, problemID, func(p *model.Progress) error {
		return fn(p, now)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "progress updated", zap.String("problem_id", problemID), zap.String("action", action), zap.String("status", string(p.Status)))
	return s.view(p, nil), nil
}

func (s *ProgressService) view(p *model.Progress, history []model.Attempt) *View {
	if history == nil {
		history = []model.Attempt{}
	}
	return &View{Progress: p, ElapsedMs: p.Timer.Elapsed(s.now()), History: history}
}

func validateKey(userID, problemID string) error {
	if strings.TrimSpace(userID) == "" {
		return appErr.New(appErr.Unauthorized)
	}
	if strings.TrimSpace(problemID) == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	return nil
}
