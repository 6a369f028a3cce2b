// Package model holds the per-user problem progress state machine.
package model

import (
	"time"

	appErr "judgebox/pkg/errors"
)

// Status is the progress state of one user on one problem.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSolved     Status = "solved"
)

// Timer accumulates solving time. SessionStartedAt is nil while paused.
type Timer struct {
	ElapsedMs        int64      `json:"elapsedMs"`
	SessionStartedAt *time.Time `json:"sessionStartedAt,omitempty"`
}

// Running reports whether a timing session is open.
func (t Timer) Running() bool {
	return t.SessionStartedAt != nil
}

// Elapsed returns accumulated time including the open session.
func (t Timer) Elapsed(now time.Time) int64 {
	total := t.ElapsedMs
	if t.SessionStartedAt != nil {
		if d := now.Sub(*t.SessionStartedAt).Milliseconds(); d > 0 {
			total += d
		}
	}
	return total
}

func (t *Timer) open(now time.Time) {
	started := now
	t.SessionStartedAt = &started
}

func (t *Timer) close(now time.Time) {
	t.ElapsedMs = t.Elapsed(now)
	t.SessionStartedAt = nil
}

// Attempt is one judged submission.
type Attempt struct {
	Language        string    `json:"language"`
	AllPassed       bool      `json:"allPassed"`
	PassedCount     int       `json:"passedCount"`
	FailedCount     int       `json:"failedCount"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	MemoryKB        int64     `json:"memoryKB"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Progress is keyed by (UserID, ProblemID).
type Progress struct {
	UserID    string     `json:"userId"`
	ProblemID string     `json:"problemId"`
	Status    Status     `json:"status"`
	Timer     Timer      `json:"timer"`
	Attempts  int        `json:"attempts"`
	SolvedAt  *time.Time `json:"solvedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// New returns a NotStarted progress record.
func New(userID, problemID string) *Progress {
	return &Progress{UserID: userID, ProblemID: problemID, Status: StatusNotStarted}
}

// Start moves NotStarted to InProgress and opens the timer.
func (p *Progress) Start(now time.Time) error {
	if p.Status != StatusNotStarted {
		return invalidTransition(p.Status, "start")
	}
	p.Status = StatusInProgress
	p.Timer.open(now)
	p.UpdatedAt = now
	return nil
}

// Pause closes the running timer session.
func (p *Progress) Pause(now time.Time) error {
	if p.Status != StatusInProgress || !p.Timer.Running() {
		return invalidTransition(p.Status, "pause")
	}
	p.Timer.close(now)
	p.UpdatedAt = now
	return nil
}

// Resume reopens a paused timer.
func (p *Progress) Resume(now time.Time) error {
	if p.Status != StatusInProgress || p.Timer.Running() {
		return invalidTransition(p.Status, "resume")
	}
	p.Timer.open(now)
	p.UpdatedAt = now
	return nil
}

// MarkSolved is idempotent; the first call freezes the timer.
func (p *Progress) MarkSolved(now time.Time) {
	if p.Status == StatusSolved {
		return
	}
	p.Timer.close(now)
	p.Status = StatusSolved
	solved := now
	p.SolvedAt = &solved
	p.UpdatedAt = now
}

// RecordAttempt counts a submission; a first submission also starts the problem.
func (p *Progress) RecordAttempt(now time.Time) {
	p.Attempts++
	if p.Status == StatusNotStarted {
		p.Status = StatusInProgress
		p.Timer.open(now)
	}
	p.UpdatedAt = now
}

func invalidTransition(from Status, action string) error {
	return appErr.Newf(appErr.InvalidProgressTransition, "cannot %s progress in state %s", action, from)
}
