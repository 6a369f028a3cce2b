package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgebox/internal/common/mq"
	appErr "judgebox/pkg/errors"

	"github.com/google/uuid"
)

// JudgeEventFinal is the event type of a finished submission.
const JudgeEventFinal = "judge.final"

// JudgeResultEvent is published once per submit.
type JudgeResultEvent struct {
	Type            string `json:"type"`
	UserID          string `json:"userID"`
	ProblemID       string `json:"problemID"`
	Language        string `json:"language"`
	AllPassed       bool   `json:"allPassed"`
	PassedCount     int    `json:"passedCount"`
	FailedCount     int    `json:"failedCount"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	MemoryKB        int64  `json:"memoryKB"`
	CreatedAt       int64  `json:"createdAt"`
}

// ResultPublisher publishes judge results for downstream consumers.
type ResultPublisher interface {
	PublishResult(ctx context.Context, event JudgeResultEvent) error
}

// MQResultPublisher publishes judge results to a message queue.
type MQResultPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQResultPublisher creates a new MQ result publisher.
func NewMQResultPublisher(queue mq.MessageQueue, topic string) *MQResultPublisher {
	return &MQResultPublisher{queue: queue, topic: topic}
}

// PublishResult publishes a final result event keyed by user and problem.
func (p *MQResultPublisher) PublishResult(ctx context.Context, event JudgeResultEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("result topic is required")
	}
	if event.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	event.Type = JudgeEventFinal
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = uuid.NewString()
	message.SetHeader("event_type", JudgeEventFinal)
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish result event failed: %v", err)
	}
	return nil
}

// NoopResultPublisher drops events when no broker is configured.
type NoopResultPublisher struct{}

func (NoopResultPublisher) PublishResult(context.Context, JudgeResultEvent) error { return nil }
