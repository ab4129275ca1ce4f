package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"runbox/internal/common/mq"
	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox/result"
	appErr "runbox/pkg/errors"
)

// SessionEventPublisher publishes session events for downstream consumers.
type SessionEventPublisher interface {
	PublishFinal(ctx context.Context, report result.Report) error
}

// MQSessionEventPublisher publishes session events to a message queue.
type MQSessionEventPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQSessionEventPublisher creates a new MQ session event publisher.
func NewMQSessionEventPublisher(queue mq.MessageQueue, topic string) *MQSessionEventPublisher {
	return &MQSessionEventPublisher{queue: queue, topic: topic}
}

// PublishFinal publishes the final report of a session.
func (p *MQSessionEventPublisher) PublishFinal(ctx context.Context, report result.Report) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if report.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	payload, err := json.Marshal(model.SessionEvent{
		Type:      model.SessionEventFinal,
		Report:    report,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal session event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = report.SessionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish session event failed")
	}
	return nil
}
