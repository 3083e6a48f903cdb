// Package event publishes grading results to the message queue.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"academyjudge/internal/common/mq"
	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
)

// DefaultGradeCompletedTopic receives one event per graded submission.
const DefaultGradeCompletedTopic = "grader.grade.completed"

// GradeCompletedEvent describes one graded submission.
type GradeCompletedEvent struct {
	RequestID  string `json:"requestId,omitempty"`
	QuestionID int64  `json:"questionId"`
	Language   string `json:"language"`
	Score      int    `json:"score"`
	MaxMarks   int    `json:"maxMarks"`
	AllPassed  bool   `json:"allPassed"`
	Passed     int    `json:"passed"`
	Total      int    `json:"total"`
	CreatedAt  int64  `json:"createdAt"`
}

// NewGradeCompletedEvent builds the event for a score.
func NewGradeCompletedEvent(requestID, language string, score model.Score, outcome model.GradeOutcome) GradeCompletedEvent {
	return GradeCompletedEvent{
		RequestID:  requestID,
		QuestionID: score.QuestionID,
		Language:   language,
		Score:      score.Marks,
		MaxMarks:   score.MaxMarks,
		AllPassed:  outcome.AllPassed,
		Passed:     score.Passed,
		Total:      score.Total,
		CreatedAt:  time.Now().Unix(),
	}
}

// Publisher publishes grade events.
type Publisher interface {
	PublishGradeCompleted(ctx context.Context, event GradeCompletedEvent) error
}

// MQPublisher publishes grade events to a message queue.
type MQPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQPublisher creates a publisher; an empty topic uses DefaultGradeCompletedTopic.
func NewMQPublisher(producer mq.Producer, topic string) *MQPublisher {
	if topic == "" {
		topic = DefaultGradeCompletedTopic
	}
	return &MQPublisher{producer: producer, topic: topic}
}

func (p *MQPublisher) PublishGradeCompleted(ctx context.Context, event GradeCompletedEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("grade publisher is not configured")
	}
	if event.QuestionID <= 0 {
		return appErr.ValidationError("questionId", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal grade event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = fmt.Sprintf("%d", event.QuestionID)
	if event.RequestID != "" {
		message.SetHeader("request_id", event.RequestID)
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.MessagePublishFailed, "publish grade event failed")
	}
	return nil
}

// NoopPublisher drops events.
type NoopPublisher struct{}

func (NoopPublisher) PublishGradeCompleted(context.Context, GradeCompletedEvent) error { return nil }
