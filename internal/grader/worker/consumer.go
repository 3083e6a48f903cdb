// Package worker grades submissions delivered through the message queue.
package worker

import (
	"context"
	"encoding/json"

	"academyjudge/internal/common/mq"
	"academyjudge/internal/grader/evaluator"
	"academyjudge/internal/grader/service"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/contextkey"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultRequestTopic = "grader.grade.requests"
	defaultPoolSize     = 4
	defaultMaxRetries   = 3
)

// GradeRequest is the message body on the request topic.
type GradeRequest struct {
	RequestID  string `json:"requestId"`
	QuestionID int64  `json:"questionId"`
	Code       string `json:"code"`
	Language   string `json:"language"`
}

// Grader grades one submission.
type Grader interface {
	GradeSubmission(ctx context.Context, in service.SubmitInput, opts ...evaluator.Option) (service.GradeOutput, error)
}

// Options controls the consumer subscription.
type Options struct {
	Topic           string
	ConsumerGroup   string
	PoolSize        int
	MaxRetries      int
	DeadLetterTopic string
}

// Consumer subscribes to grade requests and grades them.
type Consumer struct {
	queue   mq.Consumer
	grader  Grader
	opts    Options
	limiter *mq.TokenLimiter
}

func NewConsumer(queue mq.Consumer, grader Grader, opts Options) *Consumer {
	if opts.Topic == "" {
		opts.Topic = DefaultRequestTopic
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Consumer{
		queue:   queue,
		grader:  grader,
		opts:    opts,
		limiter: mq.NewTokenLimiter(opts.PoolSize),
	}
}

// Subscribe registers the handler; the caller starts the queue.
func (c *Consumer) Subscribe(ctx context.Context) error {
	if c.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("message queue is not configured")
	}
	return c.queue.Subscribe(ctx, c.opts.Topic, c.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   c.opts.ConsumerGroup,
		Concurrency:     c.opts.PoolSize,
		MaxRetries:      c.opts.MaxRetries,
		DeadLetterTopic: c.opts.DeadLetterTopic,
		Limiter:         c.limiter,
	})
}

// HandleMessage grades one request. Only transient failures are returned for retry.
func (c *Consumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var req GradeRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		logger.Warn(ctx, "drop malformed grade request", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	if req.RequestID != "" {
		ctx = context.WithValue(ctx, contextkey.RequestID, req.RequestID)
	}
	if traceID, ok := msg.GetHeader("trace_id"); ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}

	out, err := c.grader.GradeSubmission(ctx, service.SubmitInput{
		QuestionID: req.QuestionID,
		Code:       req.Code,
		Language:   req.Language,
	})
	if err != nil {
		if permanent(err) {
			logger.Warn(ctx, "drop grade request", zap.Int64("question_id", req.QuestionID), zap.Error(err))
			return nil
		}
		logger.Error(ctx, "grade request failed", zap.Int64("question_id", req.QuestionID), zap.Error(err))
		return err
	}
	logger.Info(ctx, "grade request processed",
		zap.Int64("question_id", req.QuestionID),
		zap.Int("marks", out.Score.Marks),
		zap.Int("max_marks", out.Score.MaxMarks),
	)
	return nil
}

func permanent(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.LanguageNotSupported, appErr.QuestionNotFound, appErr.ValidationFailed, appErr.InvalidParams:
		return true
	}
	return false
}

var _ Grader = (*service.GraderService)(nil)
