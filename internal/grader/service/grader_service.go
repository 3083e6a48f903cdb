// Package service exposes the code execution and grading operations.
package service

import (
	"context"
	"fmt"
	"time"

	"academyjudge/internal/grader/archive"
	"academyjudge/internal/grader/evaluator"
	"academyjudge/internal/grader/event"
	"academyjudge/internal/grader/grading"
	"academyjudge/internal/grader/model"
	"academyjudge/internal/grader/observer"
	"academyjudge/internal/grader/repository"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/contextkey"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultEventTimeout   = 3 * time.Second
	defaultArchiveTimeout = 10 * time.Second
)

// Executor runs code in an isolated workspace.
type Executor interface {
	Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
	Supports(language string) bool
	Languages() []string
}

// Archive stores graded submissions.
type Archive interface {
	Store(ctx context.Context, rec archive.Record) (string, error)
}

// TimeoutConfig bounds the best-effort side effects of grading.
type TimeoutConfig struct {
	Event   time.Duration
	Archive time.Duration
}

// Config holds grader service dependencies and settings.
type Config struct {
	Executor  Executor
	TestCases repository.TestCaseRepository
	Questions repository.QuestionRepository
	Publisher event.Publisher
	// Archive is optional.
	Archive     Archive
	Metrics     observer.MetricsRecorder
	Parallelism int
	Timeouts    TimeoutConfig
}

// RunInput is a single transient execution.
type RunInput struct {
	Code     string  `json:"code"`
	Language string  `json:"language"`
	Input    *string `json:"input,omitempty"`
}

// RunOutput carries Output on success and Error otherwise.
type RunOutput struct {
	Success bool    `json:"success"`
	Output  *string `json:"output,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// SubmitInput is a solution to grade against a question's test cases.
type SubmitInput struct {
	QuestionID int64  `json:"questionId"`
	Code       string `json:"code"`
	Language   string `json:"language"`
}

// SubmitOutput is the per-test-case outcome of a submission.
type SubmitOutput struct {
	AllPassed bool                   `json:"allPassed"`
	Results   []model.TestCaseResult `json:"results"`
	Error     *string                `json:"error,omitempty"`
}

// GradeOutput adds the awarded score to a submission outcome.
type GradeOutput struct {
	Score   model.Score  `json:"score"`
	Outcome SubmitOutput `json:"outcome"`
}

// GraderService runs and grades student code.
type GraderService struct {
	executor  Executor
	evaluator *evaluator.Evaluator
	questions repository.QuestionRepository
	publisher event.Publisher
	archive   Archive
	metrics   observer.MetricsRecorder
	timeouts  TimeoutConfig
}

func NewGraderService(cfg Config) *GraderService {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	timeouts := cfg.Timeouts
	if timeouts.Event <= 0 {
		timeouts.Event = defaultEventTimeout
	}
	if timeouts.Archive <= 0 {
		timeouts.Archive = defaultArchiveTimeout
	}
	return &GraderService{
		executor:  cfg.Executor,
		evaluator: evaluator.New(cfg.TestCases, cfg.Executor, evaluator.Config{Parallelism: cfg.Parallelism}),
		questions: cfg.Questions,
		publisher: publisher,
		archive:   cfg.Archive,
		metrics:   metrics,
		timeouts:  timeouts,
	}
}

// Languages lists the language ids accepted by RunCode and SubmitSolution.
func (s *GraderService) Languages() []string {
	return s.executor.Languages()
}

// Supports reports whether language is accepted.
func (s *GraderService) Supports(language string) bool {
	return s.executor.Supports(language)
}

// RunCode executes code once. Failures are reported in the output, never as an error.
func (s *GraderService) RunCode(ctx context.Context, in RunInput) RunOutput {
	res := s.executor.Run(ctx, model.ExecutionRequest{
		SourceCode: in.Code,
		Language:   in.Language,
		Stdin:      in.Input,
	})
	if res.Succeeded {
		out := res.Stdout
		return RunOutput{Success: true, Output: &out}
	}
	msg := res.ErrorMessage
	return RunOutput{Success: false, Error: &msg}
}

// SubmitSolution runs code against every test case of the question.
func (s *GraderService) SubmitSolution(ctx context.Context, in SubmitInput, opts ...evaluator.Option) (SubmitOutput, error) {
	outcome, err := s.evaluate(ctx, in, opts...)
	if err != nil {
		return SubmitOutput{}, err
	}
	return toSubmitOutput(outcome), nil
}

// GradeSubmission evaluates, scores, announces and archives a submission.
func (s *GraderService) GradeSubmission(ctx context.Context, in SubmitInput, opts ...evaluator.Option) (GradeOutput, error) {
	if err := s.validate(in); err != nil {
		return GradeOutput{}, err
	}
	if s.questions == nil {
		return GradeOutput{}, appErr.New(appErr.ServiceUnavailable).WithMessage("question repository is not configured")
	}
	question, err := s.questions.GetByID(ctx, in.QuestionID)
	if err != nil {
		return GradeOutput{}, err
	}
	outcome, err := s.evaluate(ctx, in, opts...)
	if err != nil {
		return GradeOutput{}, err
	}
	score := grading.Grade(in.QuestionID, outcome, question.MaxMarks())

	logger.Info(ctx, "submission graded",
		zap.Int64("question_id", in.QuestionID),
		zap.String("language", in.Language),
		zap.Int("marks", score.Marks),
		zap.Int("max_marks", score.MaxMarks),
	)
	s.metrics.ObserveGrade(ctx, in.Language, score.Passed, score.Total)
	s.publishGrade(ctx, in, score, outcome)
	s.archiveSubmission(ctx, in, score, outcome)

	return GradeOutput{Score: score, Outcome: toSubmitOutput(outcome)}, nil
}

func (s *GraderService) evaluate(ctx context.Context, in SubmitInput, opts ...evaluator.Option) (model.GradeOutcome, error) {
	if err := s.validate(in); err != nil {
		return model.GradeOutcome{}, err
	}
	return s.evaluator.Evaluate(ctx, in.QuestionID, in.Code, in.Language, opts...)
}

func (s *GraderService) validate(in SubmitInput) error {
	if in.QuestionID <= 0 {
		return appErr.ValidationError("questionId", "must be positive")
	}
	if !s.executor.Supports(in.Language) {
		return appErr.UnsupportedLanguage(in.Language)
	}
	return nil
}

func (s *GraderService) publishGrade(ctx context.Context, in SubmitInput, score model.Score, outcome model.GradeOutcome) {
	ctxEvent, cancel := context.WithTimeout(ctx, s.timeouts.Event)
	defer cancel()
	ev := event.NewGradeCompletedEvent(requestIDFrom(ctx), in.Language, score, outcome)
	if err := s.publisher.PublishGradeCompleted(ctxEvent, ev); err != nil {
		logger.Warn(ctx, "publish grade event failed", zap.Int64("question_id", in.QuestionID), zap.Error(err))
	}
}

func (s *GraderService) archiveSubmission(ctx context.Context, in SubmitInput, score model.Score, outcome model.GradeOutcome) {
	if s.archive == nil {
		return
	}
	ctxArchive, cancel := context.WithTimeout(ctx, s.timeouts.Archive)
	defer cancel()
	key, err := s.archive.Store(ctxArchive, archive.Record{
		QuestionID: in.QuestionID,
		Language:   in.Language,
		Code:       in.Code,
		Outcome:    outcome,
		Score:      score,
	})
	if err != nil {
		logger.Warn(ctx, "archive submission failed", zap.Int64("question_id", in.QuestionID), zap.Error(err))
		return
	}
	logger.Debug(ctx, "submission archived", zap.String("object_key", key))
}

func toSubmitOutput(outcome model.GradeOutcome) SubmitOutput {
	out := SubmitOutput{AllPassed: outcome.AllPassed, Results: outcome.Results}
	if out.Results == nil {
		out.Results = []model.TestCaseResult{}
	}
	if outcome.Error != "" {
		msg := outcome.Error
		out.Error = &msg
	}
	return out
}

func requestIDFrom(ctx context.Context) string {
	if v := ctx.Value(contextkey.RequestID); v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
