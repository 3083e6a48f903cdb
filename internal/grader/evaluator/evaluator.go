// Package evaluator runs a submission against every test case of a question.
package evaluator

import (
	"context"
	"strings"

	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Executor runs one execution request.
type Executor interface {
	Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
}

// TestCaseSource loads the test cases of a question in ascending id order.
type TestCaseSource interface {
	ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error)
}

// ProgressFunc receives each result as soon as it is known.
// With parallelism above 1 calls may arrive out of order and concurrently.
type ProgressFunc func(index, total int, result model.TestCaseResult)

// Config holds evaluator settings.
type Config struct {
	// Parallelism bounds concurrent test case runs; 1 or less is sequential.
	Parallelism int
}

// Evaluator grades submissions against stored test cases.
type Evaluator struct {
	cases       TestCaseSource
	executor    Executor
	parallelism int
}

type evalOptions struct {
	progress ProgressFunc
}

// Option customizes a single Evaluate call.
type Option func(*evalOptions)

// WithProgress streams per-case results to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(o *evalOptions) {
		o.progress = fn
	}
}

// New creates an evaluator.
func New(cases TestCaseSource, executor Executor, cfg Config) *Evaluator {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Evaluator{cases: cases, executor: executor, parallelism: parallelism}
}

// Evaluate runs source against every test case of questionID.
// Execution failures are recorded per case; only loading failures return an error.
func (e *Evaluator) Evaluate(ctx context.Context, questionID int64, source, language string, opts ...Option) (model.GradeOutcome, error) {
	var o evalOptions
	for _, opt := range opts {
		opt(&o)
	}

	cases, err := e.cases.ListByQuestion(ctx, questionID)
	if err != nil {
		return model.GradeOutcome{}, err
	}
	if len(cases) == 0 {
		logger.Warn(ctx, "no test cases configured", zap.Int64("question_id", questionID))
		return model.GradeOutcome{
			AllPassed: false,
			Results:   []model.TestCaseResult{},
			Error:     appErr.NoTestCases.Message(),
		}, nil
	}

	results := make([]model.TestCaseResult, len(cases))
	if e.parallelism == 1 {
		for i, tc := range cases {
			results[i] = e.runCase(ctx, tc, source, language)
			if o.progress != nil {
				o.progress(i, len(cases), results[i])
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.parallelism)
		for i, tc := range cases {
			i, tc := i, tc
			g.Go(func() error {
				results[i] = e.runCase(ctx, tc, source, language)
				if o.progress != nil {
					o.progress(i, len(cases), results[i])
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	outcome := model.GradeOutcome{AllPassed: true, Results: results}
	for _, r := range results {
		if !r.Passed {
			outcome.AllPassed = false
		}
	}
	logger.Info(ctx, "submission evaluated",
		zap.Int64("question_id", questionID),
		zap.String("language", language),
		zap.Int("passed", outcome.PassedCount()),
		zap.Int("total", len(results)),
	)
	return outcome, nil
}

func (e *Evaluator) runCase(ctx context.Context, tc model.TestCase, source, language string) model.TestCaseResult {
	input := tc.Input
	res := e.executor.Run(ctx, model.ExecutionRequest{
		SourceCode: source,
		Language:   language,
		Stdin:      &input,
	})

	out := model.TestCaseResult{
		TestCaseID:  tc.ID,
		Input:       tc.Input,
		Expected:    tc.ExpectedOutput,
		Explanation: tc.Explanation,
		IsPublic:    tc.IsPublic,
	}
	if res.Succeeded {
		actual := res.Stdout
		out.Actual = &actual
		out.Passed = Matches(actual, tc.ExpectedOutput)
	} else {
		msg := res.ErrorMessage
		out.Error = &msg
	}
	return out
}

// Matches compares outputs ignoring leading and trailing whitespace only.
func Matches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}
