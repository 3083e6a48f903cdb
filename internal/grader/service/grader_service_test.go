package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"academyjudge/internal/grader/archive"
	"academyjudge/internal/grader/evaluator"
	"academyjudge/internal/grader/event"
	"academyjudge/internal/grader/model"
	"academyjudge/internal/testutil"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/contextkey"
)

// fakeExecutor treats the source as a directive: "echo" copies stdin, "fail:<msg>" fails.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []model.ExecutionRequest
}

func (f *fakeExecutor) Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if !f.Supports(req.Language) {
		return model.ExecutionResult{Reason: model.ReasonRuntimeError, ErrorMessage: "Unsupported language: " + req.Language}
	}
	if msg, ok := strings.CutPrefix(req.SourceCode, "fail:"); ok {
		return model.ExecutionResult{Reason: model.ReasonNonzeroExit, ErrorMessage: msg}
	}
	out := ""
	if req.Stdin != nil {
		out = strings.TrimSpace(*req.Stdin)
	}
	return model.ExecutionResult{Succeeded: true, Reason: model.ReasonNormal, Stdout: out}
}

func (f *fakeExecutor) Supports(language string) bool { return language == "python" }

func (f *fakeExecutor) Languages() []string { return []string{"python"} }

type fakeTestCases struct {
	cases []model.TestCase
	err   error
	calls int
}

func (f *fakeTestCases) ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error) {
	f.calls++
	return f.cases, f.err
}

type fakeQuestions struct {
	question model.Question
	err      error
}

func (f *fakeQuestions) GetByID(ctx context.Context, questionID int64) (model.Question, error) {
	return f.question, f.err
}

type fakePublisher struct {
	events []event.GradeCompletedEvent
	err    error
}

func (f *fakePublisher) PublishGradeCompleted(ctx context.Context, ev event.GradeCompletedEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type fakeArchive struct {
	records []archive.Record
	err     error
}

func (f *fakeArchive) Store(ctx context.Context, rec archive.Record) (string, error) {
	f.records = append(f.records, rec)
	return "submissions/key", f.err
}

func echoCases() []model.TestCase {
	return []model.TestCase{
		{ID: 1, QuestionID: 1, Input: "1", ExpectedOutput: "1", IsPublic: true},
		{ID: 2, QuestionID: 1, Input: "2", ExpectedOutput: "2\n"},
		{ID: 3, QuestionID: 1, Input: "3", ExpectedOutput: "4"},
	}
}

func TestRunCode(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}})

	out := svc.RunCode(context.Background(), RunInput{Code: "echo", Language: "python", Input: testutil.StringPtr("hi")})
	if !out.Success || out.Output == nil || *out.Output != "hi" || out.Error != nil {
		t.Fatalf("unexpected output %+v", out)
	}

	out = svc.RunCode(context.Background(), RunInput{Code: "fail:boom", Language: "python"})
	if out.Success || out.Output != nil || out.Error == nil || *out.Error != "boom" {
		t.Fatalf("unexpected failure output %+v", out)
	}

	out = svc.RunCode(context.Background(), RunInput{Code: "echo", Language: "ruby"})
	if out.Success || *out.Error != "Unsupported language: ruby" {
		t.Fatalf("expected unsupported language output, got %+v", out)
	}
}

func TestSubmitSolutionPartial(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}, TestCases: &fakeTestCases{cases: echoCases()}})
	out, err := svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AllPassed || len(out.Results) != 3 || out.Error != nil {
		t.Fatalf("unexpected output %+v", out)
	}
	passed := []bool{out.Results[0].Passed, out.Results[1].Passed, out.Results[2].Passed}
	if !passed[0] || !passed[1] || passed[2] {
		t.Fatalf("unexpected pass pattern %v", passed)
	}
	if !out.Results[0].IsPublic || out.Results[1].IsPublic {
		t.Fatalf("expected isPublic carried through")
	}
}

func TestSubmitSolutionNoTestCases(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}, TestCases: &fakeTestCases{}})
	out, err := svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 9, Code: "echo", Language: "python"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AllPassed || out.Results == nil || len(out.Results) != 0 {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.Error == nil || *out.Error != "No test cases found for this question." {
		t.Fatalf("expected no test cases error, got %v", out.Error)
	}
}

func TestSubmitSolutionRejectsBeforeLoading(t *testing.T) {
	cases := &fakeTestCases{cases: echoCases()}
	svc := NewGraderService(Config{Executor: &fakeExecutor{}, TestCases: cases})

	_, err := svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "cobol"})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	_, err = svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 0, Code: "echo", Language: "python"})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if cases.calls != 0 {
		t.Fatalf("expected no repository calls, got %d", cases.calls)
	}
}

func TestSubmitSolutionRepositoryError(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}, TestCases: &fakeTestCases{err: appErr.New(appErr.DatabaseError)}})
	_, err := svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}

func TestSubmitSolutionStreamsProgress(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}, TestCases: &fakeTestCases{cases: echoCases()}})
	var seen []int
	_, err := svc.SubmitSolution(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"},
		evaluator.WithProgress(func(index, total int, result model.TestCaseResult) {
			if total != 3 {
				t.Errorf("unexpected total %d", total)
			}
			seen = append(seen, index)
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("unexpected progress %v", seen)
	}
}

func TestGradeSubmission(t *testing.T) {
	publisher := &fakePublisher{}
	store := &fakeArchive{}
	svc := NewGraderService(Config{
		Executor:  &fakeExecutor{},
		TestCases: &fakeTestCases{cases: echoCases()},
		Questions: &fakeQuestions{question: model.Question{ID: 1, Marks: 10}},
		Publisher: publisher,
		Archive:   store,
	})
	ctx := context.WithValue(context.Background(), contextkey.RequestID, "req-1")

	out, err := svc.GradeSubmission(ctx, SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := model.Score{QuestionID: 1, Marks: 6, MaxMarks: 10, Passed: 2, Total: 3}
	if out.Score != want {
		t.Fatalf("expected %+v, got %+v", want, out.Score)
	}
	if len(publisher.events) != 1 || publisher.events[0].Score != 6 || publisher.events[0].RequestID != "req-1" {
		t.Fatalf("unexpected events %+v", publisher.events)
	}
	if len(store.records) != 1 || store.records[0].Code != "echo" || store.records[0].Score != want {
		t.Fatalf("unexpected archive records %+v", store.records)
	}
}

func TestGradeSubmissionSideEffectsAreBestEffort(t *testing.T) {
	svc := NewGraderService(Config{
		Executor:  &fakeExecutor{},
		TestCases: &fakeTestCases{cases: echoCases()[:1]},
		Questions: &fakeQuestions{question: model.Question{ID: 1}},
		Publisher: &fakePublisher{err: errors.New("broker down")},
		Archive:   &fakeArchive{err: errors.New("bucket missing")},
	})
	out, err := svc.GradeSubmission(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if err != nil {
		t.Fatalf("side effect failures must not fail grading: %v", err)
	}
	if out.Score.Marks != 1 || out.Score.MaxMarks != 1 || !out.Score.IsCorrect {
		t.Fatalf("unexpected score %+v", out.Score)
	}
}

func TestGradeSubmissionQuestionNotFound(t *testing.T) {
	cases := &fakeTestCases{cases: echoCases()}
	svc := NewGraderService(Config{
		Executor:  &fakeExecutor{},
		TestCases: cases,
		Questions: &fakeQuestions{err: appErr.New(appErr.QuestionNotFound)},
	})
	_, err := svc.GradeSubmission(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if !appErr.Is(err, appErr.QuestionNotFound) {
		t.Fatalf("expected QuestionNotFound, got %v", err)
	}
	if cases.calls != 0 {
		t.Fatalf("expected evaluation skipped")
	}
}

func TestGradeSubmissionNoTestCases(t *testing.T) {
	publisher := &fakePublisher{}
	svc := NewGraderService(Config{
		Executor:  &fakeExecutor{},
		TestCases: &fakeTestCases{},
		Questions: &fakeQuestions{question: model.Question{ID: 1, Marks: 5}},
		Publisher: publisher,
	})
	out, err := svc.GradeSubmission(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Score.Marks != 0 || out.Score.Total != 0 || out.Outcome.Error == nil {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestLanguages(t *testing.T) {
	svc := NewGraderService(Config{Executor: &fakeExecutor{}})
	if got := svc.Languages(); len(got) != 1 || got[0] != "python" {
		t.Fatalf("unexpected languages %v", got)
	}
}

type gradeMetric struct {
	language      string
	passed, total int
}

type fakeMetrics struct {
	grades []gradeMetric
}

func (f *fakeMetrics) ObserveExecution(ctx context.Context, language string, reason model.TerminationReason, duration time.Duration) {
}

func (f *fakeMetrics) ObserveGrade(ctx context.Context, language string, passed, total int) {
	f.grades = append(f.grades, gradeMetric{language: language, passed: passed, total: total})
}

func TestGradeSubmissionObservesMetrics(t *testing.T) {
	metrics := &fakeMetrics{}
	svc := NewGraderService(Config{
		Executor:  &fakeExecutor{},
		TestCases: &fakeTestCases{cases: echoCases()},
		Questions: &fakeQuestions{question: model.Question{ID: 1, Marks: 3}},
		Metrics:   metrics,
	})
	if _, err := svc.GradeSubmission(context.Background(), SubmitInput{QuestionID: 1, Code: "echo", Language: "python"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, metrics.grades, []gradeMetric{{language: "python", passed: 2, total: 3}})
}
