package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
)

type fakeSource struct {
	cases []model.TestCase
	err   error
}

func (f *fakeSource) ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error) {
	return f.cases, f.err
}

// fakeExecutor maps stdin to a canned result.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]model.ExecutionResult
	calls   []string
	delay   func(input string) time.Duration
}

func (f *fakeExecutor) Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	input := ""
	if req.Stdin != nil {
		input = *req.Stdin
	}
	if f.delay != nil {
		time.Sleep(f.delay(input))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if res, ok := f.results[input]; ok {
		return res
	}
	return model.ExecutionResult{Succeeded: true, Stdout: input, Reason: model.ReasonNormal}
}

func ok(stdout string) model.ExecutionResult {
	return model.ExecutionResult{Succeeded: true, Stdout: stdout, Reason: model.ReasonNormal}
}

func tc(id int64, input, expected string) model.TestCase {
	return model.TestCase{ID: id, QuestionID: 7, Input: input, ExpectedOutput: expected}
}

func TestEvaluateNoTestCases(t *testing.T) {
	exec := &fakeExecutor{}
	ev := New(&fakeSource{}, exec, Config{})
	outcome, err := ev.Evaluate(context.Background(), 7, "print(1)", "python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.AllPassed {
		t.Fatalf("expected allPassed=false for empty set")
	}
	if outcome.Error != "No test cases found for this question." {
		t.Fatalf("unexpected error text %q", outcome.Error)
	}
	if outcome.Results == nil || len(outcome.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", outcome.Results)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no executions, got %d", len(exec.calls))
	}
}

func TestEvaluateRepositoryError(t *testing.T) {
	boom := appErr.New(appErr.DatabaseError)
	ev := New(&fakeSource{err: boom}, &fakeExecutor{}, Config{})
	_, err := ev.Evaluate(context.Background(), 7, "", "python")
	if !errors.Is(err, boom) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestEvaluatePartialCredit(t *testing.T) {
	explanation := "sum of two numbers"
	cases := []model.TestCase{
		tc(1, "1 2", "3"),
		tc(2, "2 2", "4"),
		tc(3, "loop", "0"),
		tc(4, "crash", "0"),
	}
	cases[0].Explanation = &explanation
	cases[0].IsPublic = true

	exec := &fakeExecutor{results: map[string]model.ExecutionResult{
		"1 2":   ok("3"),
		"2 2":   ok("5"),
		"loop":  {Reason: model.ReasonTimeout, ErrorMessage: "Time Limit Exceeded"},
		"crash": {Reason: model.ReasonNonzeroExit, ErrorMessage: "Traceback"},
	}}
	ev := New(&fakeSource{cases: cases}, exec, Config{})
	outcome, err := ev.Evaluate(context.Background(), 7, "src", "python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.AllPassed {
		t.Fatalf("expected allPassed=false")
	}
	if len(outcome.Results) != 4 || len(exec.calls) != 4 {
		t.Fatalf("expected every case to run, results=%d calls=%d", len(outcome.Results), len(exec.calls))
	}
	if outcome.PassedCount() != 1 {
		t.Fatalf("expected 1 passed, got %d", outcome.PassedCount())
	}

	first := outcome.Results[0]
	if !first.Passed || first.TestCaseID != 1 || !first.IsPublic || first.Explanation == nil || *first.Explanation != explanation {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Actual == nil || *first.Actual != "3" || first.Error != nil {
		t.Fatalf("expected actual output only, got %+v", first)
	}
	if outcome.Results[1].Passed || *outcome.Results[1].Actual != "5" {
		t.Fatalf("expected wrong answer on case 2, got %+v", outcome.Results[1])
	}
	timeout := outcome.Results[2]
	if timeout.Passed || timeout.Actual != nil || timeout.Error == nil || *timeout.Error != "Time Limit Exceeded" {
		t.Fatalf("unexpected timeout result %+v", timeout)
	}
}

func TestEvaluateAllPassed(t *testing.T) {
	cases := []model.TestCase{tc(1, "a", "a"), tc(2, "b", "b")}
	ev := New(&fakeSource{cases: cases}, &fakeExecutor{}, Config{})
	outcome, err := ev.Evaluate(context.Background(), 7, "src", "python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.AllPassed || outcome.PassedCount() != 2 {
		t.Fatalf("expected all passed, got %+v", outcome)
	}
}

func TestEvaluateFailedRunNeverPasses(t *testing.T) {
	cases := []model.TestCase{tc(1, "x", "")}
	exec := &fakeExecutor{results: map[string]model.ExecutionResult{
		"x": {Reason: model.ReasonRuntimeError, ErrorMessage: "oops"},
	}}
	outcome, _ := New(&fakeSource{cases: cases}, exec, Config{}).Evaluate(context.Background(), 7, "", "python")
	if outcome.Results[0].Passed {
		t.Fatalf("failed run with empty expected output must not pass")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		actual   string
		expected string
		want     bool
	}{
		{actual: "1 2 3\n", expected: "1 2 3", want: true},
		{actual: "1 2 3", expected: "  1 2 3\n\n", want: true},
		{actual: "1  2 3", expected: "1 2 3", want: false},
		{actual: "a\nb", expected: "a\n\nb", want: false},
		{actual: "", expected: "", want: true},
	}
	for _, tt := range tests {
		if got := Matches(tt.actual, tt.expected); got != tt.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
		}
	}
}

func TestEvaluateParallelKeepsOrder(t *testing.T) {
	cases := []model.TestCase{tc(1, "slow", "slow"), tc(2, "fast", "fast"), tc(3, "mid", "mid")}
	exec := &fakeExecutor{delay: func(input string) time.Duration {
		switch input {
		case "slow":
			return 60 * time.Millisecond
		case "mid":
			return 30 * time.Millisecond
		}
		return 0
	}}
	var mu sync.Mutex
	progress := 0
	ev := New(&fakeSource{cases: cases}, exec, Config{Parallelism: 3})
	outcome, err := ev.Evaluate(context.Background(), 7, "src", "python", WithProgress(func(index, total int, r model.TestCaseResult) {
		mu.Lock()
		defer mu.Unlock()
		progress++
		if total != 3 || cases[index].ID != r.TestCaseID {
			t.Errorf("progress index %d mismatched result %d", index, r.TestCaseID)
		}
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range outcome.Results {
		if r.TestCaseID != cases[i].ID {
			t.Fatalf("result %d out of order: %d", i, r.TestCaseID)
		}
	}
	if progress != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", progress)
	}
	if !outcome.AllPassed {
		t.Fatalf("expected all passed")
	}
}

func TestEvaluateSequentialProgressOrder(t *testing.T) {
	cases := []model.TestCase{tc(1, "a", "a"), tc(2, "b", "x"), tc(3, "c", "c")}
	var seen []int
	_, err := New(&fakeSource{cases: cases}, &fakeExecutor{}, Config{}).Evaluate(context.Background(), 7, "", "python",
		WithProgress(func(index, total int, r model.TestCaseResult) {
			seen = append(seen, index)
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[1] != 1 || seen[2] != 2 {
		t.Fatalf("unexpected progress order %v", seen)
	}
}
