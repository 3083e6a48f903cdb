// Package model defines the execution and grading data shared across the grader.
package model

import "time"

// TerminationReason describes how an execution ended.
type TerminationReason string

const (
	ReasonNormal       TerminationReason = "normal"
	ReasonNonzeroExit  TerminationReason = "nonzeroExit"
	ReasonTimeout      TerminationReason = "timeout"
	ReasonRuntimeError TerminationReason = "runtimeError"
)

// ExecutionRequest is one request to run source code, optionally with stdin.
type ExecutionRequest struct {
	SourceCode string
	Language   string
	// Stdin is nil when the request carries no input.
	Stdin *string
}

// HasInput reports whether the request carries non-empty input.
func (r ExecutionRequest) HasInput() bool {
	return r.Stdin != nil && *r.Stdin != ""
}

// ExecutionResult is produced once per ExecutionRequest.
type ExecutionResult struct {
	Succeeded    bool
	Stdout       string
	ErrorMessage string
	Reason       TerminationReason
	ExitCode     int
	Duration     time.Duration
	// Workspace is the token of the workspace that backed the run.
	Workspace string
}

// TestCase is an (input, expected output) pair owned by a question.
type TestCase struct {
	ID             int64   `db:"id" json:"id"`
	QuestionID     int64   `db:"questionId" json:"questionId"`
	Input          string  `db:"input" json:"input"`
	ExpectedOutput string  `db:"expectedOutput" json:"expectedOutput"`
	Explanation    *string `db:"explanation" json:"explanation,omitempty"`
	IsPublic       bool    `db:"isPublic" json:"isPublic"`
}

// Question carries the fields grading needs from a question record.
type Question struct {
	ID    int64 `db:"id" json:"id"`
	Marks int   `db:"marks" json:"marks"`
}

// MaxMarks returns the question's marks, defaulting to 1.
func (q Question) MaxMarks() int {
	if q.Marks <= 0 {
		return 1
	}
	return q.Marks
}

// TestCaseResult is the outcome of one submission against one test case.
type TestCaseResult struct {
	TestCaseID  int64   `json:"testCaseId"`
	Input       string  `json:"input"`
	Expected    string  `json:"expected"`
	Explanation *string `json:"explanation,omitempty"`
	Actual      *string `json:"actual,omitempty"`
	Error       *string `json:"error,omitempty"`
	Passed      bool    `json:"passed"`
	IsPublic    bool    `json:"isPublic"`
}

// GradeOutcome aggregates the results of one submission against a question.
type GradeOutcome struct {
	AllPassed bool             `json:"allPassed"`
	Results   []TestCaseResult `json:"results"`
	// Error is set only when the question has no test cases.
	Error string `json:"error,omitempty"`
}

// PassedCount returns the number of passing results.
func (o GradeOutcome) PassedCount() int {
	n := 0
	for _, r := range o.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// Score is the marks awarded for one graded submission.
type Score struct {
	QuestionID int64 `json:"questionId"`
	Marks      int   `json:"marks"`
	MaxMarks   int   `json:"maxMarks"`
	Passed     int   `json:"passed"`
	Total      int   `json:"total"`
	IsCorrect  bool  `json:"isCorrect"`
}
