// Package grading turns a grade outcome into awarded marks.
package grading

import "academyjudge/internal/grader/model"

// Grade awards floor(passed/total*maxMarks). No test cases award nothing.
func Grade(questionID int64, outcome model.GradeOutcome, maxMarks int) model.Score {
	total := len(outcome.Results)
	passed := outcome.PassedCount()
	score := model.Score{
		QuestionID: questionID,
		MaxMarks:   maxMarks,
		Passed:     passed,
		Total:      total,
		IsCorrect:  outcome.AllPassed,
	}
	if total == 0 || maxMarks <= 0 {
		return score
	}
	score.Marks = passed * maxMarks / total
	return score
}
