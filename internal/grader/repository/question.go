package repository

import (
	"context"

	"academyjudge/internal/common/db"
	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
)

// QuestionRepository loads question records.
type QuestionRepository interface {
	GetByID(ctx context.Context, questionID int64) (model.Question, error)
}

type SQLQuestionRepository struct {
	db db.Querier
}

func NewQuestionRepository(database db.Querier) *SQLQuestionRepository {
	return &SQLQuestionRepository{db: database}
}

func (r *SQLQuestionRepository) GetByID(ctx context.Context, questionID int64) (model.Question, error) {
	var q model.Question
	query := r.db.Rebind("SELECT id, COALESCE(marks, 0) AS marks FROM questions WHERE id = ?")
	if err := r.db.GetContext(ctx, &q, query, questionID); err != nil {
		if db.IsNoRows(err) {
			return model.Question{}, appErr.New(appErr.QuestionNotFound).WithDetail("questionId", questionID)
		}
		return model.Question{}, appErr.Wrapf(err, appErr.DatabaseError, "get question failed")
	}
	return q, nil
}
