// Package repository loads questions and test cases for grading.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"academyjudge/internal/common/cache"
	"academyjudge/internal/common/db"
	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
)

const (
	defaultTestCaseTTL      = 30 * time.Minute
	defaultTestCaseEmptyTTL = time.Minute
	testCaseKeyPrefix       = "grader:testcases:"
)

// TestCaseRepository lists the test cases of a question in ascending id order.
type TestCaseRepository interface {
	ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error)
}

// SQLTestCaseRepository reads test_cases through sqlx.
type SQLTestCaseRepository struct {
	db db.Querier
}

func NewTestCaseRepository(database db.Querier) *SQLTestCaseRepository {
	return &SQLTestCaseRepository{db: database}
}

func (r *SQLTestCaseRepository) ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error) {
	query := r.db.Rebind(`SELECT id, questionId AS "questionId", input, expectedOutput AS "expectedOutput", explanation, isPublic AS "isPublic" FROM test_cases WHERE questionId = ? ORDER BY id ASC`)
	cases := make([]model.TestCase, 0)
	if err := r.db.SelectContext(ctx, &cases, query, questionID); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list test cases failed")
	}
	return cases, nil
}

// CachedTestCaseRepository serves test cases from redis, falling back to next.
type CachedTestCaseRepository struct {
	next     TestCaseRepository
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewCachedTestCaseRepository(next TestCaseRepository, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) *CachedTestCaseRepository {
	if ttl <= 0 {
		ttl = defaultTestCaseTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultTestCaseEmptyTTL
	}
	return &CachedTestCaseRepository{next: next, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *CachedTestCaseRepository) ListByQuestion(ctx context.Context, questionID int64) ([]model.TestCase, error) {
	if r.cache == nil {
		return r.next.ListByQuestion(ctx, questionID)
	}
	cases, err := cache.GetWithCached[[]model.TestCase](
		ctx,
		r.cache,
		testCaseKey(questionID),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(cases []model.TestCase) bool { return len(cases) == 0 },
		marshalTestCases,
		unmarshalTestCases,
		func(ctx context.Context) ([]model.TestCase, error) {
			return r.next.ListByQuestion(ctx, questionID)
		},
	)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []model.TestCase{}
	}
	return cases, nil
}

// Invalidate drops the cached test cases of a question.
func (r *CachedTestCaseRepository) Invalidate(ctx context.Context, questionID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, testCaseKey(questionID))
}

func testCaseKey(questionID int64) string {
	return fmt.Sprintf("%s%d", testCaseKeyPrefix, questionID)
}

func marshalTestCases(cases []model.TestCase) (string, error) {
	data, err := json.Marshal(cases)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTestCases(data string) ([]model.TestCase, error) {
	var cases []model.TestCase
	if err := json.Unmarshal([]byte(data), &cases); err != nil {
		return nil, err
	}
	return cases, nil
}
