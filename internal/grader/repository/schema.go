package repository

import (
	"context"

	"academyjudge/internal/common/db"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
	id INT AUTO_INCREMENT PRIMARY KEY,
	testId INT NOT NULL,
	text TEXT NOT NULL,
	marks INT NOT NULL DEFAULT 1,
	createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
	id INT AUTO_INCREMENT PRIMARY KEY,
	questionId INT NOT NULL,
	input TEXT NOT NULL,
	expectedOutput TEXT NOT NULL,
	explanation TEXT NULL,
	isPublic BOOLEAN NOT NULL DEFAULT FALSE,
	createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	INDEX idx_test_cases_question (questionId)
)`,
}

// Unquoted identifiers fold to lower case; queries alias them back.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
	id SERIAL PRIMARY KEY,
	testId INTEGER NOT NULL,
	text TEXT NOT NULL,
	marks INTEGER NOT NULL DEFAULT 1,
	createdAt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
	id SERIAL PRIMARY KEY,
	questionId INTEGER NOT NULL,
	input TEXT NOT NULL,
	expectedOutput TEXT NOT NULL,
	explanation TEXT NULL,
	isPublic BOOLEAN NOT NULL DEFAULT FALSE,
	createdAt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_test_cases_question ON test_cases (questionId)`,
}

// EnsureSchema creates the questions and test_cases tables when absent.
func EnsureSchema(ctx context.Context, database db.Querier, driver string) error {
	stmts := mysqlSchema
	if driver == db.DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "ensure schema failed")
		}
	}
	logger.Info(ctx, "database schema ensured", zap.String("driver", driver))
	return nil
}
