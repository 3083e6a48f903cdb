package db

import (
	"database/sql"
	"errors"
)

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports a duplicate key error from either driver and returns the key name.
func UniqueViolation(err error) (string, bool) {
	if key, ok := mysqlUniqueViolation(err); ok {
		return key, true
	}
	return postgresUniqueViolation(err)
}
