// Package db opens pooled SQL connections and exposes the query surface repositories use.
package db

import (
	"context"
	"database/sql"
)

// Querier is the subset of *sqlx.DB and *sqlx.Tx repositories depend on.
type Querier interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// Database is a pooled connection.
type Database interface {
	Querier
	PingContext(ctx context.Context) error
	DriverName() string
	Close() error
}
