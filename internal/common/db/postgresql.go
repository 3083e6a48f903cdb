package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresDSN builds a keyword/value DSN from discrete connection settings.
func PostgresDSN(host string, port int, user, password, dbName string) string {
	parts := []string{
		"host=" + pgQuote(host),
		fmt.Sprintf("port=%d", port),
		"user=" + pgQuote(user),
		"dbname=" + pgQuote(dbName),
		"sslmode=disable",
	}
	if password != "" {
		parts = append(parts, "password="+pgQuote(password))
	}
	return strings.Join(parts, " ")
}

func pgQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func postgresUniqueViolation(err error) (string, bool) {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) && string(pgErr.Code) == pgUniqueViolation {
		return pgErr.Constraint, true
	}
	return "", false
}
