package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
)

// notFound maps sql.ErrNoRows to errs.ErrNotFound and wraps anything else.
func notFound(err error, what string, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, errs.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

// isUniqueViolation detects unique constraint errors from PostgreSQL or SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "23505")
}
