package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the state store's five-kind error hierarchy (§7).
var (
	// ErrNotFound indicates a query for a specific key returned nothing.
	ErrNotFound = errors.New("record not found")

	// ErrValidation indicates an input failed enumeration or constraint
	// checks before reaching the database.
	ErrValidation = errors.New("validation failed")

	// ErrConnection indicates the database file was missing at construction.
	ErrConnection = errors.New("database connection error")

	// ErrConflict indicates a unique-constraint violation or conflicting state.
	ErrConflict = errors.New("conflict")

	// ErrTransaction indicates a transaction failed or was aborted.
	ErrTransaction = errors.New("transaction error")
)

// ValidationError carries the field and reason for an ErrValidation failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError constructs a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound for consistent caller handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation reports whether err looks like a SQLite UNIQUE
// constraint failure. modernc.org/sqlite surfaces these as plain errors
// whose text names the constraint; we match on that text since the
// driver does not expose a typed sentinel for it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
