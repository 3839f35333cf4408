package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup by natural key matches nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a concurrent write violates a uniqueness
// constraint the store could not reconcile. Callers may retry.
var ErrConflict = errors.New("conflict")

// translate maps driver-level errors onto the store's error taxonomy.
// Anything unrecognized passes through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return ErrConflict
	}

	return err
}

// isUniqueViolation recognizes unique-constraint failures from the
// sqlite and postgres drivers, which surface them as plain errors.
func isUniqueViolation(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
