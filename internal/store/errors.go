package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the post id does not exist.
	ErrNotFound = errors.New("scheduled post not found")

	// ErrConflict means the caller's version is stale: another writer
	// committed first. Re-read and retry, or surface "changed concurrently".
	ErrConflict = errors.New("scheduled post changed concurrently")
)

// ValidationError rejects bad input before any store mutation happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
