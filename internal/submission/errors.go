package submission

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no submission matches the identifier.
	ErrNotFound = errors.New("submission not found")
	// ErrDuplicateIdentifier is returned by Create when the generated
	// identifier collides with an existing row. Retry with a fresh one.
	ErrDuplicateIdentifier = errors.New("duplicate submission identifier")
)

// StoreError wraps every failure from the storage layer. Err is the
// underlying cause, which may itself be ErrNotFound or
// ErrDuplicateIdentifier.
type StoreError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("submission: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("submission: %s %s: %v", e.Op, e.Identifier, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, identifier string, err error) error {
	return &StoreError{Op: op, Identifier: identifier, Err: err}
}
