// Package daerr defines the error taxonomy shared by the assimilation
// operators. Every failure is fatal to the current run; callers match
// kinds with errors.Is.
package daerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a missing or invalid configuration key.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupported marks an operation a variant does not define, such as
	// the inverse of a many-to-one map.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrStateMismatch marks a variable that cannot be derived or fields
	// whose shapes disagree with the operator.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrSequencing marks a linear operation issued before (or against a
	// different) linearization.
	ErrSequencing = errors.New("sequencing error")
)

// OpError records which operator and operation failed.
type OpError struct {
	Operator string
	Op       string
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Operator, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap annotates err with the operator and operation names. It returns nil
// when err is nil so call sites can wrap unconditionally.
func Wrap(operator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Operator: operator, Op: op, Err: err}
}

// Configf returns an ErrConfiguration carrying a formatted detail.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Mismatchf returns an ErrStateMismatch carrying a formatted detail.
func Mismatchf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStateMismatch, fmt.Sprintf(format, args...))
}

// Sequencef returns an ErrSequencing carrying a formatted detail.
func Sequencef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSequencing, fmt.Sprintf(format, args...))
}

// Unsupported returns an OpError for an operation the operator does not define.
func Unsupported(operator, op string) error {
	return &OpError{Operator: operator, Op: op, Err: fmt.Errorf("%w: %s not implemented", ErrUnsupported, op)}
}
