package harness

import (
	"errors"
	"fmt"
)

// EnvironmentError is a setup problem found before any process is spawned,
// such as a missing executable or assets directory.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment error: %v", e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

func NewEnvironmentError(format string, args ...any) *EnvironmentError {
	return &EnvironmentError{Err: fmt.Errorf(format, args...)}
}

// IsEnvironmentError checks if the error is or wraps an EnvironmentError.
func IsEnvironmentError(err error) bool {
	var envErr *EnvironmentError
	return err != nil && errors.As(err, &envErr)
}

// RuntimeError is a failure that ends the run early: a child that survived
// SIGKILL, or the run being interrupted.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var rtErr *RuntimeError
	return err != nil && errors.As(err, &rtErr)
}
