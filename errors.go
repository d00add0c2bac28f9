package cikit

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, unreachable APIs, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// CommandFailureError represents a wrapped command that exited non-zero.
// The process exit code mirrors the command's own exit code.
type CommandFailureError struct {
	Command  string
	ExitCode int
}

func (e *CommandFailureError) Error() string {
	return fmt.Sprintf("command failed: %s (exit code %d)", e.Command, e.ExitCode)
}

// NewCommandFailureError creates a new CommandFailureError
func NewCommandFailureError(command string, exitCode int) *CommandFailureError {
	return &CommandFailureError{Command: command, ExitCode: exitCode}
}

// IsCommandFailureError checks if the error is or wraps a CommandFailureError
func IsCommandFailureError(err error) bool {
	var cmdErr *CommandFailureError
	return err != nil && errors.As(err, &cmdErr)
}

// CommandExitCode returns the exit code carried by a CommandFailureError,
// or -1 when err is not one.
func CommandExitCode(err error) int {
	var cmdErr *CommandFailureError
	if err != nil && errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}
