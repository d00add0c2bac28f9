// Package shell runs the commands cikit wraps. A command is anything that
// can be executed to completion and yields a process-style exit code: an
// argv launched through os/exec, a POSIX script interpreted in-process, or
// a plain Go function.
package shell

import (
	"context"
	"io"
	"os"
)

// ExitNotStarted is reported when a command could not be started at all.
// Shells use 127 for "command not found".
const ExitNotStarted = 127

// Command is a runnable unit of work with shell exit semantics.
type Command interface {
	// Run executes the command to completion and returns its exit code.
	// A non-zero exit code from a command that ran is not an error; the
	// error describes why execution itself went wrong (binary missing,
	// script rejected by the interpreter) and accompanies a non-zero code.
	Run(ctx context.Context) (int, error)

	// String renders the command for diagnostics.
	String() string
}

// Streams carries the standard streams a command is wired to.
// The zero value means the current process streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// OrDefaults fills unset streams with the process streams.
func (s Streams) OrDefaults() Streams {
	if s.In == nil {
		s.In = os.Stdin
	}
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.Err == nil {
		s.Err = os.Stderr
	}
	return s
}
