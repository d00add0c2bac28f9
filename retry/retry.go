// Package retry runs commands with exponential backoff. The delay starts
// at one second and doubles after every failed attempt, so transient
// failures (network blips, daemons still starting) get progressively more
// room to clear while the attempt count stays bounded.
package retry

import (
	"time"

	"github.com/pkg/errors"
)

// Policy controls how often a command is attempted and how long to wait
// between failures.
type Policy struct {
	// MaxAttempts is the total number of attempts, at least 1.
	MaxAttempts int
	// InitialDelay is the sleep after the first failed attempt. Every
	// further failure doubles it. Zero selects the default of 1s.
	InitialDelay time.Duration
	// MaxDelay caps the doubling when positive. Zero leaves growth
	// unbounded, so callers must choose MaxAttempts conservatively to
	// bound the total wait time.
	MaxDelay time.Duration
}

// Validate checks the policy for configuration errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return errors.New("initial delay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.InitialDelay == 0 {
		p.InitialDelay = time.Second
	}
	return p
}

// Outcome is the immutable result of one Run invocation.
type Outcome struct {
	// ExitCode is the final attempt's exit code.
	ExitCode int
	// Attempts is how many attempts were made.
	Attempts int
	// Elapsed is the wall-clock duration across all attempts, sleeps
	// included.
	Elapsed time.Duration
}

// Success reports whether the command eventually succeeded.
func (o Outcome) Success() bool { return o.ExitCode == 0 }
