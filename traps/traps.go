// Package traps composes cleanup handlers for OS signals. Several
// independent helpers can each register an action against the same signal
// without clobbering the others: the manager keeps an ordered chain per
// signal and dispatches newest-first when the signal fires.
package traps

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ExitSignal is the pseudo-signal for process termination, mirroring the
// shell's EXIT trap. Handlers registered for it run when Exit is called or
// after a terminating signal's own chain has run.
var ExitSignal os.Signal = exitSignal{}

type exitSignal struct{}

func (exitSignal) String() string { return "EXIT" }
func (exitSignal) Signal()        {}

// Parse resolves a signal name like "EXIT", "INT", "SIGTERM" or a number to
// a signal. An unknown name is a configuration error and is never swallowed.
func Parse(name string) (os.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "EXIT":
		return ExitSignal, nil
	case "HUP":
		return syscall.SIGHUP, nil
	case "INT":
		return syscall.SIGINT, nil
	case "QUIT":
		return syscall.SIGQUIT, nil
	case "TERM":
		return syscall.SIGTERM, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(name)); err == nil && n >= 0 && n < 64 {
		if n == 0 {
			// trap 0 is the shell spelling of the EXIT trap
			return ExitSignal, nil
		}
		return syscall.Signal(n), nil
	}
	return nil, fmt.Errorf("unknown signal %q", name)
}
