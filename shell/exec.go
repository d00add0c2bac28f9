package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const defaultGracePeriod = 10 * time.Second

// ExecCommand runs a binary with arguments through os/exec.
type ExecCommand struct {
	Path string
	Args []string

	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
	// Streams wires the standard streams; zero value uses the process streams.
	Streams Streams
	// GracePeriod is how long a canceled command gets between SIGTERM and
	// SIGKILL. Zero means the default of 10s.
	GracePeriod time.Duration
}

// Exec builds an ExecCommand for the given argv.
func Exec(path string, args ...string) *ExecCommand {
	return &ExecCommand{Path: path, Args: args}
}

func (c *ExecCommand) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Run starts the command in its own process group and waits for it.
// Cancellation signals the whole group so children spawned by the command
// are also terminated: SIGTERM first, SIGKILL after the grace period.
func (c *ExecCommand) Run(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	streams := c.Streams.OrDefaults()
	cmd.Stdin = streams.In
	cmd.Stdout = streams.Out
	cmd.Stderr = streams.Err
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	// Negative PID = every process in the group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	grace := c.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			// SIGTERM failed (process group already gone), escalate.
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			// ESRCH from a dead process group is harmless.
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return nil
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return ExitNotStarted, err
	}
	return 0, nil
}
