package shell

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ScriptCommand interprets POSIX shell source in-process. No /bin/sh is
// required, which keeps behavior identical across CI images.
type ScriptCommand struct {
	Source string

	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
	// Streams wires the standard streams; zero value uses the process streams.
	Streams Streams
}

// Script builds a ScriptCommand from shell source.
func Script(source string) *ScriptCommand {
	return &ScriptCommand{Source: source}
}

func (c *ScriptCommand) String() string {
	return strings.TrimSpace(c.Source)
}

// Run parses and interprets the script, returning its exit status.
func (c *ScriptCommand) Run(ctx context.Context) (int, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(c.Source), "script")
	if err != nil {
		return ExitNotStarted, fmt.Errorf("script syntax error: %w", err)
	}

	streams := c.Streams.OrDefaults()
	environ := append(os.Environ(), c.Env...)
	runner, err := interp.New(
		interp.Dir(c.Dir),
		interp.Env(expand.ListEnviron(environ...)),
		interp.StdIO(streams.In, streams.Out, streams.Err),
	)
	if err != nil {
		return ExitNotStarted, fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		if exitStatus, ok := interp.IsExitStatus(err); ok {
			return int(exitStatus), nil
		}
		return 1, err
	}
	return 0, nil
}
