package shell

import "context"

// FuncCommand adapts a Go function to the Command interface so in-process
// steps (readiness probes, API calls) can share the retry machinery with
// real commands.
type FuncCommand struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Func builds a FuncCommand.
func Func(name string, fn func(ctx context.Context) error) *FuncCommand {
	return &FuncCommand{Name: name, Fn: fn}
}

func (c *FuncCommand) String() string {
	return c.Name
}

// Run invokes the function. A returned error maps to exit code 1.
func (c *FuncCommand) Run(ctx context.Context) (int, error) {
	if err := c.Fn(ctx); err != nil {
		return 1, err
	}
	return 0, nil
}
