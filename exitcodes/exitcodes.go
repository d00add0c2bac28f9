// Package exitcodes defines the standard exit codes used by cikit.
package exitcodes

// Exit code constants used by cikit
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when the wrapped command (or query) succeeds
// * CommandFailure (1): Used when the wrapped command fails after all retries,
//   or a query answers "no" (eg. a PR label is absent)
// * RuntimeErr (2): Used for runtime errors such as bad configuration, API
//   errors or other failures of cikit itself
const (
	Success        = 0 // Wrapped command succeeded
	CommandFailure = 1 // Wrapped command failed
	RuntimeErr     = 2 // Runtime errors or timeouts
)
