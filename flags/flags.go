package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "CIKIT"

// prefixEnvVars names the environment variable for a flag. Legacy names
// from the shell era of this tooling are still honored so existing CI
// job configs keep working.
func prefixEnvVars(name string, legacy ...string) []string {
	return append([]string{EnvVarPrefix + "_" + name}, legacy...)
}

// Global flags, shared by every subcommand.
var (
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level (debug, info, warn, error)",
	}
	TestName = &cli.StringFlag{
		Name:    "test-name",
		Value:   "",
		EnvVars: prefixEnvVars("TEST_NAME", "TEST_NAME"),
		Usage:   "Name of the CI step; enables JUnit reporting when set together with --artifacts-dir",
	}
	ArtifactsDir = &cli.StringFlag{
		Name:    "artifacts-dir",
		Value:   "",
		EnvVars: prefixEnvVars("ARTIFACTS", "ARTIFACTS"),
		Usage:   "Directory JUnit reports are written to; enables reporting when set together with --test-name",
	}
	ClassName = &cli.StringFlag{
		Name:    "class-name",
		Value:   "",
		EnvVars: prefixEnvVars("CLASS_NAME", "JUNIT_CLASS_NAME"),
		Usage:   "JUnit class name for emitted test cases (default: Kubermatic)",
	}
)

// Flags for `cikit retry`.
var (
	Retries = &cli.IntFlag{
		Name:    "retries",
		Aliases: []string{"r"},
		Value:   5,
		EnvVars: prefixEnvVars("RETRIES"),
		Usage:   "Maximum number of attempts",
	}
	InitialDelay = &cli.DurationFlag{
		Name:    "initial-delay",
		Value:   time.Second,
		EnvVars: prefixEnvVars("INITIAL_DELAY"),
		Usage:   "Backoff before the second attempt; doubles after every failure",
	}
	MaxDelay = &cli.DurationFlag{
		Name:    "max-delay",
		Value:   0,
		EnvVars: prefixEnvVars("MAX_DELAY"),
		Usage:   "Upper bound for the backoff; 0 leaves the growth unbounded",
	}
	Shell = &cli.BoolFlag{
		Name:  "shell",
		Usage: "Interpret the command as a POSIX shell script instead of an argv",
	}
	Summary = &cli.BoolFlag{
		Name:  "summary",
		Usage: "Print a result table after the run",
	}
)

// Flags for `cikit junit`.
var (
	ExitCode = &cli.IntFlag{
		Name:  "exit-code",
		Value: 0,
		Usage: "Exit code to report for the step",
	}
	Duration = &cli.DurationFlag{
		Name:  "duration",
		Value: 0,
		Usage: "Wall-clock duration to report for the step",
	}
	ScanParallelism = &cli.IntFlag{
		Name:  "max-parallel",
		Value: 4,
		Usage: "How many report files to parse concurrently",
	}
)

// Flags for `cikit dockerd`.
var (
	DockerdBinary = &cli.StringFlag{
		Name:    "binary",
		Value:   "dockerd",
		EnvVars: prefixEnvVars("DOCKERD_BINARY"),
		Usage:   "Docker daemon executable",
	}
	DockerdDataRoot = &cli.StringFlag{
		Name:    "data-root",
		Value:   "",
		EnvVars: prefixEnvVars("DOCKERD_DATA_ROOT"),
		Usage:   "Storage directory for images and containers",
	}
	DockerdMTU = &cli.IntFlag{
		Name:    "mtu",
		Value:   0,
		EnvVars: prefixEnvVars("DOCKERD_MTU"),
		Usage:   "Network MTU for the daemon; 0 keeps the daemon default",
	}
	DockerdLogFile = &cli.StringFlag{
		Name:    "log-file",
		Value:   "",
		EnvVars: prefixEnvVars("DOCKERD_LOG_FILE"),
		Usage:   "File receiving the daemon output (default: docker.log in the temp directory)",
	}
	ReadyAttempts = &cli.IntFlag{
		Name:    "ready-attempts",
		Value:   5,
		EnvVars: prefixEnvVars("DOCKERD_READY_ATTEMPTS"),
		Usage:   "How often to probe the daemon before giving up",
	}
	ReadyDelay = &cli.DurationFlag{
		Name:    "ready-delay",
		Value:   time.Second,
		EnvVars: prefixEnvVars("DOCKERD_READY_DELAY"),
		Usage:   "Initial backoff between readiness probes",
	}
	MinVersion = &cli.StringFlag{
		Name:    "min-version",
		Value:   "",
		EnvVars: prefixEnvVars("DOCKERD_MIN_VERSION"),
		Usage:   "Reject daemons older than this version (e.g. 'v23.0.0')",
	}
	StopTimeout = &cli.DurationFlag{
		Name:    "stop-timeout",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("DOCKERD_STOP_TIMEOUT"),
		Usage:   "Grace period before the daemon is killed on shutdown",
	}
	DaemonConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: prefixEnvVars("DOCKERD_CONFIG"),
		Usage:   "YAML config for the standalone daemon mode (healthz, metrics, heartbeat)",
	}
)

// Flags for `cikit containerize`.
var (
	Image = &cli.StringFlag{
		Name:     "image",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("CONTAINERIZE_IMAGE", "CONTAINERIZE_IMAGE"),
		Usage:    "Image the command is re-run in",
	}
	Env = &cli.StringSliceFlag{
		Name:  "env",
		Usage: "KEY=VALUE set inside the container; repeatable",
	}
	EnvPassthrough = &cli.StringSliceFlag{
		Name:  "env-passthrough",
		Usage: "Variable copied from the current environment when set; repeatable",
	}
	MountDockerSock = &cli.BoolFlag{
		Name:  "mount-docker-sock",
		Usage: "Bind-mount the Docker socket into the container",
	}
)

// Flags for `cikit push`.
var (
	Gateway = &cli.StringFlag{
		Name:     "gateway",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("PUSHGATEWAY"),
		Usage:    "Pushgateway base URL",
	}
	Job = &cli.StringFlag{
		Name:     "job",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("PUSH_JOB"),
		Usage:    "Job name the metric is grouped under",
	}
	Instance = &cli.StringFlag{
		Name:    "instance",
		Value:   "",
		EnvVars: prefixEnvVars("PUSH_INSTANCE"),
		Usage:   "Instance label for the metric group",
	}
	DeleteOnExit = &cli.BoolFlag{
		Name:  "delete-on-exit",
		Usage: "Delete the metric group from the gateway when the process exits",
	}
)

// Flags for `cikit pr`.
var (
	Repo = &cli.StringFlag{
		Name:     "repo",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("REPO"),
		Usage:    "Repository as owner/name",
	}
	PRNumber = &cli.IntFlag{
		Name:     "number",
		Required: true,
		EnvVars:  prefixEnvVars("PR_NUMBER"),
		Usage:    "Pull request number",
	}
	Label = &cli.StringFlag{
		Name:     "label",
		Value:    "",
		Required: true,
		Usage:    "Label to look for",
	}
	GithubToken = &cli.StringFlag{
		Name:    "github-token",
		Value:   "",
		EnvVars: prefixEnvVars("GITHUB_TOKEN", "GITHUB_TOKEN"),
		Usage:   "Token for the GitHub API; anonymous requests work for public repositories",
	}
	GithubBaseURL = &cli.StringFlag{
		Name:    "github-base-url",
		Value:   "",
		EnvVars: prefixEnvVars("GITHUB_BASE_URL"),
		Usage:   "Override the GitHub API base URL (for GitHub Enterprise)",
	}
)

var optionalFlags = []cli.Flag{
	LogLevel,
	TestName,
	ArtifactsDir,
	ClassName,
}

// Flags are the global flags of the cikit app.
var Flags []cli.Flag

func init() {
	Flags = append(Flags, optionalFlags...)
}
