package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	cikit "github.com/kubermatic/cikit"
	"github.com/kubermatic/cikit/containerize"
	"github.com/kubermatic/cikit/dockerd"
	"github.com/kubermatic/cikit/exitcodes"
	"github.com/kubermatic/cikit/flags"
	"github.com/kubermatic/cikit/retry"
	"github.com/kubermatic/cikit/traps"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "cikit",
	})

	trapMgr := traps.NewManager(logger)
	// Route every exit through the trap manager so EXIT handlers
	// (daemon shutdown, pushgateway cleanup) always run.
	cli.OsExiter = trapMgr.Exit

	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "cikit"
	app.Usage = "Kubermatic CI toolbox"
	app.Description = "cikit wraps CI steps with retries, JUnit reporting, Docker daemon bootstrap and metric pushing"
	app.Flags = flags.Flags
	app.Commands = commands(logger, trapMgr)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if cikit.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if code := cikit.CommandExitCode(err); code > 0 {
				// Mirror the wrapped command's own exit code.
				cli.HandleExitCoder(cli.Exit(err.Error(), code))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.CommandFailure))
			}
		}
	}

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		logger.Warn("failed to set up OpenTelemetry", "error", err)
	} else {
		trapMgr.OnExit("shutdown telemetry", otelShutdown)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		// The ExitErrHandler terminates the process for action errors;
		// anything surfacing here slipped past it.
		logger.Error("application failed", "error", err)
		trapMgr.Exit(exitcodes.CommandFailure)
	}
	trapMgr.Exit(exitcodes.Success)
}

func commands(logger *charmlog.Logger, trapMgr *traps.Manager) []*cli.Command {
	build := func(cliCtx *cli.Context) (*cikit.App, *cikit.Config, error) {
		cfg, err := cikit.NewConfig(cliCtx, logger)
		if err != nil {
			return nil, nil, cikit.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}
		applyLogLevel(logger, cfg.LogLevel)
		logger.Debug("config", "test_name", cfg.TestName, "artifacts_dir", cfg.ArtifactsDir, "class_name", cfg.ClassName)
		return cikit.New(cfg, trapMgr), cfg, nil
	}

	return []*cli.Command{
		{
			Name:      "retry",
			Usage:     "Run a command, retrying with exponential backoff",
			ArgsUsage: "-- command [args...]",
			Flags:     []cli.Flag{flags.Retries, flags.InitialDelay, flags.MaxDelay, flags.Shell, flags.Summary},
			Action: func(cliCtx *cli.Context) error {
				app, _, err := build(cliCtx)
				if err != nil {
					return err
				}
				return app.Retry(cliCtx.Context, cikit.RetryOptions{
					Policy: retry.Policy{
						MaxAttempts:  cliCtx.Int(flags.Retries.Name),
						InitialDelay: cliCtx.Duration(flags.InitialDelay.Name),
						MaxDelay:     cliCtx.Duration(flags.MaxDelay.Name),
					},
					UseShell:    cliCtx.Bool(flags.Shell.Name),
					ShowSummary: cliCtx.Bool(flags.Summary.Name),
					Argv:        cliCtx.Args().Slice(),
				})
			},
		},
		{
			Name:  "junit",
			Usage: "Write and summarize JUnit report files",
			Subcommands: []*cli.Command{
				{
					Name:  "write",
					Usage: "Write a single-case report for a finished step",
					Flags: []cli.Flag{flags.ExitCode, flags.Duration},
					Action: func(cliCtx *cli.Context) error {
						app, _, err := build(cliCtx)
						if err != nil {
							return err
						}
						return app.JUnitWrite(cliCtx.Int(flags.ExitCode.Name), cliCtx.Duration(flags.Duration.Name))
					},
				},
				{
					Name:  "summary",
					Usage: "Render a table over every report in the artifacts directory",
					Flags: []cli.Flag{flags.ScanParallelism},
					Action: func(cliCtx *cli.Context) error {
						app, _, err := build(cliCtx)
						if err != nil {
							return err
						}
						return app.JUnitSummary(cliCtx.Context, os.Stdout, cliCtx.Int(flags.ScanParallelism.Name))
					},
				},
			},
		},
		{
			Name:      "dockerd",
			Usage:     "Boot a Docker daemon, then run a command or keep serving healthz/metrics",
			ArgsUsage: "[-- command [args...]]",
			Flags: []cli.Flag{
				flags.DockerdBinary, flags.DockerdDataRoot, flags.DockerdMTU, flags.DockerdLogFile,
				flags.ReadyAttempts, flags.ReadyDelay, flags.MinVersion, flags.StopTimeout,
				flags.DaemonConfigFile, flags.Shell,
			},
			Action: func(cliCtx *cli.Context) error {
				app, cfg, err := build(cliCtx)
				if err != nil {
					return err
				}

				logFile := cliCtx.String(flags.DockerdLogFile.Name)
				if logFile == "" && cfg.ArtifactsDir != "" {
					logFile = filepath.Join(cfg.ArtifactsDir, "docker.log")
				}

				return app.Dockerd(cliCtx.Context, cikit.DockerdOptions{
					Dockerd: dockerd.Config{
						Binary:        cliCtx.String(flags.DockerdBinary.Name),
						DataRoot:      cliCtx.String(flags.DockerdDataRoot.Name),
						MTU:           cliCtx.Int(flags.DockerdMTU.Name),
						LogFile:       logFile,
						ReadyAttempts: cliCtx.Int(flags.ReadyAttempts.Name),
						ReadyDelay:    cliCtx.Duration(flags.ReadyDelay.Name),
						MinVersion:    cliCtx.String(flags.MinVersion.Name),
						StopTimeout:   cliCtx.Duration(flags.StopTimeout.Name),
					},
					ConfigFile: cliCtx.String(flags.DaemonConfigFile.Name),
					UseShell:   cliCtx.Bool(flags.Shell.Name),
					Argv:       cliCtx.Args().Slice(),
				})
			},
		},
		{
			Name:      "containerize",
			Usage:     "Re-run the command inside a container image",
			ArgsUsage: "-- command [args...]",
			Flags:     []cli.Flag{flags.Image, flags.Env, flags.EnvPassthrough, flags.MountDockerSock},
			Action: func(cliCtx *cli.Context) error {
				app, _, err := build(cliCtx)
				if err != nil {
					return err
				}
				return app.Containerize(cliCtx.Context, cikit.ContainerizeOptions{
					Config: containerize.Config{
						Image:           cliCtx.String(flags.Image.Name),
						Env:             cliCtx.StringSlice(flags.Env.Name),
						EnvPassthrough:  cliCtx.StringSlice(flags.EnvPassthrough.Name),
						MountDockerSock: cliCtx.Bool(flags.MountDockerSock.Name),
					},
					Argv: cliCtx.Args().Slice(),
				})
			},
		},
		{
			Name:      "push",
			Usage:     "Push a gauge value to the Prometheus Pushgateway",
			ArgsUsage: "NAME VALUE",
			Flags:     []cli.Flag{flags.Gateway, flags.Job, flags.Instance, flags.DeleteOnExit},
			Action: func(cliCtx *cli.Context) error {
				app, _, err := build(cliCtx)
				if err != nil {
					return err
				}

				args := cliCtx.Args()
				if args.Len() != 2 {
					return cikit.NewRuntimeError(errors.New("expected exactly two arguments: NAME VALUE"))
				}
				value, err := strconv.ParseFloat(args.Get(1), 64)
				if err != nil {
					return cikit.NewRuntimeError(fmt.Errorf("invalid metric value %q: %w", args.Get(1), err))
				}

				return app.Push(cliCtx.Context, cikit.PushOptions{
					Gateway:      cliCtx.String(flags.Gateway.Name),
					Job:          cliCtx.String(flags.Job.Name),
					Instance:     cliCtx.String(flags.Instance.Name),
					Name:         args.Get(0),
					Value:        value,
					DeleteOnExit: cliCtx.Bool(flags.DeleteOnExit.Name),
				})
			},
		},
		{
			Name:  "pr",
			Usage: "Query the pull request this CI job runs for",
			Subcommands: []*cli.Command{
				{
					Name:  "has-label",
					Usage: "Exit 0 when the label is present, 1 when absent, 2 on query errors",
					Flags: []cli.Flag{flags.Repo, flags.PRNumber, flags.Label, flags.GithubToken, flags.GithubBaseURL},
					Action: func(cliCtx *cli.Context) error {
						app, _, err := build(cliCtx)
						if err != nil {
							return err
						}
						return app.PRHasLabel(cliCtx.Context, cikit.PRLabelOptions{
							BaseURL: cliCtx.String(flags.GithubBaseURL.Name),
							Token:   cliCtx.String(flags.GithubToken.Name),
							Repo:    cliCtx.String(flags.Repo.Name),
							Number:  cliCtx.Int(flags.PRNumber.Name),
							Label:   cliCtx.String(flags.Label.Name),
						})
					},
				},
			},
		},
		{
			Name:  "b64",
			Usage: "Base64 helpers behaving the same on every CI host",
			Subcommands: []*cli.Command{
				{
					Name:      "encode",
					Usage:     "Encode the argument or stdin without line wrapping",
					ArgsUsage: "[INPUT]",
					Action: func(cliCtx *cli.Context) error {
						app, _, err := build(cliCtx)
						if err != nil {
							return err
						}
						return app.B64Encode(os.Stdin, os.Stdout, cliCtx.Args().First())
					},
				},
				{
					Name:      "decode",
					Usage:     "Decode the argument or stdin, tolerating whitespace and missing padding",
					ArgsUsage: "[INPUT]",
					Action: func(cliCtx *cli.Context) error {
						app, _, err := build(cliCtx)
						if err != nil {
							return err
						}
						return app.B64Decode(os.Stdin, os.Stdout, cliCtx.Args().First())
					},
				},
			},
		},
	}
}

func applyLogLevel(logger *charmlog.Logger, level string) {
	parsed, err := charmlog.ParseLevel(level)
	if err != nil {
		logger.Warn("unknown log level, staying on info", "level", level)
		return
	}
	logger.SetLevel(parsed)
}
