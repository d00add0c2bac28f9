// Package cikit glues the toolbox together: it wires wrapped commands,
// retry policies, JUnit reporting, metrics and trap handlers into the
// operations the CLI exposes. The packages underneath know nothing about
// each other; everything CI-workflow-specific lives here.
package cikit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/kubermatic/cikit/b64"
	"github.com/kubermatic/cikit/containerize"
	"github.com/kubermatic/cikit/dockerd"
	"github.com/kubermatic/cikit/github"
	"github.com/kubermatic/cikit/junit"
	"github.com/kubermatic/cikit/metrics"
	"github.com/kubermatic/cikit/retry"
	"github.com/kubermatic/cikit/service"
	"github.com/kubermatic/cikit/shell"
	"github.com/kubermatic/cikit/traps"
)

// App executes the cikit operations. One App serves one CLI invocation.
type App struct {
	cfg   *Config
	log   *charmlog.Logger
	traps *traps.Manager
}

// New creates an App. The trap manager may be nil; exit-time cleanup is
// then skipped.
func New(cfg *Config, trapMgr *traps.Manager) *App {
	return &App{
		cfg:   cfg,
		log:   cfg.Log,
		traps: trapMgr,
	}
}

// tailSink completes results with the buffered output tail before handing
// them to the configured report writer.
type tailSink struct {
	next junit.Sink
	tail *shell.TailBuffer
}

func (s *tailSink) Write(result junit.Result) error {
	result.Output = s.tail.String()
	return s.next.Write(result)
}

// RetryOptions parameterizes a retried command run.
type RetryOptions struct {
	Policy      retry.Policy
	UseShell    bool
	ShowSummary bool
	Argv        []string
	Streams     shell.Streams
}

// Retry runs the command under the retry policy, reports the outcome to
// the configured JUnit writer and returns a CommandFailureError carrying
// the final exit code when the command never succeeded.
func (a *App) Retry(ctx context.Context, opts RetryOptions) error {
	if len(opts.Argv) == 0 {
		return NewRuntimeError(errors.New("no command to retry given"))
	}

	tail := shell.NewTailBuffer(0)
	streams := opts.Streams.OrDefaults()
	wired := shell.Streams{
		In:  streams.In,
		Out: io.MultiWriter(streams.Out, tail),
		Err: io.MultiWriter(streams.Err, tail),
	}

	cmd := buildCommand(opts.Argv, opts.UseShell, wired)

	writer := a.cfg.JUnitWriter()
	runner, err := retry.NewRunner(a.log, opts.Policy, &tailSink{next: writer, tail: tail})
	if err != nil {
		return NewRuntimeError(err)
	}

	outcome, runErr := runner.Run(ctx, cmd)

	result := metrics.ResultPass
	if !outcome.Success() {
		result = metrics.ResultFail
	}
	metrics.RecordRetry(result, outcome.Attempts, outcome.Elapsed)

	if opts.ShowSummary {
		a.renderRunSummary(streams.Out, writer, outcome)
	}

	if runErr != nil {
		return NewRuntimeError(runErr)
	}
	if !outcome.Success() {
		return NewCommandFailureError(cmd.String(), outcome.ExitCode)
	}
	return nil
}

func buildCommand(argv []string, useShell bool, streams shell.Streams) shell.Command {
	if useShell {
		script := shell.Script(strings.Join(argv, " "))
		script.Streams = streams
		return script
	}
	cmd := shell.Exec(argv[0], argv[1:]...)
	cmd.Streams = streams
	return cmd
}

func (a *App) renderRunSummary(out io.Writer, writer *junit.Writer, outcome retry.Outcome) {
	name := a.cfg.TestName
	if name == "" {
		name = "step"
	}
	file := "-"
	if writer.Enabled() {
		file = junit.Filename(a.cfg.TestName)
	}
	failures := 0
	if !outcome.Success() {
		failures = 1
	}
	junit.RenderTable(out, []junit.SuiteSummary{{
		File:     file,
		Name:     name,
		Tests:    1,
		Failures: failures,
		Errors:   failures,
		Time:     int(outcome.Elapsed.Seconds()),
	}})
}

// JUnitWrite reports a step result through the configured writer. Without
// test name and artifacts directory this stays a silent no-op.
func (a *App) JUnitWrite(exitCode int, duration time.Duration) error {
	writer := a.cfg.JUnitWriter()
	if err := writer.Write(junit.Result{ExitCode: exitCode, Duration: duration}); err != nil {
		return NewRuntimeError(fmt.Errorf("writing junit report: %w", err))
	}
	return nil
}

// JUnitSummary renders a table over every report in the artifacts
// directory and fails when any of them recorded a failure.
func (a *App) JUnitSummary(ctx context.Context, out io.Writer, maxParallel int) error {
	dir := a.cfg.ArtifactsDir
	if dir == "" {
		return NewRuntimeError(errors.New("an artifacts directory is required for the summary"))
	}

	summaries, err := junit.Scan(ctx, dir, maxParallel)
	if err != nil {
		return NewRuntimeError(err)
	}
	if len(summaries) == 0 {
		a.log.Warn("no junit reports found", "dir", dir)
		return nil
	}

	if allPassed := junit.RenderTable(out, summaries); !allPassed {
		return NewCommandFailureError("junit summary", 1)
	}
	return nil
}

// DockerdOptions parameterizes the daemon bootstrap.
type DockerdOptions struct {
	Dockerd dockerd.Config
	// ConfigFile selects the YAML config for the standalone daemon mode.
	ConfigFile string
	UseShell   bool
	// Argv is the command run once the daemon is ready. Empty argv selects
	// the standalone daemon mode.
	Argv    []string
	Streams shell.Streams
}

// Dockerd boots a Docker daemon and either wraps a command or keeps
// serving healthz/metrics until interrupted.
func (a *App) Dockerd(ctx context.Context, opts DockerdOptions) error {
	client, err := dockerd.NewClient("")
	if err != nil {
		return NewRuntimeError(fmt.Errorf("creating docker client: %w", err))
	}

	daemon := dockerd.New(a.log, opts.Dockerd, client)
	if err := daemon.Start(ctx); err != nil {
		return NewRuntimeError(fmt.Errorf("starting docker daemon: %w", err))
	}
	if a.traps != nil {
		a.traps.OnExit("stop docker daemon", func() {
			if err := daemon.Stop(context.Background()); err != nil {
				a.log.Error("could not stop docker daemon", "error", err)
			}
		})
	}

	if len(opts.Argv) == 0 {
		return a.runDaemonMode(ctx, opts.ConfigFile, client, daemon)
	}

	cmd := buildCommand(opts.Argv, opts.UseShell, opts.Streams.OrDefaults())
	code, err := cmd.Run(ctx)
	if err != nil {
		a.log.Error("command did not run", "command", cmd.String(), "error", err)
	}
	if code != 0 {
		return NewCommandFailureError(cmd.String(), code)
	}
	return nil
}

func (a *App) runDaemonMode(ctx context.Context, configFile string, client dockerd.Client, daemon *dockerd.Daemon) error {
	cfg := DefaultDaemonConfig()
	if configFile != "" {
		loaded, err := NewDaemonConfig(configFile)
		if err != nil {
			return NewRuntimeError(err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return NewRuntimeError(fmt.Errorf("invalid daemon config: %w", err))
	}

	var pusher *metrics.Pusher
	if cfg.Pushgateway.Enabled {
		pusher = metrics.NewPusher(a.log, cfg.Pushgateway.Gateway, cfg.Pushgateway.Job, cfg.Pushgateway.Instance)
		if a.traps != nil {
			a.traps.OnExit("delete pushgateway group", func() {
				if err := pusher.Delete(); err != nil {
					a.log.Warn("could not delete pushgateway group", "error", err)
				}
			})
		}
	}

	if cfg.Heartbeat.Enabled {
		var handler func(bool, time.Duration)
		if pusher != nil {
			handler = func(ready bool, latency time.Duration) {
				pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				value := 0.0
				if ready {
					value = 1.0
				}
				if err := pusher.Push(pushCtx, "cikit_dockerd_up", value, nil); err != nil {
					a.log.Warn("could not push liveness gauge", "error", err)
				}
			}
		}
		worker := dockerd.NewHeartbeatWorker(a.log, client, dockerd.HeartbeatSpec{
			Period:  cfg.Heartbeat.Period,
			Timeout: cfg.Heartbeat.Timeout,
		}, handler)
		worker.Start()
		defer worker.Stop()
	}

	svc := service.New(a.log, service.Config{
		Healthz: service.ServerConfig{Enabled: cfg.Healthz.Enabled, Host: cfg.Healthz.Host, Port: cfg.Healthz.Port},
		Metrics: service.ServerConfig{Enabled: cfg.Metrics.Enabled, Host: cfg.Metrics.Host, Port: cfg.Metrics.Port},
	}, daemon.Ping)

	if err := svc.Run(ctx); err != nil {
		return NewRuntimeError(err)
	}
	return nil
}

// ContainerizeOptions parameterizes a containerized re-run.
type ContainerizeOptions struct {
	Config containerize.Config
	Argv   []string
}

// Containerize re-runs the command inside the configured image, or
// directly when this process already runs in a container.
func (a *App) Containerize(ctx context.Context, opts ContainerizeOptions) error {
	engine, err := dockerd.NewClient("")
	if err != nil {
		return NewRuntimeError(fmt.Errorf("creating docker client: %w", err))
	}

	runner, err := containerize.NewRunner(a.log, opts.Config, engine, a.traps)
	if err != nil {
		return NewRuntimeError(err)
	}

	code, err := runner.Run(ctx, opts.Argv)
	if err != nil {
		a.log.Error("containerized command did not run", "error", err)
	}
	if code != 0 {
		return NewCommandFailureError(strings.Join(opts.Argv, " "), code)
	}
	return nil
}

// PushOptions parameterizes a one-shot metric push.
type PushOptions struct {
	Gateway      string
	Job          string
	Instance     string
	Name         string
	Value        float64
	Labels       map[string]string
	DeleteOnExit bool
}

// Push sends a single gauge value to the Pushgateway.
func (a *App) Push(ctx context.Context, opts PushOptions) error {
	pusher := metrics.NewPusher(a.log, opts.Gateway, opts.Job, opts.Instance)
	if opts.DeleteOnExit && a.traps != nil {
		a.traps.OnExit("delete pushgateway group", func() {
			if err := pusher.Delete(); err != nil {
				a.log.Warn("could not delete pushgateway group", "error", err)
			}
		})
	}

	if err := pusher.Push(ctx, opts.Name, opts.Value, opts.Labels); err != nil {
		return fmt.Errorf("pushing metric %s: %w", opts.Name, err)
	}
	return nil
}

// PRLabelOptions parameterizes a pull request label check.
type PRLabelOptions struct {
	BaseURL string
	Token   string
	Repo    string
	Number  int
	Label   string
}

// PRHasLabel exits cleanly when the label is present, with a command
// failure when it is absent and with a runtime error when the query
// itself fails, so callers can distinguish the three cases.
func (a *App) PRHasLabel(ctx context.Context, opts PRLabelOptions) error {
	owner, name, err := github.SplitRepo(opts.Repo)
	if err != nil {
		return NewRuntimeError(err)
	}

	client := github.NewClient(a.log, opts.BaseURL, opts.Token)
	hasLabel, err := client.HasLabel(ctx, owner, name, opts.Number, opts.Label)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("querying pull request labels: %w", err))
	}
	if !hasLabel {
		a.log.Info("label not present", "repo", opts.Repo, "number", opts.Number, "label", opts.Label)
		return NewCommandFailureError(fmt.Sprintf("pr has-label %s", opts.Label), 1)
	}

	a.log.Info("label present", "repo", opts.Repo, "number", opts.Number, "label", opts.Label)
	return nil
}

// B64Encode encodes the input without line wrapping.
func (a *App) B64Encode(in io.Reader, out io.Writer, input string) error {
	data, err := readInput(in, input)
	if err != nil {
		return NewRuntimeError(err)
	}
	if _, err := fmt.Fprintln(out, b64.Encode(data)); err != nil {
		return NewRuntimeError(err)
	}
	return nil
}

// B64Decode decodes the input, tolerating whitespace and missing padding.
func (a *App) B64Decode(in io.Reader, out io.Writer, input string) error {
	data, err := readInput(in, input)
	if err != nil {
		return NewRuntimeError(err)
	}
	decoded, err := b64.Decode(string(data))
	if err != nil {
		return err
	}
	if _, err := out.Write(decoded); err != nil {
		return NewRuntimeError(err)
	}
	return nil
}

func readInput(in io.Reader, input string) ([]byte, error) {
	if input != "" {
		return []byte(input), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return data, nil
}
