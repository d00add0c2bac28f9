// Package dockerd boots and supervises a Docker daemon for CI steps that
// build or run containers. CI jobs usually run inside containers themselves,
// so a docker-in-docker daemon has to be spawned, awaited and torn down
// around the wrapped command. If a daemon is already reachable, the
// bootstrapper leaves it alone.
package dockerd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	dockerclient "github.com/docker/docker/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"

	"github.com/kubermatic/cikit/metrics"
	"github.com/kubermatic/cikit/retry"
	"github.com/kubermatic/cikit/shell"
)

const (
	DefaultBinary        = "dockerd"
	DefaultReadyAttempts = 5
	DefaultReadyDelay    = time.Second
	DefaultStopTimeout   = 30 * time.Second
)

// Client is the slice of the Docker Engine API the bootstrapper needs.
type Client interface {
	Ping(ctx context.Context) (types.Ping, error)
	ServerVersion(ctx context.Context) (types.Version, error)
}

// NewClient builds an SDK client for the given host, falling back to the
// usual DOCKER_HOST handling when host is empty. The concrete client also
// satisfies the wider API slices other packages define.
func NewClient(host string) (*dockerclient.Client, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}
	return dockerclient.NewClientWithOpts(opts...)
}

// Config controls how the daemon is spawned and awaited.
type Config struct {
	// Binary is the daemon executable, resolved via PATH.
	Binary string
	// DataRoot overrides the daemon's image/container storage directory.
	DataRoot string
	// MTU is passed through to the daemon when positive. CI environments
	// with encapsulated networking often need a smaller one.
	MTU int
	// ExtraArgs are appended verbatim to the daemon invocation.
	ExtraArgs []string
	// LogFile receives the daemon's combined output. Defaults to
	// docker.log in the system temp directory.
	LogFile string
	// ReadyAttempts bounds how often the readiness probe runs.
	ReadyAttempts int
	// ReadyDelay is the initial backoff between probes, doubling each time.
	ReadyDelay time.Duration
	// MinVersion rejects daemons older than this semver when set.
	MinVersion string
	// StopTimeout bounds the graceful shutdown before SIGKILL.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.ReadyAttempts <= 0 {
		c.ReadyAttempts = DefaultReadyAttempts
	}
	if c.ReadyDelay <= 0 {
		c.ReadyDelay = DefaultReadyDelay
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Daemon manages a single dockerd child process.
type Daemon struct {
	log    *charmlog.Logger
	cfg    Config
	client Client
	tracer trace.Tracer

	proc    *exec.Cmd
	waitCh  chan error
	logFile *os.File
}

func New(logger *charmlog.Logger, cfg Config, client Client) *Daemon {
	return &Daemon{
		log:    logger,
		cfg:    cfg.withDefaults(),
		client: client,
		tracer: otel.Tracer("dockerd"),
	}
}

// Ping probes the daemon once and records the result.
func (d *Daemon) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := d.client.Ping(ctx)
	metrics.RecordDockerdPing(err == nil, time.Since(start))
	return err
}

// Start spawns the daemon and blocks until it answers pings. When a daemon
// is already reachable no second one is started; Stop then stays a no-op so
// a pre-existing daemon is never killed.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "dockerd start")
	defer span.End()

	if d.Ping(ctx) == nil {
		d.log.Info("docker daemon already running, not starting another")
		return d.checkVersion(ctx)
	}

	logPath := d.cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(os.TempDir(), "docker.log")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening daemon log %s: %w", logPath, err)
	}

	var args []string
	if d.cfg.DataRoot != "" {
		args = append(args, "--data-root", d.cfg.DataRoot)
	}
	if d.cfg.MTU > 0 {
		args = append(args, "--mtu", strconv.Itoa(d.cfg.MTU))
	}
	args = append(args, d.cfg.ExtraArgs...)

	d.log.Info("starting docker daemon", "binary", d.cfg.Binary, "log", logPath)

	cmd := exec.Command(d.cfg.Binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group, so shutdown signals reach containerd shims too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting %s: %w", d.cfg.Binary, err)
	}

	d.proc = cmd
	d.logFile = logFile
	d.waitCh = make(chan error, 1)
	go func() {
		d.waitCh <- cmd.Wait()
	}()

	if err := d.awaitReady(ctx); err != nil {
		if stopErr := d.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			d.log.Error("could not stop unready docker daemon", "error", stopErr)
		}
		return err
	}

	d.log.Info("docker daemon became ready")
	return d.checkVersion(ctx)
}

func (d *Daemon) awaitReady(ctx context.Context) error {
	runner, err := retry.NewRunner(d.log, retry.Policy{
		MaxAttempts:  d.cfg.ReadyAttempts,
		InitialDelay: d.cfg.ReadyDelay,
	}, nil)
	if err != nil {
		return err
	}

	probe := shell.Func("docker ping", func(ctx context.Context) error {
		return d.Ping(ctx)
	})
	outcome, err := runner.Run(ctx, probe)
	if err != nil {
		return err
	}
	if !outcome.Success() {
		return fmt.Errorf("docker daemon not ready after %d attempts", outcome.Attempts)
	}
	return nil
}

func (d *Daemon) checkVersion(ctx context.Context) error {
	if d.cfg.MinVersion == "" {
		return nil
	}

	want := canonicalVersion(d.cfg.MinVersion)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid minimum docker version %q", d.cfg.MinVersion)
	}

	v, err := d.client.ServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading docker server version: %w", err)
	}
	got := canonicalVersion(v.Version)
	if !semver.IsValid(got) {
		return fmt.Errorf("docker daemon reports unparsable version %q", v.Version)
	}
	if semver.Compare(got, want) < 0 {
		return fmt.Errorf("docker daemon version %s is older than required %s", v.Version, d.cfg.MinVersion)
	}

	d.log.Debug("docker daemon version accepted", "version", v.Version, "minimum", d.cfg.MinVersion)
	return nil
}

// Stop terminates a daemon this process started, first gracefully, then
// hard once the timeout passes. Calling it without a prior successful Start
// is a no-op.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.proc == nil {
		return nil
	}
	defer func() {
		d.logFile.Close()
		d.proc = nil
	}()

	pid := d.proc.Process.Pid
	d.log.Info("stopping docker daemon", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signaling docker daemon: %w", err)
	}

	select {
	case <-d.waitCh:
		d.log.Info("docker daemon stopped")
		return nil
	case <-time.After(d.cfg.StopTimeout):
	case <-ctx.Done():
	}

	d.log.Warn("docker daemon did not stop in time, killing it")
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-d.waitCh
	return nil
}

func canonicalVersion(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	return s
}
