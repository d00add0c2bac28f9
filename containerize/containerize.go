// Package containerize re-runs a CI step inside a container. Scripts invoke
// the same entrypoint on bare CI hosts and inside build images; when no
// container marker is found, the command is executed in the configured
// image with the working directory bind-mounted at the same path, so
// relative paths keep working.
package containerize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kubermatic/cikit/shell"
	"github.com/kubermatic/cikit/traps"
)

const dockerSockPath = "/var/run/docker.sock"

// Engine is the slice of the Docker Engine API the wrapper needs. It is
// satisfied by *client.Client.
type Engine interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Config describes the containerized execution environment.
type Config struct {
	// Image runs the wrapped command. Required.
	Image string
	// Env entries ("KEY=VALUE") are set inside the container.
	Env []string
	// EnvPassthrough names variables copied from the current environment
	// when they are set.
	EnvPassthrough []string
	// MountDockerSock bind-mounts the host's Docker socket, for steps that
	// build images themselves.
	MountDockerSock bool
	// WorkDir is bind-mounted and used as the container working directory.
	// Defaults to the current working directory.
	WorkDir string
	// Streams carries the wrapped command's standard streams.
	Streams shell.Streams
}

// Runner executes commands inside containers, or directly when the process
// already runs in one.
type Runner struct {
	log    *charmlog.Logger
	cfg    Config
	engine Engine
	traps  *traps.Manager
	tracer trace.Tracer

	// markers are the files whose presence indicates an existing container.
	markers []string
}

// NewRunner wires a runner. The trap manager may be nil; container cleanup
// then only happens when Run returns normally.
func NewRunner(logger *charmlog.Logger, cfg Config, engine Engine, trapMgr *traps.Manager) (*Runner, error) {
	if cfg.Image == "" {
		return nil, errors.New("a container image must be configured")
	}
	return &Runner{
		log:     logger,
		cfg:     cfg,
		engine:  engine,
		traps:   trapMgr,
		tracer:  otel.Tracer("containerize"),
		markers: []string{"/.dockerenv", "/run/.containerenv"},
	}, nil
}

// Run executes argv and returns its exit code, shell.Command style.
func (r *Runner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return shell.ExitNotStarted, errors.New("no command given")
	}

	if r.inContainer() {
		r.log.Debug("already inside a container, running command directly")
		cmd := shell.Exec(argv[0], argv[1:]...)
		cmd.Streams = r.cfg.Streams
		return cmd.Run(ctx)
	}

	return r.runContained(ctx, argv)
}

func (r *Runner) inContainer() bool {
	for _, marker := range r.markers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}

func (r *Runner) runContained(ctx context.Context, argv []string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "containerize run")
	defer span.End()

	if err := r.ensureImage(ctx); err != nil {
		return shell.ExitNotStarted, err
	}

	workDir := r.cfg.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return shell.ExitNotStarted, fmt.Errorf("determining working directory: %w", err)
		}
		workDir = wd
	}

	env := append([]string(nil), r.cfg.Env...)
	for _, name := range r.cfg.EnvPassthrough {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: workDir, Target: workDir},
	}
	if r.cfg.MountDockerSock {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: dockerSockPath, Target: dockerSockPath})
	}

	created, err := r.engine.ContainerCreate(ctx, &container.Config{
		Image:        r.cfg.Image,
		Cmd:          argv,
		WorkingDir:   workDir,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, "")
	if err != nil {
		return shell.ExitNotStarted, fmt.Errorf("creating container: %w", err)
	}

	id := created.ID
	r.log.Info("created container", "id", shortID(id), "image", r.cfg.Image)

	remove := sync.OnceFunc(func() { r.removeContainer(id) })
	if r.traps != nil {
		r.traps.OnExit("remove container "+shortID(id), remove)
	}
	defer remove()

	attach, err := r.engine.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return shell.ExitNotStarted, fmt.Errorf("attaching to container: %w", err)
	}
	defer attach.Close()

	streams := r.cfg.Streams.OrDefaults()
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(streams.Out, streams.Err, attach.Reader)
		copyDone <- err
	}()

	// Register the wait before starting, so a fast-exiting container
	// cannot slip through unobserved.
	waitCh, waitErrCh := r.engine.ContainerWait(ctx, id, container.WaitConditionNextExit)

	if err := r.engine.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return shell.ExitNotStarted, fmt.Errorf("starting container: %w", err)
	}

	select {
	case status := <-waitCh:
		if copyErr := <-copyDone; copyErr != nil && !errors.Is(copyErr, io.EOF) {
			r.log.Debug("container output stream ended uncleanly", "error", copyErr)
		}
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("waiting for container: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-waitErrCh:
		return shell.ExitNotStarted, fmt.Errorf("waiting for container: %w", err)
	case <-ctx.Done():
		return shell.ExitNotStarted, ctx.Err()
	}
}

func (r *Runner) ensureImage(ctx context.Context) error {
	images, err := r.engine.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", r.cfg.Image)),
	})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	r.log.Info("pulling image", "image", r.cfg.Image)
	progress, err := r.engine.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", r.cfg.Image, err)
	}
	defer progress.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, progress); err != nil {
		return fmt.Errorf("reading pull progress: %w", err)
	}
	return nil
}

func (r *Runner) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := r.engine.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		r.log.Warn("could not remove container", "id", shortID(id), "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
