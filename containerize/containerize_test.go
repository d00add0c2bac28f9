package containerize

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubermatic/cikit/shell"
	"github.com/kubermatic/cikit/traps"
)

const fakeContainerID = "0123456789abcdef"

type fakeEngine struct {
	mu sync.Mutex

	images   []image.Summary
	exitCode int64
	output   string

	pulled      []string
	createdCfg  *container.Config
	createdHost *container.HostConfig
	started     []string
	removed     []string
}

func (f *fakeEngine) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeEngine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, refStr)
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdCfg = config
	f.createdHost = hostConfig
	return container.CreateResponse{ID: fakeContainerID}, nil
}

func (f *fakeEngine) ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	fmt.Fprint(w, f.output)

	conn, other := net.Pipe()
	other.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeEngine) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	return waitCh, make(chan error, 1)
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func newTestRunner(t *testing.T, cfg Config, engine Engine, trapMgr *traps.Manager) *Runner {
	t.Helper()
	r, err := NewRunner(log.New(io.Discard), cfg, engine, trapMgr)
	require.NoError(t, err)
	// Default markers refer to the real filesystem; point them somewhere
	// controlled so tests behave the same in and out of containers.
	r.markers = []string{filepath.Join(t.TempDir(), "absent-marker")}
	return r
}

func TestRunnerRequiresImage(t *testing.T) {
	_, err := NewRunner(log.New(io.Discard), Config{}, &fakeEngine{}, nil)
	require.Error(t, err)
}

func TestRunDirectlyInsideContainer(t *testing.T) {
	marker := filepath.Join(t.TempDir(), ".dockerenv")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	fake := &fakeEngine{}
	r := newTestRunner(t, Config{Image: "alpine:3.20"}, fake, nil)
	r.markers = []string{marker}

	code, err := r.Run(context.Background(), []string{"sh", "-c", "exit 5"})
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	assert.Empty(t, fake.pulled)
	assert.Nil(t, fake.createdCfg, "no container may be created when already inside one")
}

func TestRunInContainer(t *testing.T) {
	fake := &fakeEngine{
		images:   []image.Summary{{ID: "sha256:abc"}},
		exitCode: 7,
		output:   "hello from container\n",
	}

	workDir := t.TempDir()
	t.Setenv("CIKIT_TEST_PASSTHROUGH", "42")

	var out, errOut bytes.Buffer
	r := newTestRunner(t, Config{
		Image:           "quay.io/kubermatic/build:v1",
		Env:             []string{"FOO=bar"},
		EnvPassthrough:  []string{"CIKIT_TEST_PASSTHROUGH", "CIKIT_TEST_UNSET"},
		MountDockerSock: true,
		WorkDir:         workDir,
		Streams:         shell.Streams{Out: &out, Err: &errOut},
	}, fake, nil)

	code, err := r.Run(context.Background(), []string{"make", "test"})
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	require.NotNil(t, fake.createdCfg)
	assert.Equal(t, []string{"make", "test"}, []string(fake.createdCfg.Cmd))
	assert.Equal(t, "quay.io/kubermatic/build:v1", fake.createdCfg.Image)
	assert.Equal(t, workDir, fake.createdCfg.WorkingDir)
	assert.Contains(t, fake.createdCfg.Env, "FOO=bar")
	assert.Contains(t, fake.createdCfg.Env, "CIKIT_TEST_PASSTHROUGH=42")
	assert.NotContains(t, strings.Join(fake.createdCfg.Env, " "), "CIKIT_TEST_UNSET")

	require.NotNil(t, fake.createdHost)
	require.Len(t, fake.createdHost.Mounts, 2)
	assert.Equal(t, workDir, fake.createdHost.Mounts[0].Source)
	assert.Equal(t, workDir, fake.createdHost.Mounts[0].Target)
	assert.Equal(t, "/var/run/docker.sock", fake.createdHost.Mounts[1].Source)

	assert.Equal(t, "hello from container\n", out.String())
	assert.Empty(t, errOut.String())

	assert.Equal(t, []string{fakeContainerID}, fake.started)
	assert.Equal(t, []string{fakeContainerID}, fake.removed, "container must be removed after the run")
	assert.Empty(t, fake.pulled, "image was present, no pull expected")
}

func TestRunPullsMissingImage(t *testing.T) {
	fake := &fakeEngine{output: ""}
	r := newTestRunner(t, Config{Image: "alpine:3.20", WorkDir: t.TempDir()}, fake, nil)

	code, err := r.Run(context.Background(), []string{"true"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"alpine:3.20"}, fake.pulled)
}

func TestRunRemovesContainerOnceWithTrapManager(t *testing.T) {
	fake := &fakeEngine{images: []image.Summary{{ID: "sha256:abc"}}}
	mgr := traps.NewManager(log.New(io.Discard))
	r := newTestRunner(t, Config{Image: "alpine:3.20", WorkDir: t.TempDir()}, fake, mgr)

	_, err := r.Run(context.Background(), []string{"true"})
	require.NoError(t, err)
	assert.Equal(t, []string{fakeContainerID}, fake.removed)
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	r := newTestRunner(t, Config{Image: "alpine:3.20"}, &fakeEngine{}, nil)

	code, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, shell.ExitNotStarted, code)
}
