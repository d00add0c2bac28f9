package cikit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubermatic/cikit/retry"
	"github.com/kubermatic/cikit/shell"
)

func newTestApp(t *testing.T, testName, artifactsDir string) *App {
	t.Helper()
	return New(&Config{
		TestName:     testName,
		ArtifactsDir: artifactsDir,
		Log:          log.New(io.Discard),
	}, nil)
}

func TestRetryReportsFailureWithOutputTail(t *testing.T) {
	artifacts := t.TempDir()
	app := newTestApp(t, "App Test", artifacts)

	var out, errOut bytes.Buffer
	err := app.Retry(context.Background(), RetryOptions{
		Policy:  retry.Policy{MaxAttempts: 1},
		Argv:    []string{"sh", "-c", "echo flaky output; exit 3"},
		Streams: shell.Streams{Out: &out, Err: &errOut},
	})

	require.Error(t, err)
	assert.True(t, IsCommandFailureError(err))
	assert.Equal(t, 3, CommandExitCode(err))

	// The command's output still reached the caller.
	assert.Equal(t, "flaky output\n", out.String())

	// And its tail ended up in the report.
	report, readErr := os.ReadFile(filepath.Join(artifacts, "junit.app_test.xml"))
	require.NoError(t, readErr)
	assert.Contains(t, string(report), `failures="1"`)
	assert.Contains(t, string(report), "Step failed")
	assert.Contains(t, string(report), "flaky output")
}

func TestRetrySucceeds(t *testing.T) {
	artifacts := t.TempDir()
	app := newTestApp(t, "Green Step", artifacts)

	err := app.Retry(context.Background(), RetryOptions{
		Policy:  retry.Policy{MaxAttempts: 3},
		Argv:    []string{"true"},
		Streams: shell.Streams{Out: io.Discard, Err: io.Discard},
	})
	require.NoError(t, err)

	report, readErr := os.ReadFile(filepath.Join(artifacts, "junit.green_step.xml"))
	require.NoError(t, readErr)
	assert.Contains(t, string(report), `failures="0"`)
}

func TestRetryShellMode(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.Retry(context.Background(), RetryOptions{
		Policy:   retry.Policy{MaxAttempts: 1},
		UseShell: true,
		Argv:     []string{"exit 4"},
		Streams:  shell.Streams{Out: io.Discard, Err: io.Discard},
	})

	require.Error(t, err)
	assert.Equal(t, 4, CommandExitCode(err))
}

func TestRetryCommandNotFound(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.Retry(context.Background(), RetryOptions{
		Policy:  retry.Policy{MaxAttempts: 1},
		Argv:    []string{"/nonexistent/cikit-test-binary"},
		Streams: shell.Streams{Out: io.Discard, Err: io.Discard},
	})

	require.Error(t, err)
	assert.Equal(t, shell.ExitNotStarted, CommandExitCode(err))
}

func TestRetryWithoutCommand(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.Retry(context.Background(), RetryOptions{Policy: retry.Policy{MaxAttempts: 1}})
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestRetryRendersSummary(t *testing.T) {
	app := newTestApp(t, "Summary Step", t.TempDir())

	var out bytes.Buffer
	err := app.Retry(context.Background(), RetryOptions{
		Policy:      retry.Policy{MaxAttempts: 1},
		ShowSummary: true,
		Argv:        []string{"true"},
		Streams:     shell.Streams{Out: &out, Err: io.Discard},
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Summary Step")
	assert.Contains(t, out.String(), "TOTAL")
}

func TestJUnitWrite(t *testing.T) {
	artifacts := t.TempDir()
	app := newTestApp(t, "Deploy Cluster", artifacts)

	require.NoError(t, app.JUnitWrite(0, 42*time.Second))

	report, err := os.ReadFile(filepath.Join(artifacts, "junit.deploy_cluster.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(report), `time="42"`)
}

func TestJUnitWriteWithoutContextIsNoop(t *testing.T) {
	artifacts := t.TempDir()
	app := newTestApp(t, "", artifacts)

	require.NoError(t, app.JUnitWrite(1, time.Second))

	entries, err := os.ReadDir(artifacts)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJUnitSummary(t *testing.T) {
	artifacts := t.TempDir()
	app := newTestApp(t, "Failing Step", artifacts)
	require.NoError(t, app.JUnitWrite(7, time.Second))

	var out bytes.Buffer
	err := app.JUnitSummary(context.Background(), &out, 2)

	require.Error(t, err)
	assert.Equal(t, 1, CommandExitCode(err))
	assert.Contains(t, out.String(), "failing_step")
}

func TestJUnitSummaryRequiresArtifactsDir(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.JUnitSummary(context.Background(), io.Discard, 2)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestB64RoundTripThroughApp(t *testing.T) {
	app := newTestApp(t, "", "")

	var encoded bytes.Buffer
	require.NoError(t, app.B64Encode(nil, &encoded, "foo"))
	assert.Equal(t, "Zm9v\n", encoded.String())

	var decoded bytes.Buffer
	require.NoError(t, app.B64Decode(nil, &decoded, "Zm9vYg"))
	assert.Equal(t, "foob", decoded.String())
}

func TestB64DecodeRejectsGarbage(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.B64Decode(nil, io.Discard, "!!!")
	require.Error(t, err)
	assert.False(t, IsRuntimeError(err))
}

func newLabelServer(t *testing.T, labels []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type label struct {
			Name string `json:"name"`
		}
		response := make([]label, 0, len(labels))
		for _, name := range labels {
			response = append(response, label{Name: name})
		}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPRHasLabel(t *testing.T) {
	srv := newLabelServer(t, []string{"lgtm", "approved"})
	app := newTestApp(t, "", "")

	opts := PRLabelOptions{
		BaseURL: srv.URL,
		Repo:    "kubermatic/kubermatic",
		Number:  1234,
		Label:   "lgtm",
	}
	require.NoError(t, app.PRHasLabel(context.Background(), opts))

	opts.Label = "do-not-merge"
	err := app.PRHasLabel(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, 1, CommandExitCode(err))
}

func TestPRHasLabelQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	app := newTestApp(t, "", "")
	err := app.PRHasLabel(context.Background(), PRLabelOptions{
		BaseURL: srv.URL,
		Repo:    "kubermatic/kubermatic",
		Number:  1234,
		Label:   "lgtm",
	})

	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestPRHasLabelRejectsBadRepo(t *testing.T) {
	app := newTestApp(t, "", "")

	err := app.PRHasLabel(context.Background(), PRLabelOptions{Repo: "not-a-repo"})
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}
