package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	return port
}

func TestHealthzHandle(t *testing.T) {
	h := &HealthzServer{log: log.New(io.Discard)}

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthzHandleFailingCheck(t *testing.T) {
	h := &HealthzServer{
		log: log.New(io.Discard),
		check: func(ctx context.Context) error {
			return errors.New("daemon unreachable")
		},
	}

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNHEALTHY")
	assert.Contains(t, rec.Body.String(), "daemon unreachable")
}

func TestRunWithoutEnabledServers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(log.New(io.Discard), Config{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
}

func TestRunServesHealthz(t *testing.T) {
	port := freePort(t)
	cfg := Config{
		Healthz: ServerConfig{Enabled: true, Host: "127.0.0.1", Port: port},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(log.New(io.Discard), cfg, nil)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%s/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
}

func TestServerConfigAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", ServerConfig{}.addr(HealthzHost, HealthzPort))
	assert.Equal(t, "127.0.0.1:9999", ServerConfig{Host: "127.0.0.1", Port: "9999"}.addr(HealthzHost, HealthzPort))
}
