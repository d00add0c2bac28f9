package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLabelServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var got http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = *r
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := SplitRepo("kubermatic/kubermatic")
	require.NoError(t, err)
	assert.Equal(t, "kubermatic", owner)
	assert.Equal(t, "kubermatic", repo)

	for _, ref := range []string{"", "kubermatic", "/repo", "owner/"} {
		_, _, err := SplitRepo(ref)
		assert.Error(t, err, "ref %q", ref)
	}
}

func TestPullLabels(t *testing.T) {
	srv, got := newLabelServer(t, http.StatusOK, `[{"name":"lgtm"},{"name":"approved"},{"name":"size/XL"}]`)

	c := NewClient(log.New(io.Discard), srv.URL, "token123")
	labels, err := c.PullLabels(context.Background(), "kubermatic", "kubermatic", 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"lgtm", "approved", "size/XL"}, labels)

	assert.Equal(t, "/repos/kubermatic/kubermatic/issues/42/labels", got.URL.Path)
	assert.Equal(t, "Bearer token123", got.Header.Get("Authorization"))
	assert.Equal(t, "application/vnd.github+json", got.Header.Get("Accept"))
}

func TestPullLabelsWithoutToken(t *testing.T) {
	srv, got := newLabelServer(t, http.StatusOK, `[]`)

	c := NewClient(log.New(io.Discard), srv.URL, "")
	_, err := c.PullLabels(context.Background(), "o", "r", 1)
	require.NoError(t, err)
	assert.Empty(t, got.Header.Get("Authorization"))
}

func TestPullLabelsNotFound(t *testing.T) {
	srv, _ := newLabelServer(t, http.StatusNotFound, `{"message":"Not Found"}`)

	c := NewClient(log.New(io.Discard), srv.URL, "")
	_, err := c.PullLabels(context.Background(), "o", "r", 9999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHasLabel(t *testing.T) {
	srv, _ := newLabelServer(t, http.StatusOK, `[{"name":"lgtm"},{"name":"approved"}]`)
	c := NewClient(log.New(io.Discard), srv.URL, "")

	has, err := c.HasLabel(context.Background(), "o", "r", 1, "lgtm")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = c.HasLabel(context.Background(), "o", "r", 1, "do-not-merge")
	require.NoError(t, err)
	assert.False(t, has)
}
