// Package github is a minimal GitHub REST client covering the queries CI
// scripts need. Only the fields cikit reads are mapped.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
)

// ghLabel is a GitHub issue/PR label.
type ghLabel struct {
	Name string `json:"name"`
}

// Client talks to the GitHub REST API.
type Client struct {
	log     *log.Logger
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client. An empty baseURL selects the public API; an
// empty token sends unauthenticated requests, which are heavily
// rate-limited by GitHub.
func NewClient(logger *log.Logger, baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		log:     logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SplitRepo splits an "owner/name" repository reference.
func SplitRepo(ref string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(ref, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", ref)
	}
	return owner, repo, nil
}

// PullLabels returns the label names attached to a pull request. Pull
// requests are issues in the GitHub API, so the issues endpoint serves
// both.
func (c *Client) PullLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels?per_page=100", c.baseURL, owner, repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("querying pull request labels", "repo", owner+"/"+repo, "number", number)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("github api returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var labels []ghLabel
	if err := json.NewDecoder(resp.Body).Decode(&labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names, nil
}

// HasLabel reports whether the pull request carries the given label.
func (c *Client) HasLabel(ctx context.Context, owner, repo string, number int, label string) (bool, error) {
	labels, err := c.PullLabels(ctx, owner, repo, number)
	if err != nil {
		return false, err
	}
	return slices.Contains(labels, label), nil
}
