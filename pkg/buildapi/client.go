// Package buildapi is a thin pass-through to the build-coordination API.
package buildapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/screwdriver-cd/executor-k8s/pkg/resilient"
)

// Stats captures where and when a build started pulling its image.
type Stats struct {
	Hostname           string    `json:"hostname,omitempty"`
	ImagePullStartTime time.Time `json:"imagePullStartTime,omitempty"`
}

// Update is one build status mutation. Both fields are optional and
// independent.
type Update struct {
	StatusMessage string `json:"statusMessage,omitempty"`
	Stats         *Stats `json:"stats,omitempty"`
}

// Client issues build updates with per-build bearer tokens.
type Client struct {
	base string
	exec *resilient.Client
}

// NewClient builds a reporter against the given API base URL.
func NewClient(base string, exec *resilient.Client) *Client {
	return &Client{base: strings.TrimSuffix(base, "/"), exec: exec}
}

// UpdateBuild PUTs the given update for one build. The token is scoped to
// that build and supplied by the caller per invocation.
func (c *Client) UpdateBuild(ctx context.Context, buildID int64, token string, update Update) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal build update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v4/builds/%d", c.base, buildID)
	resp, err := c.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, resilient.Once)
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}

	if !resp.OK() {
		return fmt.Errorf("build update failed: %s", strings.TrimSpace(string(resp.Body)))
	}
	return nil
}
