// Package kube talks to the cluster orchestrator's pod API over plain HTTP.
// It carries no scheduling logic of its own; placement is declared on the
// submitted manifest and honored (or not) by the cluster.
package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/screwdriver-cd/executor-k8s/pkg/resilient"
)

// ErrNotFound is returned when the orchestrator reports a missing pod.
var ErrNotFound = errors.New("pod not found")

// PollPolicy bounds a status poll. Decide inspects the decoded pod and
// reports whether another attempt should be made; the budget is enforced by
// the request executor.
type PollPolicy struct {
	Attempts int
	Delay    time.Duration
	Decide   func(pod *corev1.Pod) bool
}

// Client issues pod lifecycle calls against one namespace.
type Client struct {
	base  string
	token string
	exec  *resilient.Client
}

// NewClient builds a pod client for the given cluster host and namespace.
func NewClient(host, namespace, token string, exec *resilient.Client) *Client {
	trimmed := strings.TrimSuffix(host, "/")
	return &Client{
		base:  fmt.Sprintf("%s/api/v1/namespaces/%s/pods", trimmed, namespace),
		token: token,
		exec:  exec,
	}
}

// CreatePod submits a pod manifest and returns the orchestrator-assigned name.
func (c *Client) CreatePod(ctx context.Context, pod *corev1.Pod) (string, error) {
	body, err := json.Marshal(pod)
	if err != nil {
		return "", fmt.Errorf("marshal pod manifest: %w", err)
	}

	resp, err := c.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.decorate(req)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, resilient.Once)
	if err != nil {
		return "", fmt.Errorf("create pod: %w", err)
	}

	if !resp.OK() {
		return "", fmt.Errorf("failed to create pod: %s", strings.TrimSpace(string(resp.Body)))
	}

	var created corev1.Pod
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return "", fmt.Errorf("decode created pod: %w", err)
	}
	if created.Name == "" {
		return "", fmt.Errorf("create pod response missing name")
	}
	return created.Name, nil
}

// PodStatus polls a pod's status endpoint under the given policy and returns
// the last observed pod. Non-200 responses count as retry triggers; a
// non-200 final response is an error carrying the body.
func (c *Client) PodStatus(ctx context.Context, name string, policy PollPolicy) (*corev1.Pod, error) {
	endpoint := fmt.Sprintf("%s/%s/status", c.base, name)

	resp, err := c.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req)
		return req, nil
	}, resilient.Policy{
		Attempts: policy.Attempts,
		Delay:    policy.Delay,
		ShouldRetry: func(status int, body []byte) bool {
			if status != http.StatusOK {
				return true
			}
			var pod corev1.Pod
			if err := json.Unmarshal(body, &pod); err != nil {
				return true
			}
			if policy.Decide == nil {
				return false
			}
			return policy.Decide(&pod)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get pod status: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pod status read failed: %s", strings.TrimSpace(string(resp.Body)))
	}

	var pod corev1.Pod
	if err := json.Unmarshal(resp.Body, &pod); err != nil {
		return nil, fmt.Errorf("decode pod status: %w", err)
	}
	return &pod, nil
}

// ListPods returns every pod matching the label selector. Retried pods mean a
// build can own more than one.
func (c *Client) ListPods(ctx context.Context, selector string) ([]corev1.Pod, error) {
	endpoint := fmt.Sprintf("%s?labelSelector=%s", c.base, url.QueryEscape(selector))

	resp, err := c.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req)
		return req, nil
	}, resilient.Once)
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pod list failed: %s", strings.TrimSpace(string(resp.Body)))
	}

	var list corev1.PodList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode pod list: %w", err)
	}
	return list.Items, nil
}

// DeletePods removes every pod matching the label selector.
func (c *Client) DeletePods(ctx context.Context, selector string) error {
	endpoint := fmt.Sprintf("%s?labelSelector=%s", c.base, url.QueryEscape(selector))

	resp, err := c.exec.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.decorate(req)
		return req, nil
	}, resilient.Once)
	if err != nil {
		return fmt.Errorf("delete pods: %w", err)
	}

	if !resp.OK() {
		return fmt.Errorf("failed to delete pod: %s", strings.TrimSpace(string(resp.Body)))
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}
