package resilient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Response is a fully-drained HTTP response. Bodies are read eagerly so a
// policy predicate can inspect them and so callers never hold connections.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Policy bounds the retry loop for one logical call. ShouldRetry inspects a
// drained response and decides whether another attempt is worth it; a nil
// ShouldRetry accepts the first response.
type Policy struct {
	Attempts    int
	Delay       time.Duration
	ShouldRetry func(status int, body []byte) bool
}

// Once is the single-attempt policy used for create and delete calls.
var Once = Policy{Attempts: 1}

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Client issues HTTP calls with bounded retries and a shared circuit breaker.
// The breaker is the only state shared across concurrent callers; once the
// remote API is judged unhealthy every call fails fast until it resets.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Response]
	logger     Logger
}

// Options tunes breaker and transport behavior.
type Options struct {
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	InsecureTLS      bool
}

// NewClient builds a resilient client with a fresh breaker.
func NewClient(name string, opts Options, logger Logger) *Client {
	transport := http.DefaultTransport
	if opts.InsecureTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	threshold := opts.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		breaker: gobreaker.NewCircuitBreaker[*Response](settings),
		logger:  logger,
	}
}

// Do runs one logical call under the given policy. The request is rebuilt per
// attempt so bodies can be replayed. Transport failures back off
// exponentially and consume attempts from the same budget as predicate
// retries; the last drained response is returned once the budget runs out.
func (c *Client) Do(ctx context.Context, build func(context.Context) (*http.Request, error), policy Policy) (*Response, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	var (
		resp    *Response
		lastErr error
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, lastErr = c.roundTrip(req)
		if lastErr != nil {
			if errors.Is(lastErr, gobreaker.ErrOpenState) || errors.Is(lastErr, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("circuit open: %w", lastErr)
			}
			c.logger.Warn("request attempt failed", "attempt", attempt, "error", lastErr)
			if attempt < attempts {
				if err := sleep(ctx, bo.NextBackOff()); err != nil {
					return nil, err
				}
			}
			continue
		}

		if policy.ShouldRetry == nil || !policy.ShouldRetry(resp.StatusCode, resp.Body) {
			return resp, nil
		}
		if attempt < attempts {
			if err := sleep(ctx, policy.Delay); err != nil {
				return nil, err
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("attempts exhausted: %w", lastErr)
	}
	return resp, nil
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	return c.breaker.Execute(func() (*Response, error) {
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
