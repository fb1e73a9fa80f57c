package resilient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getRequest(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoRetriesOnPredicate(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}))
	defer server.Close()

	c := NewClient("test", Options{}, testLogger())
	resp, err := c.Do(context.Background(), getRequest(server.URL), Policy{
		Attempts:    5,
		ShouldRetry: func(status int, body []byte) bool { return status != http.StatusOK },
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "ready" {
		t.Fatalf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}

func TestDoReturnsLastResponseWhenExhausted(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("still pending"))
	}))
	defer server.Close()

	c := NewClient("test", Options{}, testLogger())
	resp, err := c.Do(context.Background(), getRequest(server.URL), Policy{
		Attempts:    3,
		ShouldRetry: func(status int, body []byte) bool { return true },
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want full budget of 3", hits)
	}
	if string(resp.Body) != "still pending" {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestDoSingleAttemptByDefault(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient("test", Options{}, testLogger())
	resp, err := c.Do(context.Background(), getRequest(server.URL), Once)
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
	if resp.OK() {
		t.Fatalf("500 response must not be OK")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // every call is now a transport failure

	c := NewClient("test", Options{BreakerThreshold: 2, BreakerCooldown: time.Minute}, testLogger())
	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), getRequest(server.URL), Once); err == nil {
			t.Fatalf("expected transport failure")
		}
	}

	_, err := c.Do(context.Background(), getRequest(server.URL), Once)
	if err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("err = %v, want circuit open", err)
	}
}
