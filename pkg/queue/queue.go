// Package queue hands start requests from the API service to the worker.
// Request bodies live in Redis long enough to be picked up and tracked;
// nothing here is build state, which stays with the build API.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/screwdriver-cd/executor-k8s/pkg/executor"
)

type RequestStatus string

const (
	StatusQueued    RequestStatus = "queued"
	StatusRunning   RequestStatus = "running"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
)

const (
	listKey    = "sdbuild:starts"
	requestTTL = 24 * time.Hour
)

// StartRequest is one queued build-start invocation.
type StartRequest struct {
	Descriptor executor.BuildDescriptor `json:"descriptor"`
	Status     RequestStatus            `json:"status"`
	EnqueuedAt int64                    `json:"enqueuedAt"`
	StartedAt  int64                    `json:"startedAt,omitempty"`
	FinishedAt int64                    `json:"finishedAt,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Queue is a Redis-backed start-request queue.
type Queue struct {
	redis *redis.Client
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client}, nil
}

// Enqueue records a start request and pushes it onto the work list.
func (q *Queue) Enqueue(ctx context.Context, desc executor.BuildDescriptor) error {
	req := StartRequest{
		Descriptor: desc,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().Unix(),
	}
	if err := q.save(ctx, &req); err != nil {
		return err
	}
	return q.redis.RPush(ctx, listKey, desc.BuildID).Err()
}

// Dequeue blocks briefly for the next start request. A nil request with nil
// error means the queue was empty for the whole wait.
func (q *Queue) Dequeue(ctx context.Context) (*StartRequest, error) {
	result, err := q.redis.BLPop(ctx, 5*time.Second, listKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := q.redis.Get(ctx, requestKey(result[1])).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load start request: %w", err)
	}

	var req StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode start request: %w", err)
	}

	req.Status = StatusRunning
	req.StartedAt = time.Now().Unix()
	if err := q.save(ctx, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Complete marks a request finished.
func (q *Queue) Complete(ctx context.Context, buildID int64) error {
	return q.finish(ctx, buildID, StatusCompleted, "")
}

// Fail marks a request failed with a diagnostic.
func (q *Queue) Fail(ctx context.Context, buildID int64, message string) error {
	return q.finish(ctx, buildID, StatusFailed, message)
}

// Get loads the tracked state of one request.
func (q *Queue) Get(ctx context.Context, buildID int64) (*StartRequest, error) {
	data, err := q.redis.Get(ctx, requestKey(fmt.Sprint(buildID))).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("start request not found")
	}
	if err != nil {
		return nil, err
	}
	var req StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.redis.Close()
}

func (q *Queue) finish(ctx context.Context, buildID int64, status RequestStatus, message string) error {
	req, err := q.Get(ctx, buildID)
	if err != nil {
		return err
	}
	req.Status = status
	req.FinishedAt = time.Now().Unix()
	req.Error = message
	return q.save(ctx, req)
}

func (q *Queue) save(ctx context.Context, req *StartRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, requestKey(fmt.Sprint(req.Descriptor.BuildID)), data, requestTTL).Err()
}

func requestKey(buildID string) string {
	return "sdbuild:start:" + buildID
}
