package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	corev1 "k8s.io/api/core/v1"

	"github.com/screwdriver-cd/executor-k8s/pkg/buildapi"
	"github.com/screwdriver-cd/executor-k8s/pkg/config"
	"github.com/screwdriver-cd/executor-k8s/pkg/kube"
)

// Cluster is the pod API surface the executor drives.
type Cluster interface {
	CreatePod(ctx context.Context, pod *corev1.Pod) (string, error)
	PodStatus(ctx context.Context, name string, policy kube.PollPolicy) (*corev1.Pod, error)
	ListPods(ctx context.Context, selector string) ([]corev1.Pod, error)
	DeletePods(ctx context.Context, selector string) error
}

// Reporter pushes build progress to the build-coordination API.
type Reporter interface {
	UpdateBuild(ctx context.Context, buildID int64, token string, update buildapi.Update) error
}

// Executor owns the start, stop, and verify entry points. Invocations are
// independent; the only state shared between them lives in the request
// executor's circuit breaker.
type Executor struct {
	cfg      config.ExecutorConfig
	specs    *SpecBuilder
	cluster  Cluster
	reporter Reporter
	logger   Logger
	tracer   trace.Tracer
}

// New wires an executor from its collaborators.
func New(cfg config.ExecutorConfig, specs *SpecBuilder, cluster Cluster, reporter Reporter, logger Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		specs:    specs,
		cluster:  cluster,
		reporter: reporter,
		logger:   logger,
		tracer:   otel.Tracer("executor"),
	}
}

// State names one phase of the start protocol.
type State int

const (
	StateSubmitting State = iota
	StateAwaitingSchedule
	StateReportingInterim
	StateAwaitingReady
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateAwaitingSchedule:
		return "awaiting-schedule"
	case StateReportingInterim:
		return "reporting-interim"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
