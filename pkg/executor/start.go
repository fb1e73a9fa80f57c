package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/screwdriver-cd/executor-k8s/pkg/buildapi"
	"github.com/screwdriver-cd/executor-k8s/pkg/kube"
)

// Start drives one build workload through submit, schedule wait, interim
// report, and readiness wait. The returned flag is true when the workload is
// still pending at return time, so the caller can schedule verification
// passes. Any fatal classification aborts the sequence.
func (e *Executor) Start(ctx context.Context, desc BuildDescriptor) (stillPending bool, err error) {
	ctx, span := e.tracer.Start(ctx, "executor.start",
		trace.WithAttributes(attribute.Int64("build.id", desc.BuildID)))
	defer span.End()

	var (
		state   State
		podName string
		snap    Snapshot
	)

	for {
		switch state {
		case StateSubmitting:
			pod, buildErr := e.specs.Build(desc)
			if buildErr != nil {
				return false, e.fail(span, state, buildErr)
			}
			podName, err = e.cluster.CreatePod(ctx, pod)
			if err != nil {
				return false, e.fail(span, state, err)
			}
			e.logger.Info("pod submitted", "buildId", desc.BuildID, "pod", podName)
			state = StateAwaitingSchedule

		case StateAwaitingSchedule:
			pod, pollErr := e.cluster.PodStatus(ctx, podName, kube.PollPolicy{
				Attempts: e.cfg.ScheduleAttempts,
				Delay:    e.cfg.ScheduleDelay,
				Decide:   scheduleRetry,
			})
			if pollErr != nil {
				return false, e.fail(span, state, pollErr)
			}
			snap = SnapshotOf(pod)
			if out := Classify(snap); out.Kind == OutcomeFail {
				return false, e.fail(span, state, errors.New(out.Message))
			}
			state = StateReportingInterim

		case StateReportingInterim:
			e.reportInterim(ctx, desc, snap)
			if err := sleepCtx(ctx, e.cfg.InterPhaseDelay); err != nil {
				return false, e.fail(span, state, err)
			}
			state = StateAwaitingReady

		case StateAwaitingReady:
			pod, pollErr := e.cluster.PodStatus(ctx, podName, kube.PollPolicy{
				Attempts: e.cfg.ReadyAttempts,
				Delay:    e.cfg.ReadyDelay,
				Decide:   readyRetry,
			})
			if pollErr != nil {
				return false, e.fail(span, state, pollErr)
			}
			snap = SnapshotOf(pod)
			out := Classify(snap)
			if out.Kind == OutcomeFail {
				return false, e.fail(span, state, errors.New(out.Message))
			}
			stillPending = out.Kind == OutcomeWait
			state = StateDone

		case StateDone:
			e.logger.Info("build started", "buildId", desc.BuildID, "pod", podName,
				"node", snap.NodeName, "stillPending", stillPending)
			return stillPending, nil
		}
	}
}

// reportInterim tells the build API where the build landed, or that it is
// still waiting for capacity. Reporting is best-effort telemetry: a failure
// here never aborts the start flow.
func (e *Executor) reportInterim(ctx context.Context, desc BuildDescriptor, snap Snapshot) {
	update := buildapi.Update{StatusMessage: MsgWaitResources}
	if snap.NodeName != "" {
		update = buildapi.Update{
			Stats: &buildapi.Stats{
				Hostname:           snap.NodeName,
				ImagePullStartTime: time.Now().UTC(),
			},
		}
	}
	if err := e.reporter.UpdateBuild(ctx, desc.BuildID, desc.Token, update); err != nil {
		e.logger.Error("build status report failed", "buildId", desc.BuildID, "error", err)
	}
}

func (e *Executor) fail(span trace.Span, state State, err error) error {
	wrapped := fmt.Errorf("start %s: %w", state, err)
	span.RecordError(wrapped)
	e.logger.Error("build start failed", "state", state.String(), "error", err)
	return wrapped
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
