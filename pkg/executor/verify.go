package executor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrStillInitializing signals that every pod of a build is still
// initializing: not healthy yet, not diagnosable either. Callers poll again
// later.
var ErrStillInitializing = errors.New("build is still initializing")

// Verify scans a build's pods and returns the first terminal diagnostic, or
// an empty message when nothing is wrong yet. A build whose pods are all in
// image-unpack initialization yields ErrStillInitializing instead of a
// verdict.
func (e *Executor) Verify(ctx context.Context, buildID int64) (string, error) {
	ctx, span := e.tracer.Start(ctx, "executor.verify",
		trace.WithAttributes(attribute.Int64("build.id", buildID)))
	defer span.End()

	pods, err := e.cluster.ListPods(ctx, Selector(e.cfg.Prefix, buildID))
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	allInitializing := len(pods) > 0
	for i := range pods {
		snap := SnapshotOf(&pods[i])
		if out := Classify(snap); out.Kind == OutcomeFail {
			return out.Message, nil
		}
		if !transientReasons[snap.WaitingReason] {
			allInitializing = false
		}
	}

	if allInitializing {
		return "", ErrStillInitializing
	}
	return "", nil
}
