package executor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stop tears down every pod belonging to one build. Deleting by label
// selector makes the call idempotent: whichever pod generation currently
// exists is removed, and a build with no pods is a no-op.
func (e *Executor) Stop(ctx context.Context, buildID int64) error {
	ctx, span := e.tracer.Start(ctx, "executor.stop",
		trace.WithAttributes(attribute.Int64("build.id", buildID)))
	defer span.End()

	selector := Selector(e.cfg.Prefix, buildID)
	if err := e.cluster.DeletePods(ctx, selector); err != nil {
		span.RecordError(err)
		return err
	}
	e.logger.Info("build pods deleted", "buildId", buildID, "selector", selector)
	return nil
}
