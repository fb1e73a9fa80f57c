package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/screwdriver-cd/executor-k8s/pkg/buildapi"
	"github.com/screwdriver-cd/executor-k8s/pkg/config"
	"github.com/screwdriver-cd/executor-k8s/pkg/executor"
	"github.com/screwdriver-cd/executor-k8s/pkg/kube"
	"github.com/screwdriver-cd/executor-k8s/pkg/queue"
	"github.com/screwdriver-cd/executor-k8s/pkg/resilient"
	"github.com/screwdriver-cd/executor-k8s/pkg/telemetry"
)

type worker struct {
	cfg      config.ExecutorConfig
	exec     *executor.Executor
	queue    *queue.Queue
	reporter *buildapi.Client
	logger   *slog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "sd-executor-worker")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	token, err := os.ReadFile(cfg.Kube.TokenPath)
	if err != nil {
		log.Fatalf("read cluster token: %v", err)
	}
	manifest, err := os.ReadFile(cfg.TemplatePath)
	if err != nil {
		log.Fatalf("read pod template: %v", err)
	}

	opts := resilient.Options{
		Timeout:          cfg.RequestTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		InsecureTLS:      cfg.Kube.InsecureTLS,
	}
	cluster := kube.NewClient(cfg.Kube.Host, cfg.Kube.Namespace,
		strings.TrimSpace(string(token)), resilient.NewClient("kube", opts, logger))
	reporter := buildapi.NewClient(cfg.BuildAPIURL, resilient.NewClient("buildapi", opts, logger))

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("queue close error: %v", err)
		}
	}()

	specs := executor.NewSpecBuilder(cfg, string(manifest), logger)
	w := &worker{
		cfg:      cfg,
		exec:     executor.New(cfg, specs, cluster, reporter, logger),
		queue:    q,
		reporter: reporter,
		logger:   logger,
	}

	log.Println("executor worker started")
	w.run(ctx)
	log.Println("executor worker stopped")
}

func (w *worker) run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}
		if req == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		w.process(ctx, req.Descriptor)
	}
}

func (w *worker) process(ctx context.Context, desc executor.BuildDescriptor) {
	stillPending, err := w.exec.Start(ctx, desc)
	if err != nil {
		w.finishFailed(ctx, desc, err.Error())
		return
	}
	if !stillPending {
		w.finishOK(ctx, desc.BuildID)
		return
	}

	// The pod outlived the ready-wait budget still pending. Keep verifying
	// until it either comes up, produces a diagnostic, or the budget runs out.
	for attempt := 0; attempt < w.cfg.VerifyAttempts; attempt++ {
		if err := sleepCtx(ctx, w.cfg.VerifyDelay); err != nil {
			return
		}
		message, err := w.exec.Verify(ctx, desc.BuildID)
		if errors.Is(err, executor.ErrStillInitializing) {
			continue
		}
		if err != nil {
			w.finishFailed(ctx, desc, err.Error())
			return
		}
		if message != "" {
			w.report(ctx, desc, message)
			w.finishFailed(ctx, desc, message)
			return
		}
		w.finishOK(ctx, desc.BuildID)
		return
	}
	w.finishFailed(ctx, desc, "build did not leave the pending state")
}

func (w *worker) finishOK(ctx context.Context, buildID int64) {
	if err := w.queue.Complete(ctx, buildID); err != nil {
		w.logger.Error("mark request complete failed", "buildId", buildID, "error", err)
	}
}

func (w *worker) finishFailed(ctx context.Context, desc executor.BuildDescriptor, message string) {
	w.logger.Error("build start failed", "buildId", desc.BuildID, "reason", message)
	if err := w.queue.Fail(ctx, desc.BuildID, message); err != nil {
		w.logger.Error("mark request failed failed", "buildId", desc.BuildID, "error", err)
	}
}

func (w *worker) report(ctx context.Context, desc executor.BuildDescriptor, message string) {
	update := buildapi.Update{StatusMessage: message}
	if err := w.reporter.UpdateBuild(ctx, desc.BuildID, desc.Token, update); err != nil {
		w.logger.Error("build status report failed", "buildId", desc.BuildID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
