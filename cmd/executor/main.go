package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/screwdriver-cd/executor-k8s/pkg/buildapi"
	"github.com/screwdriver-cd/executor-k8s/pkg/config"
	"github.com/screwdriver-cd/executor-k8s/pkg/executor"
	"github.com/screwdriver-cd/executor-k8s/pkg/kube"
	"github.com/screwdriver-cd/executor-k8s/pkg/queue"
	"github.com/screwdriver-cd/executor-k8s/pkg/resilient"
	"github.com/screwdriver-cd/executor-k8s/pkg/telemetry"
)

type server struct {
	exec  *executor.Executor
	queue *queue.Queue
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "sd-executor")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	exec, err := buildExecutor(cfg, logger)
	if err != nil {
		log.Fatalf("executor init failed: %v", err)
	}

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("queue close error: %v", err)
		}
	}()

	srv := &server{exec: exec, queue: q}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", healthzHandler)
	router.Route("/v1", func(r chi.Router) {
		r.Post("/builds", srv.handleStart)
		r.Route("/builds/{buildID}", func(r chi.Router) {
			r.Delete("/", srv.handleStop)
			r.Get("/verify", srv.handleVerify)
			r.Get("/request", srv.handleGetRequest)
		})
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("executor shutdown error: %v", err)
		}
	}()

	log.Printf("executor service listening on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("executor listen failed: %v", err)
	}

	<-ctx.Done()
	log.Println("executor stopped")
}

// buildExecutor assembles the executor from configuration: cluster token,
// manifest template, resilient clients, and the core.
func buildExecutor(cfg config.ExecutorConfig, logger *slog.Logger) (*executor.Executor, error) {
	token, err := os.ReadFile(cfg.Kube.TokenPath)
	if err != nil {
		return nil, err
	}

	manifest, err := os.ReadFile(cfg.TemplatePath)
	if err != nil {
		return nil, err
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

	specs := executor.NewSpecBuilder(cfg, string(manifest), logger)
	return executor.New(cfg, specs, cluster, reporter, logger), nil
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var desc executor.BuildDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if desc.BuildID == 0 || desc.Container == "" || desc.Token == "" {
		respondError(w, http.StatusBadRequest, "buildId, container, and token are required")
		return
	}

	if err := s.queue.Enqueue(r.Context(), desc); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"status": queue.StatusQueued, "buildId": desc.BuildID}, http.StatusAccepted)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	buildID, ok := buildIDParam(w, r)
	if !ok {
		return
	}
	if err := s.exec.Stop(r.Context(), buildID); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	buildID, ok := buildIDParam(w, r)
	if !ok {
		return
	}
	message, err := s.exec.Verify(r.Context(), buildID)
	if err != nil {
		if errors.Is(err, executor.ErrStillInitializing) {
			respondJSON(w, map[string]string{"status": "initializing"}, http.StatusAccepted)
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]string{"message": message}, http.StatusOK)
}

func (s *server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	buildID, ok := buildIDParam(w, r)
	if !ok {
		return
	}
	req, err := s.queue.Get(r.Context(), buildID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, map[string]any{"request": req}, http.StatusOK)
}

func buildIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "buildID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid build id")
		return 0, false
	}
	return id, true
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
