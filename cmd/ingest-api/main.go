// Package main implements the ingest-dispatch HTTP front-end, adapting
// cmd/api's wiring style to the Submission/Fetch API.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/ingest-dispatch/internal/broker"
	"github.com/WessleyAI/ingest-dispatch/internal/ingestapi"
	"github.com/WessleyAI/ingest-dispatch/internal/jobspec"
	"github.com/WessleyAI/ingest-dispatch/internal/tracing"
	"github.com/WessleyAI/ingest-dispatch/pkg/metrics"
	"github.com/WessleyAI/ingest-dispatch/pkg/mid"
)

var met = metrics.New()

var (
	mSubmitsTotal  = met.Counter("ingest_api_submits_total", "Total submit_job calls")
	mSubmitErrors  = met.Counter("ingest_api_submit_errors_total", "Total submit_job failures")
	mFetchesTotal  = met.Counter("ingest_api_fetches_total", "Total fetch_job calls")
	mNotReady      = met.Counter("ingest_api_fetch_not_ready_total", "fetch_job calls for a pending result")
	mSubmitLatency = met.Histogram("ingest_api_submit_duration_seconds", "submit_job round-trip latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	BrokerHost  string
	BrokerPort  string
	CORSOrigin  string
	DefaultTTL  time.Duration
	OTelService string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8090"),
		BrokerHost:  envOr("BROKER_HOST", "localhost"),
		BrokerPort:  envOr("BROKER_PORT", "4222"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		DefaultTTL:  30 * time.Second,
		OTelService: envOr("OTEL_SERVICE_NAME", "ingest-dispatch-api"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exporter, err := tracing.NewExporter(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("building OTLP exporter: %w", err)
	}
	if exporter != nil {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Shutdown(shutCtx); err != nil {
				logger.Warn("shutting down OTLP exporter", "err", err)
			}
		}()
	}

	brokerClient := broker.NewClient(broker.Options{Host: cfg.BrokerHost, Port: cfg.BrokerPort})
	svc := ingestapi.NewService(brokerClient, exporter)
	factory := jobspec.NewTaskFactory()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("POST /api/v1/submit", handleSubmit(svc, factory, cfg.DefaultTTL, logger))
	mux.HandleFunc("GET /api/v1/jobs/{id}", handleFetch(svc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel(cfg.OTelService),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingest-api starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// submitRequest is the thin front-end convenience described in §4.5: build
// a JobSpec with default tasks from an uploaded document. Not part of the
// core's tested surface.
type submitRequest struct {
	SourceID     string `json:"source_id"`
	SourceName   string `json:"source_name"`
	DocumentType string `json:"document_type"`
	Content      string `json:"content"` // base64
}

func handleSubmit(svc ingestapi.Service, factory *jobspec.TaskFactory, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mSubmitsTotal.Inc()
		start := time.Now()
		defer mSubmitLatency.Since(start)

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		payload, err := decodeBase64(req.Content)
		if err != nil {
			http.Error(w, `{"error":"content must be base64"}`, http.StatusBadRequest)
			return
		}

		extractTask, err := factory.Extract(jobspec.ExtractOptions{
			DocumentType: jobspec.DocumentType(req.DocumentType),
			ExtractText:  true,
		})
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		job, err := jobspec.New(jobspec.NewJobSpecOptions{
			DocumentType: jobspec.DocumentType(req.DocumentType),
			Payload:      payload,
			SourceID:     req.SourceID,
			SourceName:   req.SourceName,
			Tasks:        []jobspec.Task{extractTask},
		})
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		jobID, err := svc.SubmitJob(r.Context(), job, ttl)
		if err != nil {
			mSubmitErrors.Inc()
			logger.Error("submit job", "err", err)
			http.Error(w, `{"error":"submission failed"}`, http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
	}
}

func handleFetch(svc ingestapi.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mFetchesTotal.Inc()
		id := r.PathValue("id")
		result, err := svc.FetchJob(id)
		if err != nil {
			if err == ingestapi.ErrNotReady {
				mNotReady.Inc()
				w.WriteHeader(http.StatusAccepted)
				json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
				return
			}
			logger.Error("fetch job", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
