package main

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"facloc/internal/api"
	"facloc/internal/metrics"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "facloc-api").Logger()

	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init server")
	}

	mux := http.NewServeMux()

	// Datasets
	mux.HandleFunc("/v1/datasets", srvDeps.DatasetsHandler)
	mux.HandleFunc("/v1/datasets/", srvDeps.DatasetByIDHandler) // includes /nodes, /events/stream

	// Optimization
	mux.HandleFunc("/v1/solve", srvDeps.SolveHandler)
	mux.HandleFunc("/v1/solves", srvDeps.SolvesIndexHandler)
	mux.HandleFunc("/v1/solves/", srvDeps.SolveByIDHandler) // includes /trace, /geojson, /trace/ws
	mux.HandleFunc("/v1/solver/config", srvDeps.SolverConfigHandler)
	mux.HandleFunc("/v1/admin/solver/config", srvDeps.AdminSolverConfigHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

	// Health
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/debugz", srvDeps.DebugJSON)

	// Admin
	mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", srvDeps.WebhookDLQHandler)
	mux.HandleFunc("/v1/admin/webhook-metrics", srvDeps.WebhookMetricsHandler)
	mux.HandleFunc("/v1/admin/solve-metrics", srvDeps.SolveMetricsHandler)
	mux.HandleFunc("/v1/admin/solve-stats", srvDeps.SolveStatsHandler)

	// Docs
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", srvDeps.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)

	// Metrics
	metrics.RegisterDefault()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	handler := api.RateLimit(api.Instrument(api.RequestLogger(log, mux)))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("API listening")
	// Start webhook worker
	if srvDeps.Pub != nil {
		worker := srvDeps.NewWebhookWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
