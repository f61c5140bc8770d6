package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwhitmore/docuvault/internal/adapters/subscriber"
	"github.com/mwhitmore/docuvault/internal/bootstrap"
	"github.com/mwhitmore/docuvault/internal/config"
	"github.com/mwhitmore/docuvault/internal/observability/logging"
	"github.com/mwhitmore/docuvault/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docuvault-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	m := metrics.NewWorkerMetrics("docuvault-worker")
	go serveMetrics(cfg.WorkerMetricsPort, m, logger)

	// Requests that exhaust their redeliveries are parked on the dead-letter
	// subject for operator inspection.
	if app.NATS != nil {
		go func() {
			if err := app.NATS.RunDeadLetterForwarder(ctx); err != nil && ctx.Err() == nil {
				logger.Error("dead-letter forwarder failed", "error", err)
				stop()
			}
		}()
	}

	logger.Info("processing worker started")
	sub := subscriber.NewProcessingSubscriber(app.Queue, app.ProcessingUC, m, logger)
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(port string, m *metrics.WorkerMetrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	server := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	logger.Info("worker metrics listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
