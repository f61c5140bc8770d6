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
	"github.com/mwhitmore/docuvault/internal/core/usecase"
	"github.com/mwhitmore/docuvault/internal/observability/logging"
	"github.com/mwhitmore/docuvault/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docuvault-scanworker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	m := metrics.NewWorkerMetrics("docuvault-scanworker")
	go serveMetrics(cfg.WorkerMetricsPort, m, logger)

	scanUC := usecase.NewAntivirusScanUseCase(app.Store,
		metrics.InstrumentScanner(m, "docuvault-scanworker", app.Scanner))

	logger.Info("scan worker started")
	sub := subscriber.NewScanSubscriber(app.Queue, scanUC, m, logger)
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scan worker subscribe failed", "error", err)
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
	logger.Info("scan worker metrics listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
