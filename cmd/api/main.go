package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/mwhitmore/docuvault/internal/adapters/http"
	"github.com/mwhitmore/docuvault/internal/bootstrap"
	"github.com/mwhitmore/docuvault/internal/config"
	"github.com/mwhitmore/docuvault/internal/observability/logging"
	"github.com/mwhitmore/docuvault/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docuvault-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	m := metrics.NewHTTPServerMetrics("docuvault-api")
	router := httpadapter.NewRouter(
		app.UploadUC, app.ProcessingUC, app.StatusUC, app.Store, app.Repo, m,
		httpadapter.RouterOptions{
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			MaxInFlight:    cfg.MaxInFlight,
			InFlightWait:   time.Duration(cfg.InFlightWaitMillis) * time.Millisecond,
			MaxUploadBytes: int64(cfg.MaxUploadBytes),
		},
	)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}
}
