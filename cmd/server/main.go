package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"estate-assistant/handler"
	"estate-assistant/internal/app"
	"estate-assistant/internal/config"
	"estate-assistant/internal/httpapi"
	"estate-assistant/internal/integrations/httpqueue"
)

// The server runs webhook and workers in one process. Jobs are posted back to
// WORKER_BASE_URL instead of SQS.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	params, err := app.NewParamStore(awsCfg)
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	app.ApplyOverrides(ctx, &cfg, params)

	queue, err := httpqueue.New(cfg.WorkerBaseURL)
	if err != nil {
		slog.Error("failed to create job queue", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(cfg, awsCfg, params, queue, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	webhook, err := handler.NewWebhookHandler(a.Assistant, a.Metrics)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	workers, err := handler.NewWorkerHandler(a.Workers)
	if err != nil {
		slog.Error("failed to create worker handler", "err", err)
		os.Exit(1)
	}
	api, err := httpapi.New(webhook, workers, prometheus.DefaultGatherer)
	if err != nil {
		slog.Error("failed to create http api", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.BindAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		slog.Error("queue drain", "err", err)
	}
}
