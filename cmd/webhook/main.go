package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"estate-assistant/handler"
	"estate-assistant/internal/app"
	"estate-assistant/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	params, err := app.NewParamStore(awsCfg)
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	app.ApplyOverrides(ctx, &cfg, params)

	queue, err := app.NewSQSQueue(awsCfg, cfg)
	if err != nil {
		slog.Error("failed to create job queue", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(cfg, awsCfg, params, queue, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewWebhookHandler(a.Assistant, a.Metrics)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
