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

// The worker consumes all three job queues. It needs the queue URLs because a
// completed basic step enqueues the personalized job.
func main() {
	ctx := context.Background()

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

	h, err := handler.NewWorkerHandler(a.Workers)
	if err != nil {
		slog.Error("failed to create worker handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.HandleSQS)
}
