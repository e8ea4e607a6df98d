// Command estatectl inspects and repairs owner pipelines from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"estate-assistant/internal/app"
	"estate-assistant/internal/config"
	"estate-assistant/internal/domain"
	"estate-assistant/internal/integrations/httpqueue"
	"estate-assistant/internal/usecase"
)

func main() {
	root := newRootCmd(openBackend)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// appBackend adapts the wired services to the commands.
type appBackend struct {
	diag *usecase.Diagnostics
	orch *usecase.Orchestrator
}

func (b appBackend) OwnerForChannel(ctx context.Context, channelID string) (string, error) {
	return b.diag.OwnerForChannel(ctx, channelID)
}

func (b appBackend) Report(ctx context.Context, ownerID string) (usecase.OwnerReport, error) {
	return b.diag.Report(ctx, ownerID)
}

func (b appBackend) History(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error) {
	return b.diag.History(ctx, ownerID, stage, limit)
}

func (b appBackend) Regenerate(ctx context.Context, ownerID, channelID string) error {
	return b.orch.Regenerate(ctx, ownerID, channelID)
}

// openBackend wires the services from the environment. Jobs go to SQS when
// every queue URL is set and to WORKER_BASE_URL otherwise.
func openBackend(ctx context.Context) (backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}
	params, err := app.NewParamStore(awsCfg)
	if err != nil {
		return nil, nil, err
	}
	app.ApplyOverrides(ctx, &cfg, params)

	var (
		queue   usecase.JobQueue
		cleanup = func() {}
	)
	if cfg.RequireQueueURLs() == nil {
		if queue, err = app.NewSQSQueue(awsCfg, cfg); err != nil {
			return nil, nil, err
		}
	} else {
		hq, err := httpqueue.New(cfg.WorkerBaseURL)
		if err != nil {
			return nil, nil, err
		}
		queue = hq
		cleanup = func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := hq.Close(drainCtx); err != nil {
				fmt.Fprintln(os.Stderr, "warning: pending jobs not delivered:", err)
			}
		}
	}

	a, err := app.Build(cfg, awsCfg, params, queue, prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	return appBackend{diag: a.Diagnostics, orch: a.Orchestrator}, cleanup, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
