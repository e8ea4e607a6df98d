// Package app assembles the object graph shared by every entry point.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"estate-assistant/internal/config"
	"estate-assistant/internal/integrations/line"
	"estate-assistant/internal/integrations/openai"
	"estate-assistant/internal/integrations/paramstore"
	"estate-assistant/internal/integrations/sqsqueue"
	"estate-assistant/internal/observability"
	"estate-assistant/internal/repository"
	"estate-assistant/internal/usecase"
)

// App holds the wired services. Fields are read-only after Build.
type App struct {
	Config  config.Config
	Store   *repository.Client
	Params  *paramstore.Client
	Metrics *observability.Metrics

	Flow         *usecase.FlowManager
	Steps        *usecase.StepTracker
	Orchestrator *usecase.Orchestrator
	Gate         *usecase.PlanGate
	Limiter      *usecase.RateLimiter
	Assistant    *usecase.Assistant
	Ask          *usecase.AskService
	Workers      *usecase.Workers
	Diagnostics  *usecase.Diagnostics
}

// NewParamStore returns the SSM-backed parameter client.
func NewParamStore(awsCfg aws.Config) (*paramstore.Client, error) {
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

// NewSQSQueue returns a JobQueue that sends jobs to the configured SQS queues.
func NewSQSQueue(awsCfg aws.Config, cfg config.Config) (*sqsqueue.Queue, error) {
	if err := cfg.RequireQueueURLs(); err != nil {
		return nil, err
	}
	return sqsqueue.New(awssqs.NewFromConfig(awsCfg), cfg.QueueURLs)
}

// ApplyOverrides overlays runtime tunables from the parameter store. Failures
// are logged and the environment values stay in effect.
func ApplyOverrides(ctx context.Context, cfg *config.Config, params config.ParameterBatchGetter) {
	next := *cfg
	if err := next.ApplyParameters(ctx, params); err != nil {
		observability.LoggerFromContext(ctx).Warn("parameter overrides not applied", "err", err)
		return
	}
	*cfg = next
}

// Build wires every service. It performs no network I/O.
func Build(cfg config.Config, awsCfg aws.Config, params *paramstore.Client, queue usecase.JobQueue, reg prometheus.Registerer) (*App, error) {
	if params == nil {
		return nil, errors.New("app: param store must not be nil")
	}
	if queue == nil {
		return nil, errors.New("app: job queue must not be nil")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// ---- Clients ----
	dynamoClient := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}
	})
	store, err := repository.New(dynamoClient, cfg.StateTable)
	if err != nil {
		return nil, fmt.Errorf("state client: %w", err)
	}

	var openaiOpts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	openaiClient, err := openai.NewClient(params, cfg.ParamPrefix, openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	var lineOpts []line.Option
	if cfg.LineBaseURL != "" {
		lineOpts = append(lineOpts, line.WithBaseURL(cfg.LineBaseURL))
	}
	notifier, err := line.NewClient(params, cfg.ParamPrefix, lineOpts...)
	if err != nil {
		return nil, fmt.Errorf("line client: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	// ---- Services ----
	generator, err := usecase.NewTaskGenerator(params, openaiClient, cfg.ParamPrefix)
	if err != nil {
		return nil, err
	}
	flow, err := usecase.NewFlowManager(store, cfg.FlowStateTTL)
	if err != nil {
		return nil, err
	}
	questions, err := usecase.NewQuestionCatalog(store)
	if err != nil {
		return nil, err
	}
	steps, err := usecase.NewStepTracker(store, store, metrics, cfg.StaleStepTimeout)
	if err != nil {
		return nil, err
	}
	orch, err := usecase.NewOrchestrator(flow, steps, store, store, queue, metrics)
	if err != nil {
		return nil, err
	}
	gate, err := usecase.NewPlanGate(store, usecase.PlanGateOptions{
		FreeTaskCeiling: cfg.FreeTaskCeiling,
		CacheSize:       cfg.EntitlementCacheSize,
		CacheTTL:        cfg.EntitlementCacheTTL,
	})
	if err != nil {
		return nil, err
	}
	limiter, err := usecase.NewRateLimiter(store, cfg.DailyRequestLimit, loc, metrics)
	if err != nil {
		return nil, err
	}
	guard, err := usecase.NewOwnershipGuard(store)
	if err != nil {
		return nil, err
	}

	ask, err := usecase.NewAskService(params, openaiClient, store, store, store, cfg.ParamPrefix, usecase.AskOptions{
		MaxContextItems:   cfg.AskMaxContextItems,
		MaxQuestionLength: cfg.AskMaxQuestionLength,
		ChatTTL:           cfg.ChatHistoryTTL,
	})
	if err != nil {
		return nil, err
	}

	assistant, err := usecase.NewAssistant(usecase.AssistantDeps{
		Users:        store,
		Tasks:        store,
		Flow:         flow,
		Steps:        steps,
		Orchestrator: orch,
		Questions:    questions,
		Gate:         gate,
		Limiter:      limiter,
		Moderator:    generator,
		Asker:        ask,
	})
	if err != nil {
		return nil, err
	}
	workers, err := usecase.NewWorkers(usecase.WorkerDeps{
		Guard:        guard,
		Steps:        steps,
		Orchestrator: orch,
		Flow:         flow,
		Questions:    questions,
		Tasks:        store,
		Users:        store,
		Generator:    generator,
		Notifier:     notifier,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	diag, err := usecase.NewDiagnostics(store, store, store, flow, steps, limiter, gate)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:       cfg,
		Store:        store,
		Params:       params,
		Metrics:      metrics,
		Flow:         flow,
		Steps:        steps,
		Orchestrator: orch,
		Gate:         gate,
		Limiter:      limiter,
		Assistant:    assistant,
		Ask:          ask,
		Workers:      workers,
		Diagnostics:  diag,
	}, nil
}
