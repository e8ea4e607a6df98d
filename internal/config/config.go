package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"estate-assistant/internal/domain"
)

// Config contains the runtime settings shared by every entry point.
type Config struct {
	StateTable     string
	ParamPrefix    string
	DynamoEndpoint string

	QueueURLs     map[domain.JobName]string
	WorkerBaseURL string

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DailyRequestLimit    int
	FreeTaskCeiling      int
	FlowStateTTL         time.Duration
	StaleStepTimeout     time.Duration
	EntitlementCacheTTL  time.Duration
	EntitlementCacheSize int
	TimeZone             string

	AskMaxContextItems   int
	AskMaxQuestionLength int
	ChatHistoryTTL       time.Duration

	OpenAIBaseURL string
	LineBaseURL   string
}

// ParameterBatchGetter reads optional runtime overrides, e.g. from SSM.
type ParameterBatchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Load reads environment variables and applies defaults. STATE_TABLE and
// PARAM_PREFIX are required.
func Load() (Config, error) {
	cfg := Config{
		StateTable:     trimmedEnv("STATE_TABLE"),
		ParamPrefix:    strings.TrimRight(trimmedEnv("PARAM_PREFIX"), "/"),
		DynamoEndpoint: trimmedEnv("DYNAMODB_ENDPOINT"),
		QueueURLs: map[domain.JobName]string{
			domain.JobGenerateBasic:        trimmedEnv("QUEUE_URL_GENERATE_BASIC"),
			domain.JobGeneratePersonalized: trimmedEnv("QUEUE_URL_GENERATE_PERSONALIZED"),
			domain.JobEnhanceTasks:         trimmedEnv("QUEUE_URL_ENHANCE_TASKS"),
		},
		WorkerBaseURL:        envOrDefault("WORKER_BASE_URL", "http://127.0.0.1:8080"),
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "estate_assistant"),
		TimeZone:             envOrDefault("APP_TIME_ZONE", "Asia/Tokyo"),
		OpenAIBaseURL:        trimmedEnv("OPENAI_BASE_URL"),
		LineBaseURL:          trimmedEnv("LINE_API_BASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		DailyRequestLimit:    100,
		FreeTaskCeiling:      2,
		FlowStateTTL:         24 * time.Hour,
		StaleStepTimeout:     30 * time.Minute,
		EntitlementCacheTTL:  time.Minute,
		EntitlementCacheSize: 1024,
		AskMaxContextItems:   10,
		AskMaxQuestionLength: 300,
		ChatHistoryTTL:       30 * 24 * time.Hour,
	}
	if cfg.StateTable == "" {
		return Config{}, errors.New("STATE_TABLE is required")
	}
	if cfg.ParamPrefix == "" {
		return Config{}, errors.New("PARAM_PREFIX is required")
	}

	var err error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"FLOW_STATE_TTL", &cfg.FlowStateTTL},
		{"STALE_STEP_TIMEOUT", &cfg.StaleStepTimeout},
		{"ENTITLEMENT_CACHE_TTL", &cfg.EntitlementCacheTTL},
		{"CHAT_HISTORY_TTL", &cfg.ChatHistoryTTL},
	} {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"DAILY_REQUEST_LIMIT", &cfg.DailyRequestLimit},
		{"FREE_TASK_CEILING", &cfg.FreeTaskCeiling},
		{"ENTITLEMENT_CACHE_SIZE", &cfg.EntitlementCacheSize},
		{"ASK_MAX_CONTEXT_ITEMS", &cfg.AskMaxContextItems},
		{"ASK_MAX_QUESTION_LENGTH", &cfg.AskMaxQuestionLength},
	} {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DailyRequestLimit <= 0 {
		return fmt.Errorf("DAILY_REQUEST_LIMIT must be positive")
	}
	if c.FreeTaskCeiling < 0 {
		return fmt.Errorf("FREE_TASK_CEILING must be >= 0")
	}
	if c.FlowStateTTL < time.Minute {
		return fmt.Errorf("FLOW_STATE_TTL must be at least 1m")
	}
	if c.StaleStepTimeout < time.Minute {
		return fmt.Errorf("STALE_STEP_TIMEOUT must be at least 1m")
	}
	if c.EntitlementCacheSize <= 0 {
		return fmt.Errorf("ENTITLEMENT_CACHE_SIZE must be positive")
	}
	if c.AskMaxContextItems <= 0 {
		return fmt.Errorf("ASK_MAX_CONTEXT_ITEMS must be positive")
	}
	if c.AskMaxQuestionLength <= 0 {
		return fmt.Errorf("ASK_MAX_QUESTION_LENGTH must be positive")
	}
	if c.ChatHistoryTTL < time.Hour {
		return fmt.Errorf("CHAT_HISTORY_TTL must be at least 1h")
	}
	return nil
}

// Location returns the zone that defines rate-limit day boundaries.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIME_ZONE: %w", err)
	}
	return loc, nil
}

// RequireQueueURLs fails unless every pipeline job has a queue URL.
func (c Config) RequireQueueURLs() error {
	for _, stage := range domain.Stages {
		name := domain.JobForStage(stage)
		if c.QueueURLs[name] == "" {
			return fmt.Errorf("queue url for %s is required", name)
		}
	}
	return nil
}

// ApplyParameters overlays tunables stored under <prefix>/config/ so operators
// can change them without a deploy. Absent parameters keep their current value.
func (c *Config) ApplyParameters(ctx context.Context, params ParameterBatchGetter) error {
	limitName := c.ParamPrefix + "/config/daily_request_limit"
	ceilingName := c.ParamPrefix + "/config/free_task_ceiling"
	values, err := params.GetParameters(ctx, limitName, ceilingName)
	if err != nil {
		return fmt.Errorf("config: load parameters: %w", err)
	}
	for name, dst := range map[string]*int{limitName: &c.DailyRequestLimit, ceilingName: &c.FreeTaskCeiling} {
		raw, ok := values[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config: parameter %s: %w", name, err)
		}
		*dst = n
	}
	return c.validate()
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
