package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
)

func setCoreEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DYNAMODB_ENDPOINT", "QUEUE_URL_GENERATE_BASIC", "QUEUE_URL_GENERATE_PERSONALIZED",
		"QUEUE_URL_ENHANCE_TASKS", "WORKER_BASE_URL", "APP_BIND_ADDR", "APP_METRICS_NAMESPACE",
		"APP_TIME_ZONE", "OPENAI_BASE_URL", "LINE_API_BASE_URL", "APP_SHUTDOWN_TIMEOUT",
		"FLOW_STATE_TTL", "STALE_STEP_TIMEOUT", "ENTITLEMENT_CACHE_TTL", "DAILY_REQUEST_LIMIT",
		"FREE_TASK_CEILING", "ENTITLEMENT_CACHE_SIZE",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("STATE_TABLE", "estate-state")
	t.Setenv("PARAM_PREFIX", "/estate/")
}

type fakeParams struct {
	values map[string]string
	err    error
}

func (f fakeParams) GetParameters(_ context.Context, _ ...string) (map[string]string, error) {
	return f.values, f.err
}

func TestLoad_Defaults(t *testing.T) {
	setCoreEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "estate-state", cfg.StateTable)
	require.Equal(t, "/estate", cfg.ParamPrefix)
	require.Equal(t, 100, cfg.DailyRequestLimit)
	require.Equal(t, 2, cfg.FreeTaskCeiling)
	require.Equal(t, 24*time.Hour, cfg.FlowStateTTL)
	require.Equal(t, 30*time.Minute, cfg.StaleStepTimeout)
	require.Equal(t, ":8080", cfg.BindAddr)
	require.Equal(t, 10, cfg.AskMaxContextItems)
	require.Equal(t, 300, cfg.AskMaxQuestionLength)
	require.Equal(t, 30*24*time.Hour, cfg.ChatHistoryTTL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Tokyo", loc.String())
	require.Error(t, cfg.RequireQueueURLs())
}

func TestLoad_Overrides(t *testing.T) {
	setCoreEnv(t)
	t.Setenv("DAILY_REQUEST_LIMIT", "20")
	t.Setenv("STALE_STEP_TIMEOUT", "10m")
	t.Setenv("ASK_MAX_QUESTION_LENGTH", "120")
	t.Setenv("CHAT_HISTORY_TTL", "48h")
	t.Setenv("QUEUE_URL_GENERATE_BASIC", "https://sqs/basic")
	t.Setenv("QUEUE_URL_GENERATE_PERSONALIZED", "https://sqs/personalized")
	t.Setenv("QUEUE_URL_ENHANCE_TASKS", "https://sqs/enhance")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 20, cfg.DailyRequestLimit)
	require.Equal(t, 10*time.Minute, cfg.StaleStepTimeout)
	require.Equal(t, 120, cfg.AskMaxQuestionLength)
	require.Equal(t, 48*time.Hour, cfg.ChatHistoryTTL)
	require.NoError(t, cfg.RequireQueueURLs())
	require.Equal(t, "https://sqs/enhance", cfg.QueueURLs[domain.JobEnhanceTasks])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing table", "STATE_TABLE", ""},
		{"missing prefix", "PARAM_PREFIX", " "},
		{"bad duration", "FLOW_STATE_TTL", "soon"},
		{"short ttl", "FLOW_STATE_TTL", "5s"},
		{"bad int", "DAILY_REQUEST_LIMIT", "many"},
		{"zero limit", "DAILY_REQUEST_LIMIT", "0"},
		{"bad zone", "APP_TIME_ZONE", "Mars/Olympus"},
		{"zero context", "ASK_MAX_CONTEXT_ITEMS", "0"},
		{"negative question length", "ASK_MAX_QUESTION_LENGTH", "-1"},
		{"short chat ttl", "CHAT_HISTORY_TTL", "10m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCoreEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestApplyParameters(t *testing.T) {
	setCoreEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ApplyParameters(context.Background(), fakeParams{values: map[string]string{
		"/estate/config/daily_request_limit": " 30 ",
	}})
	require.NoError(t, err)
	require.Equal(t, 30, cfg.DailyRequestLimit)
	require.Equal(t, 2, cfg.FreeTaskCeiling)

	err = cfg.ApplyParameters(context.Background(), fakeParams{values: map[string]string{
		"/estate/config/free_task_ceiling": "x",
	}})
	require.ErrorContains(t, err, "free_task_ceiling")

	err = cfg.ApplyParameters(context.Background(), fakeParams{err: errors.New("ssm down")})
	require.ErrorContains(t, err, "ssm down")
}
