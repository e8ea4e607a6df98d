package usecase

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

func bufferLogger(buf *bytes.Buffer) context.Context {
	l := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return observability.WithLogger(context.Background(), l)
}

func requireOwnerOncePerLine(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		require.Equal(t, 1, strings.Count(line, `"owner_id"`), line)
	}
}

func TestWithOwnerLogger_NestedScopesAddOwnerOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := withOwnerLogger(bufferLogger(&buf), "o1")
	ctx = withOwnerLogger(ctx, "o1")
	observability.LoggerFromContext(ctx).Info("nested")
	requireOwnerOncePerLine(t, &buf)

	buf.Reset()
	observability.LoggerFromContext(withOwnerLogger(ctx, "o2")).Info("other owner")
	require.Contains(t, buf.String(), `"owner_id":"o2"`)
}

func TestWorkers_RunLogsOwnerOnce(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	f.gen.byStage[domain.StageBasic] = drafts("basic", 3)
	job := triggerBasicJob(t, f)

	var buf bytes.Buffer
	require.NoError(t, f.workers.Run(bufferLogger(&buf), job))
	require.Contains(t, buf.String(), `"job_id":"`+job.ID+`"`)
	requireOwnerOncePerLine(t, &buf)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		require.LessOrEqual(t, strings.Count(line, `"job_id"`), 1, line)
	}
}

func TestAssistant_HandleEventLogsOwnerOnce(t *testing.T) {
	f := newFixture()
	f.owner("o1", "U1")
	f.store.counters["o1/"+f.now.Format(time.DateOnly)] = DefaultDailyLimit

	var buf bytes.Buffer
	reply, err := f.assistant.HandleEvent(bufferLogger(&buf), text("U1", "tasks"))
	require.NoError(t, err)
	require.Equal(t, rateLimitedMessage, reply.Text)
	require.Contains(t, buf.String(), "rate limit exceeded")
	requireOwnerOncePerLine(t, &buf)
}
