package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/usecase"
)

type stubEvents struct {
	reply domain.Reply
	err   error
	in    domain.InboundEvent
	ctx   context.Context
}

func (s *stubEvents) HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.Reply, error) {
	s.in, s.ctx = ev, ctx
	return s.reply, s.err
}

type statusCounter struct{ statuses []int }

func (s *statusCounter) WebhookStatus(status int) { s.statuses = append(s.statuses, status) }

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewWebhookHandler_ValidatesDependency(t *testing.T) {
	_, err := NewWebhookHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	ev := &stubEvents{reply: domain.TextReply("Welcome.")}
	counter := &statusCounter{}
	h, err := NewWebhookHandler(ev, counter)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"channelId":"U1","type":"text","text":"tasks"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.InboundEvent{ChannelID: "U1", Kind: domain.EventText, Text: "tasks"}, ev.in)

	out := parseBody[replyResponse](t, resp.Body)
	require.Equal(t, "text", out.Type)
	require.Equal(t, "Welcome.", out.Text)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, []int{http.StatusOK}, counter.statuses)
}

func TestHandle_InvalidRequests(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"not json", `not-json`, "invalid_json"},
		{"missing channel", `{"type":"text","text":"hi"}`, "missing_channel_id"},
		{"unknown type", `{"channelId":"U1","type":"sticker"}`, "unknown_event_type"},
		{"action without name", `{"channelId":"U1","type":"action"}`, "missing_action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &stubEvents{}
			h, err := NewWebhookHandler(ev, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(tc.body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
			require.Equal(t, tc.reason, out.Reason)
			require.Empty(t, ev.in.ChannelID)
		})
	}
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_channel_id"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "owner_mismatch"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthorized)},
		{name: "precondition", err: &usecase.Error{Code: usecase.ErrorPreconditionFailed, Reason: "basic_not_completed"}, status: http.StatusConflict, code: string(usecase.ErrorPreconditionFailed)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "openai_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "task_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "openai_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "store", err: &usecase.Error{Code: usecase.ErrorStore, Reason: "flow_state_write_error"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorStore)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "job_enqueue_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewWebhookHandler(&stubEvents{err: tc.err}, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"channelId":"U1","type":"follow"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewWebhookHandler(&stubEvents{reply: domain.TextReply("ok")}, nil)
	require.NoError(t, err)

	event := makeEvent(`{"channelId":"U1","type":"text","text":"help"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestRender(t *testing.T) {
	due := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	task := domain.Task{ID: "t-1", Title: "Submit death notification", DueDate: &due, Status: domain.TaskPending, Tips: "Bring the certificate"}

	cases := []struct {
		name  string
		reply domain.Reply
		check func(t *testing.T, out replyResponse)
	}{
		{
			name:  "none",
			reply: domain.Reply{Kind: domain.ReplyNone},
			check: func(t *testing.T, out replyResponse) {
				require.Equal(t, "none", out.Type)
				require.Empty(t, out.Text)
			},
		},
		{
			name:  "question lists options",
			reply: domain.Reply{Kind: domain.ReplyQuestion, Text: "Did they own a vehicle?", Options: []string{"yes", "no"}, Question: &domain.FollowUpQuestion{Key: "has_vehicle"}},
			check: func(t *testing.T, out replyResponse) {
				require.Equal(t, "Did they own a vehicle?\n1. yes\n2. no", out.Text)
				require.Equal(t, "has_vehicle", out.Question)
			},
		},
		{
			name: "task list masks locked rows",
			reply: domain.Reply{Kind: domain.ReplyTaskList, Text: "Your tasks:", Tasks: []domain.TaskView{
				{Index: 0, Task: &task},
				{Index: 1, IsMasked: true},
			}},
			check: func(t *testing.T, out replyResponse) {
				require.Equal(t, "Your tasks:\n1. Submit death notification (due 2025-03-31)\n2. (locked)", out.Text)
				require.Len(t, out.Tasks, 2)
				require.True(t, out.Tasks[1].Masked)
				require.Empty(t, out.Tasks[1].Title)
			},
		},
		{
			name:  "task detail",
			reply: domain.Reply{Kind: domain.ReplyTaskDetail, Task: &task, Actions: []string{domain.ActionCompleteTask}},
			check: func(t *testing.T, out replyResponse) {
				require.Equal(t, "Submit death notification\nDue: 2025-03-31\nBring the certificate", out.Text)
				require.Equal(t, "t-1", out.Task.ID)
				require.Equal(t, []string{domain.ActionCompleteTask}, out.Actions)
			},
		},
		{
			name:  "confirm keeps actions",
			reply: domain.Reply{Kind: domain.ReplyConfirm, Text: "Address updated.", Actions: []string{domain.ActionRegenerateTasks}},
			check: func(t *testing.T, out replyResponse) {
				require.Equal(t, []string{domain.ActionRegenerateTasks}, out.Actions)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, render(tc.reply))
		})
	}
}
