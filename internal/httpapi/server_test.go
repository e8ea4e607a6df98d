package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

type stubWebhook struct {
	req events.APIGatewayProxyRequest
}

func (s *stubWebhook) Handle(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s.req = req
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json", "X-Correlation-Id": "c-1"},
		Body:       `{"type":"text","text":"hi"}`,
	}, nil
}

type stubWorkers struct {
	name domain.JobName
	body string
}

func (s *stubWorkers) HandleHTTP(_ context.Context, name domain.JobName, _ map[string]string, body []byte) (int, any) {
	s.name, s.body = name, string(body)
	return http.StatusAccepted, map[string]string{"status": "done"}
}

func newServer(t *testing.T) (*Server, *stubWebhook, *stubWorkers, *prometheus.Registry) {
	t.Helper()
	wh, wk := &stubWebhook{}, &stubWorkers{}
	reg := prometheus.NewRegistry()
	s, err := New(wh, wk, reg)
	require.NoError(t, err)
	return s, wh, wk, reg
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &stubWorkers{}, nil)
	require.Error(t, err)
}

func TestWebhookRoute(t *testing.T) {
	s, wh, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"channelId":"U1","type":"follow"}`))
	req.Header.Set("X-Correlation-Id", "c-1")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "c-1", rec.Header().Get("X-Correlation-Id"))
	require.JSONEq(t, `{"type":"text","text":"hi"}`, rec.Body.String())
	require.Equal(t, `{"channelId":"U1","type":"follow"}`, wh.req.Body)
	require.Equal(t, "c-1", wh.req.Headers["X-Correlation-Id"])
}

func TestWorkerRoute(t *testing.T) {
	s, _, wk, _ := newServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workers/enhance_tasks", strings.NewReader(`{"job_id":"j"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, domain.JobEnhanceTasks, wk.name)
	require.Equal(t, `{"job_id":"j"}`, wk.body)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workers/reindex", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _, reg := newServer(t)
	m := observability.NewMetrics("estate_test", reg)
	m.JobEnqueued(domain.JobGenerateBasic)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `estate_test_jobs_enqueued_total{job="generate_basic"} 1`)
}

func TestWrongMethod(t *testing.T) {
	s, _, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
