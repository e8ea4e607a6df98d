package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const maxBodyBytes = 1 << 20

// Webhook handles API Gateway shaped webhook requests.
type Webhook interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

// Workers runs a job delivered over HTTP.
type Workers interface {
	HandleHTTP(ctx context.Context, name domain.JobName, headers map[string]string, body []byte) (int, any)
}

// Server exposes the Lambda handlers over plain HTTP for local runs.
type Server struct {
	webhook  Webhook
	workers  Workers
	gatherer prometheus.Gatherer
}

// New creates a Server. A nil gatherer serves the default registry.
func New(webhook Webhook, workers Workers, gatherer prometheus.Gatherer) (*Server, error) {
	if webhook == nil || workers == nil {
		return nil, errors.New("httpapi: webhook and workers must not be nil")
	}
	return &Server{webhook: webhook, workers: workers, gatherer: gatherer}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", observability.MetricsHandler(s.gatherer))
	r.Post("/webhook", s.handleWebhook)
	r.Post("/workers/{job}", s.handleWorker)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "INVALID_INPUT"})
		return
	}
	resp, err := s.webhook.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    flattenHeaders(r.Header),
		Body:       string(body),
	})
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("webhook handler failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "INTERNAL_ERROR"})
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	name := domain.JobName(chi.URLParam(r, "job"))
	if name.Stage() == "" {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "INVALID_INPUT"})
		return
	}
	status, out := s.workers.HandleHTTP(r.Context(), name, flattenHeaders(r.Header), body)
	respondJSON(w, status, out)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
