package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estate-assistant/internal/domain"
)

// Metrics groups the Prometheus instruments of the generation pipeline.
type Metrics struct {
	StepTransitions    *prometheus.CounterVec
	JobsEnqueued       *prometheus.CounterVec
	WorkerOutcomes     *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	WebhookRequests    *prometheus.CounterVec
}

// NewMetrics registers the instruments on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		StepTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Generation step transitions by stage and status.",
		}, []string{"stage", "status"}),
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs handed to the job queue by job name.",
		}, []string{"job"}),
		WorkerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_outcomes_total",
			Help:      "Worker invocations by job name and outcome.",
		}, []string{"job", "outcome"}),
		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions.",
		}, []string{"allowed"}),
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook requests by response status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) StepTransition(stage domain.Stage, status domain.StepStatus) {
	m.StepTransitions.WithLabelValues(string(stage), string(status)).Inc()
}

func (m *Metrics) JobEnqueued(name domain.JobName) {
	m.JobsEnqueued.WithLabelValues(string(name)).Inc()
}

func (m *Metrics) WorkerOutcome(name domain.JobName, outcome string) {
	m.WorkerOutcomes.WithLabelValues(string(name), outcome).Inc()
}

func (m *Metrics) RateLimitDecision(allowed bool) {
	m.RateLimitDecisions.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) WebhookStatus(status int) {
	m.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// MetricsHandler serves the registry gathered by g, or the default gatherer when nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
