package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/integrations/sqsqueue"
	"estate-assistant/internal/observability"
	"estate-assistant/internal/usecase"
)

// JobRunner executes one delivered job.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}

type jobResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WorkerHandler adapts queue deliveries to the stage workers.
type WorkerHandler struct {
	runner JobRunner
}

func NewWorkerHandler(runner JobRunner) (*WorkerHandler, error) {
	if runner == nil {
		return nil, errors.New("handler: job runner must not be nil")
	}
	return &WorkerHandler{runner: runner}, nil
}

// HandleSQS runs each record and reports the ones worth redelivering as
// batch item failures. Malformed and non-retryable jobs are acknowledged.
func (h *WorkerHandler) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		corrID := rec.MessageId
		if attr, ok := rec.MessageAttributes[sqsqueue.CorrelationIDAttribute]; ok && attr.StringValue != nil {
			corrID = *attr.StringValue
		}
		rctx := observability.WithCorrelationID(ctx, corrID)
		log := observability.LoggerFromContext(rctx).With("message_id", rec.MessageId)

		job, err := sqsqueue.Decode(rec.Body)
		if err != nil {
			log.Error("dropping malformed job", "error", err)
			continue
		}
		if err := h.runner.Run(rctx, job); err != nil {
			if usecase.IsRetryable(err) {
				log.Warn("job will be redelivered", "job_name", job.Name, "error", err)
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
				continue
			}
			log.Info("job finished without success", "job_name", job.Name, "code", usecase.CodeOf(err))
		}
	}
	return resp, nil
}

// HandleHTTP runs a job POSTed to /workers/{job}. Retryable failures answer
// 503 so the sender retries; everything else is final.
func (h *WorkerHandler) HandleHTTP(ctx context.Context, name domain.JobName, headers map[string]string, body []byte) (int, any) {
	corrID := ""
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == correlationHeader {
			corrID = v
		}
	}
	if corrID == "" {
		corrID = uuid.NewString()
	}
	ctx = observability.WithCorrelationID(ctx, corrID)

	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}
	}
	if job.Name != name {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "job_name_mismatch"}
	}

	err := h.runner.Run(ctx, job)
	switch {
	case err == nil:
		return http.StatusOK, jobResponse{Status: "done"}
	case usecase.IsRetryable(err):
		observability.LoggerFromContext(ctx).Warn("job failed, asking for retry", "job_name", job.Name, "error", err)
		return http.StatusServiceUnavailable, jobResponse{Status: "retry", Error: string(usecase.CodeOf(err))}
	default:
		return http.StatusOK, jobResponse{Status: "rejected", Error: string(usecase.CodeOf(err))}
	}
}
