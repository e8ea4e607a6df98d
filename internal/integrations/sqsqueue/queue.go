package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

// Message attributes set on every job. The job name lets consumers route
// without decoding; the correlation id ties worker logs to the request.
const (
	jobNameAttribute       = "job_name"
	CorrelationIDAttribute = "correlation_id"
)

// sqsAPI is the minimal SQS interface required by Queue.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue delivers jobs to one SQS queue per job name.
type Queue struct {
	api  sqsAPI
	urls map[domain.JobName]string
}

// New creates a Queue. Every pipeline job must have a queue URL.
func New(api sqsAPI, urls map[domain.JobName]string) (*Queue, error) {
	if api == nil {
		return nil, errors.New("sqsqueue: api must not be nil")
	}
	for _, stage := range domain.Stages {
		name := domain.JobForStage(stage)
		if strings.TrimSpace(urls[name]) == "" {
			return nil, fmt.Errorf("sqsqueue: missing queue url for %s", name)
		}
	}
	return &Queue{api: api, urls: urls}, nil
}

// Enqueue sends job as a JSON message to the queue for its name.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	url, ok := q.urls[job.Name]
	if !ok {
		return fmt.Errorf("sqsqueue: unknown job %q", job.Name)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("sqsqueue: marshal job: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		jobNameAttribute: {DataType: aws.String("String"), StringValue: aws.String(string(job.Name))},
	}
	if id := observability.CorrelationID(ctx); id != "" {
		attrs[CorrelationIDAttribute] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(id)}
	}

	_, err = q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sqsqueue: send %s: %w", job.Name, err)
	}
	return nil
}

// Decode parses a message body produced by Enqueue.
func Decode(body string) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return domain.Job{}, fmt.Errorf("sqsqueue: decode job: %w", err)
	}
	if job.Name.Stage() == "" {
		return domain.Job{}, fmt.Errorf("sqsqueue: unknown job %q", job.Name)
	}
	if job.ID == "" || job.OwnerID == "" {
		return domain.Job{}, errors.New("sqsqueue: job id and owner id are required")
	}
	return job, nil
}
