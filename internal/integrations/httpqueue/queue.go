package httpqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
	defaultTimeout  = 3 * time.Minute
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("httpqueue: closed")

// Queue delivers jobs by POSTing them to <baseURL>/workers/<job name> in the
// background, retrying transport errors and retryable statuses.
type Queue struct {
	baseURL  string
	client   *http.Client
	attempts int
	backoff  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Queue)

func WithHTTPClient(c *http.Client) Option {
	return func(q *Queue) {
		q.client = c
	}
}

// WithRetry sets the total delivery attempts and the linear backoff step.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(q *Queue) {
		if attempts > 0 {
			q.attempts = attempts
		}
		if backoff >= 0 {
			q.backoff = backoff
		}
	}
}

func New(baseURL string, opts ...Option) (*Queue, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("httpqueue: base url must not be empty")
	}
	q := &Queue{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue schedules delivery and returns immediately.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.Name.Stage() == "" {
		return fmt.Errorf("httpqueue: unknown job %q", job.Name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.deliver(context.WithoutCancel(ctx), job)
	}()
	return nil
}

// Close stops accepting jobs and waits for in-flight deliveries or ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) deliver(ctx context.Context, job domain.Job) {
	log := observability.LoggerFromContext(ctx).With("job_id", job.ID, "job_name", job.Name)
	base := job.Attempt
	for i := 0; i < q.attempts; i++ {
		if i > 0 {
			time.Sleep(q.backoff * time.Duration(i))
		}
		job.Attempt = base + i
		retry, err := q.post(ctx, job)
		if err == nil {
			return
		}
		log.Warn("job delivery failed", "attempt", job.Attempt, "error", err)
		if !retry {
			return
		}
	}
	log.Error("job delivery abandoned", "attempts", q.attempts)
}

// post reports whether a failed delivery may be retried.
func (q *Queue) post(ctx context.Context, job domain.Job) (bool, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/workers/"+string(job.Name), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := observability.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-Id", id)
	}

	res, err := q.client.Do(req)
	if err != nil {
		return true, err
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return false, nil
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return true, fmt.Errorf("status %d", res.StatusCode)
	default:
		return false, fmt.Errorf("status %d", res.StatusCode)
	}
}
