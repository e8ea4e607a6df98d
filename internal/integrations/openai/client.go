package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	// Task generation returns long structured lists; two minutes covers the slow tail.
	defaultTimeout = 2 * time.Minute
	maxErrorBody   = 4 << 10
	maxBody        = 1 << 20
)

var (
	// ErrTruncated is returned when the completion hit the token limit, so the
	// structured output cannot be parsed.
	ErrTruncated = errors.New("openai: completion truncated")
	// ErrRefused is returned when the model declined to answer.
	ErrRefused = errors.New("openai: model refused")
)

type completionRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type completionResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

// tokenPayload is the JSON value stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError is a non-2xx upstream response.
type HTTPStatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.Path, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the chat completion and moderation endpoints of an
// OpenAI-compatible API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	tokenName   string
	temperature *float64

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTemperature fixes the sampling temperature of every completion.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// NewClient creates a Client. The API token is read from
// <paramPrefix>/open-ai-token on first use and kept once read successfully.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		getter:     ps,
		tokenName:  paramPrefix + "/open-ai-token",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

// Chat returns the content of the first choice. A named schema switches the
// request to strict json_schema output.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, schema domain.ResponseSchema) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	var out completionResponse
	err := c.post(ctx, "/chat/completions", completionRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    c.temperature,
		ResponseFormat: formatFor(schema),
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	choice := out.Choices[0]
	observability.LoggerFromContext(ctx).Debug("openai completion",
		"model", model, "prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens, "finish_reason", choice.FinishReason)
	switch {
	case choice.Message.Refusal != "":
		return "", fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	case choice.FinishReason == "length":
		return "", ErrTruncated
	case strings.TrimSpace(choice.Message.Content) == "":
		return "", errors.New("openai: empty completion")
	}
	return choice.Message.Content, nil
}

// Moderate reports whether input is flagged by the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	var out moderationResponse
	if err := c.post(ctx, "/moderations", moderationRequest{Input: input}, &out); err != nil {
		return false, err
	}
	if len(out.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return out.Results[0].Flagged, nil
}

func formatFor(schema domain.ResponseSchema) *responseFormat {
	if schema.Name == "" || len(schema.Schema) == 0 {
		return nil
	}
	return &responseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema{Name: schema.Name, Strict: true, Schema: schema.Schema},
	}
}

// endpoint joins path onto the base URL, adding /v1 when the base lacks it.
func endpoint(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + path
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	apiKey, err := c.key(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.baseURL, path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %s request failed: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPStatusError{StatusCode: res.StatusCode, Path: path, Body: string(buf)}
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return fmt.Errorf("openai: read %s response: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: decode %s response: %w", path, err)
	}
	return nil
}

// key returns the cached token, reading it from the parameter store until a
// read succeeds.
func (c *Client) key(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.tokenName)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("openai: API token is empty")
	}
	c.apiKey = tp.Token
	return c.apiKey, nil
}
