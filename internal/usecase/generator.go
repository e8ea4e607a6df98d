package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"estate-assistant/internal/domain"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, schema domain.ResponseSchema) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// modelParam reads <prefix>/config/openai_model once per process.
type modelParam struct {
	params ParamGetter
	name   string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

func newModelParam(p ParamGetter, paramPrefix string) *modelParam {
	return &modelParam{params: p, name: paramPrefix + "/config/openai_model"}
}

func (m *modelParam) get(ctx context.Context) (string, error) {
	m.cacheMu.RLock()
	if m.cacheLoaded {
		defer m.cacheMu.RUnlock()
		return m.model, nil
	}
	m.cacheMu.RUnlock()

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.cacheLoaded {
		return m.model, nil
	}
	model, err := m.params.GetParameter(ctx, m.name)
	if err != nil {
		return "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	m.model = strings.TrimSpace(model)
	m.cacheLoaded = true
	return m.model, nil
}

// TaskGenerator is the LLM-backed Generator.
type TaskGenerator struct {
	llm   LLMClient
	model *modelParam
}

func NewTaskGenerator(p ParamGetter, llm LLMClient, paramPrefix string) (*TaskGenerator, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &TaskGenerator{llm: llm, model: newModelParam(p, paramPrefix)}, nil
}

func (g *TaskGenerator) Generate(ctx context.Context, req GenerationRequest) ([]domain.TaskDraft, error) {
	if !req.Stage.Valid() {
		return nil, newError(ErrorInvalidInput, "unknown_stage", nil)
	}
	model, err := g.model.get(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "ssm_load_error", err)
	}
	raw, err := g.llm.Chat(ctx, model, buildGenerationMessages(req), taskListSchema)
	if err != nil {
		return nil, upstreamError("openai", err)
	}
	drafts, err := parseTaskList(raw)
	if err != nil {
		return nil, newError(ErrorUpstream, "openai_malformed_response", err)
	}
	return drafts, nil
}

// Flagged reports whether user-supplied text fails moderation.
func (g *TaskGenerator) Flagged(ctx context.Context, text string) (bool, error) {
	flagged, err := g.llm.Moderate(ctx, text)
	if err != nil {
		return false, newError(ErrorUpstream, "moderation_error", err)
	}
	return flagged, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
