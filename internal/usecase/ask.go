package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"estate-assistant/internal/domain"
)

const (
	defaultMaxContext  = 10
	defaultMaxQuestion = 300
	defaultChatTTL     = 30 * 24 * time.Hour
)

// AskService answers free-form questions about the owner's procedures,
// grounded on the profile, the checklist and recent turns.
type AskService struct {
	llm             LLMClient
	model           *modelParam
	chats           ChatStore
	users           UserStore
	tasks           TaskStore
	maxContextItems int
	maxQuestionLen  int
	chatTTL         time.Duration
	now             func() time.Time
}

type AskOptions struct {
	// MaxContextItems caps the earlier turns sent with a question.
	MaxContextItems int
	// MaxQuestionLength is counted in characters.
	MaxQuestionLength int
	ChatTTL           time.Duration
}

type AskInput struct {
	OwnerID  string
	Question string
}

type AskOutput struct {
	Answer string
}

func NewAskService(p ParamGetter, llm LLMClient, chats ChatStore, users UserStore, tasks TaskStore, paramPrefix string, opts AskOptions) (*AskService, error) {
	switch {
	case p == nil:
		return nil, errors.New("usecase: param getter must not be nil")
	case llm == nil:
		return nil, errors.New("usecase: llm client must not be nil")
	case chats == nil:
		return nil, errors.New("usecase: chat store must not be nil")
	case users == nil:
		return nil, errors.New("usecase: user store must not be nil")
	case tasks == nil:
		return nil, errors.New("usecase: task store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if opts.MaxContextItems <= 0 {
		opts.MaxContextItems = defaultMaxContext
	}
	if opts.MaxQuestionLength <= 0 {
		opts.MaxQuestionLength = defaultMaxQuestion
	}
	if opts.ChatTTL <= 0 {
		opts.ChatTTL = defaultChatTTL
	}
	return &AskService{
		llm:             llm,
		model:           newModelParam(p, paramPrefix),
		chats:           chats,
		users:           users,
		tasks:           tasks,
		maxContextItems: opts.MaxContextItems,
		maxQuestionLen:  opts.MaxQuestionLength,
		chatTTL:         opts.ChatTTL,
		now:             time.Now,
	}, nil
}

// Ask answers one question and stores the exchange. Off-topic and flagged
// questions are rejected with ErrorInvalidInput and are not stored.
func (s *AskService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if utf8.RuneCountInString(question) > s.maxQuestionLen {
		return AskOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	model, err := s.model.get(ctx)
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	flagged, err := s.llm.Moderate(ctx, question)
	if err != nil {
		return AskOutput{}, upstreamError("moderation", err)
	}
	if flagged {
		return AskOutput{}, newError(ErrorInvalidInput, "moderation_flagged", nil)
	}

	profile, err := s.users.GetProfile(ctx, in.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return AskOutput{}, newError(ErrorStore, "profile_read_error", err)
	}
	tasks, err := s.tasks.ListTasks(ctx, in.OwnerID)
	if err != nil {
		return AskOutput{}, newError(ErrorStore, "task_read_error", err)
	}
	history, err := s.chats.RecentChatTurns(ctx, in.OwnerID, s.maxContextItems)
	if err != nil {
		return AskOutput{}, newError(ErrorStore, "chat_history_error", err)
	}

	raw, err := s.llm.Chat(ctx, model, buildAskMessages(askContext{profile: profile, tasks: tasks}, question, history), scopedAnswerSchema)
	if err != nil {
		return AskOutput{}, upstreamError("openai", err)
	}
	decision, err := parseScopedAnswer(raw)
	if err != nil {
		return AskOutput{}, newError(ErrorUpstream, "openai_malformed_response", err)
	}
	if !decision.InScope {
		return AskOutput{}, newError(ErrorInvalidInput, "relevance_off_topic", nil)
	}
	answer := strings.TrimSpace(decision.Answer)

	now := s.now()
	turn := domain.ChatTurn{OwnerID: in.OwnerID, Question: question, Answer: answer, At: now}
	if err := s.chats.SaveChatTurn(ctx, turn, now.Add(s.chatTTL)); err != nil {
		return AskOutput{}, newError(ErrorStore, "chat_write_error", err)
	}
	return AskOutput{Answer: answer}, nil
}

// upstreamError maps an LLM failure; a 429 becomes ErrorRateLimited.
func upstreamError(prefix string, err error) error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, prefix+"_rate_limited", err)
	}
	return newError(ErrorUpstream, prefix+"_error", err)
}
