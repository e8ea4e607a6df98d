package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/integrations/openai"
)

func scopedResponse(inScope bool, answer string) string {
	return fmt.Sprintf(`{"in_scope":%t,"answer":%q}`, inScope, answer)
}

func newAskService(t *testing.T, llm *mockLLM, store *memStore, opts AskOptions) (*AskService, *mockParams) {
	t.Helper()
	params := &mockParams{vals: map[string]string{"/estate/config/openai_model": "gpt-test"}}
	s, err := NewAskService(params, llm, store, store, store, "/estate", opts)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return s, params
}

func TestNewAskService_Validation(t *testing.T) {
	store := newMemStore()
	_, err := NewAskService(nil, &mockLLM{}, store, store, store, "/p", AskOptions{})
	require.Error(t, err)
	_, err = NewAskService(&mockParams{}, nil, store, store, store, "/p", AskOptions{})
	require.Error(t, err)
	_, err = NewAskService(&mockParams{}, &mockLLM{}, nil, store, store, "/p", AskOptions{})
	require.Error(t, err)
	_, err = NewAskService(&mockParams{}, &mockLLM{}, store, store, store, " / ", AskOptions{})
	require.Error(t, err)

	s, err := NewAskService(&mockParams{}, &mockLLM{}, store, store, store, "/p", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, defaultMaxContext, s.maxContextItems)
	require.Equal(t, defaultMaxQuestion, s.maxQuestionLen)
}

func TestAsk_AnswersWithProfileTasksAndHistory(t *testing.T) {
	store := newMemStore()
	store.profiles["o1"] = testProfile()
	store.putTaskLocked(domain.Task{ID: "t1", OwnerID: "o1", Title: "Stop the pension", Status: domain.TaskPending})
	store.chats = map[string][]domain.ChatTurn{"o1": {
		{OwnerID: "o1", Question: "Oldest?", Answer: "dropped"},
		{OwnerID: "o1", Question: "Where is the pension office?", Answer: "At the city hall."},
	}}
	llm := &mockLLM{answer: scopedResponse(true, "Bring the pension book and the death certificate.")}
	s, params := newAskService(t, llm, store, AskOptions{MaxContextItems: 1})

	out, err := s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "  What do I bring?  "})
	require.NoError(t, err)
	require.Equal(t, "Bring the pension book and the death certificate.", out.Answer)

	require.Equal(t, "gpt-test", llm.model)
	require.Equal(t, "scoped_answer", llm.schema.Name)
	require.Len(t, llm.messages, 5)
	require.Contains(t, llm.messages[1].Content, "Tokyo Setagaya")
	require.Contains(t, llm.messages[1].Content, "- [pending] Stop the pension")
	require.Equal(t, "Where is the pension office?", llm.messages[2].Content)
	require.Equal(t, "assistant", llm.messages[3].Role)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "What do I bring?"}, llm.messages[4])

	saved := store.chats["o1"]
	require.Len(t, saved, 3)
	require.Equal(t, "What do I bring?", saved[2].Question)
	require.Equal(t, out.Answer, saved[2].Answer)

	_, err = s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "And then?"})
	require.NoError(t, err)
	require.Equal(t, 1, params.calls, "model is loaded once")
}

func TestAsk_QuestionLength(t *testing.T) {
	store := newMemStore()
	llm := &mockLLM{answer: scopedResponse(true, "ok")}
	s, _ := newAskService(t, llm, store, AskOptions{MaxQuestionLength: 5})

	_, err := s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "   "})
	require.Equal(t, ErrorInvalidInput, CodeOf(err))

	_, err = s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "年金はどこ？"})
	require.Equal(t, ErrorInvalidInput, CodeOf(err))
	require.Nil(t, llm.messages)

	_, err = s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "年金手帳？"})
	require.NoError(t, err, "length counts characters, not bytes")
}

func TestAsk_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		llm    *mockLLM
		code   ErrorCode
		reason string
	}{
		{name: "flagged", llm: &mockLLM{flagged: true}, code: ErrorInvalidInput, reason: "moderation_flagged"},
		{name: "moderation down", llm: &mockLLM{modErr: errors.New("timeout")}, code: ErrorUpstream, reason: "moderation_error"},
		{name: "moderation rate limited", llm: &mockLLM{modErr: &openai.HTTPStatusError{StatusCode: 429}}, code: ErrorRateLimited, reason: "moderation_rate_limited"},
		{name: "off topic", llm: &mockLLM{answer: scopedResponse(false, "")}, code: ErrorInvalidInput, reason: "relevance_off_topic"},
		{name: "chat rate limited", llm: &mockLLM{err: &openai.HTTPStatusError{StatusCode: 429}}, code: ErrorRateLimited, reason: "openai_rate_limited"},
		{name: "chat error", llm: &mockLLM{err: &openai.HTTPStatusError{StatusCode: 502}}, code: ErrorUpstream, reason: "openai_error"},
		{name: "malformed", llm: &mockLLM{answer: `{"in_scope":true}`}, code: ErrorUpstream, reason: "openai_malformed_response"},
		{name: "trailing data", llm: &mockLLM{answer: scopedResponse(true, "a") + `{}`}, code: ErrorUpstream, reason: "openai_malformed_response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			s, _ := newAskService(t, tc.llm, store, AskOptions{})
			_, err := s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "Which office handles the car?"})
			var ue *Error
			require.True(t, errors.As(err, &ue))
			require.Equal(t, tc.code, ue.Code)
			require.Equal(t, tc.reason, ue.Reason)
			require.Empty(t, store.chats["o1"], "rejected questions are not stored")
		})
	}
}

func TestAsk_StoreFailures(t *testing.T) {
	store := newMemStore()
	store.chatErr = errBoom
	s, _ := newAskService(t, &mockLLM{answer: scopedResponse(true, "ok")}, store, AskOptions{})
	_, err := s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "hello?"})
	require.Equal(t, ErrorStore, CodeOf(err))

	params := &mockParams{err: errors.New("ssm down")}
	s, err = NewAskService(params, &mockLLM{}, newMemStore(), store, store, "/estate", AskOptions{})
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), AskInput{OwnerID: "o1", Question: "hello?"})
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestChatTurnMessages_SkipsIncompleteTurns(t *testing.T) {
	require.Nil(t, chatTurnMessages(domain.ChatTurn{Question: "q"}))
	msgs := buildAskMessages(askContext{}, "now?", []domain.ChatTurn{{Question: " ", Answer: "a"}, {Question: "q", Answer: "a"}})
	require.Len(t, msgs, 5)
	require.True(t, strings.HasPrefix(msgs[0].Content, "Role:"))
}
