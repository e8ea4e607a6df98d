package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"estate-assistant/internal/domain"
)

var taskListSchema = domain.ResponseSchema{
	Name: "task_list",
	Schema: json.RawMessage(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"tasks":{
				"type":"array",
				"items":{
					"type":"object",
					"additionalProperties":false,
					"properties":{
						"title":{"type":"string"},
						"description":{"type":"string"},
						"category":{"type":"string"},
						"priority":{"type":"string","enum":["high","medium","low"]},
						"due_days":{"type":"integer"},
						"tips":{"type":"string"}
					},
					"required":["title","description","category","priority","due_days","tips"]
				}
			}
		},
		"required":["tasks"]
	}`),
}

type taskListResponse struct {
	Tasks []domain.TaskDraft `json:"tasks"`
}

func buildGenerationMessages(req GenerationRequest) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildStagePolicy(req.Stage)},
		{Role: "user", Content: buildSituationPrompt(req)},
	}
}

func buildStagePolicy(stage domain.Stage) string {
	lines := []string{
		"Role:",
		"You help a bereaved family member through the administrative procedures that follow a death.",
		"",
		"Task:",
	}
	switch stage {
	case domain.StagePersonalized:
		lines = append(lines,
			"Using the follow-up answers, list additional procedures specific to this situation.",
			"Do not repeat any procedure listed under Existing Tasks.",
		)
	case domain.StageEnhanced:
		lines = append(lines,
			"For procedures listed under Existing Tasks, give practical tips from people who went through them.",
			"Use the exact existing task title in title and put the advice in tips.",
			"You may add at most one extra item summarizing things everyone should know.",
		)
	default:
		lines = append(lines,
			"List the 10 to 15 most important procedures for this situation, most urgent first.",
		)
	}
	lines = append(lines,
		"",
		"Rules:",
		"1) due_days counts days from the reference date.",
		"2) Keep titles short and descriptions concrete.",
		"3) Mention the municipality when a procedure happens at a local office.",
		"",
		"Output Contract:",
		"Return JSON only with key tasks, an array of objects with title, description, category, priority (high, medium or low), due_days and tips.",
	)
	return strings.Join(lines, "\n")
}

func buildSituationPrompt(req GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Relationship to the deceased: %s\n", normalizePromptInput(req.Profile.Relationship))
	fmt.Fprintf(&b, "Location: %s\n", normalizePromptInput(req.Profile.Location()))
	if req.Profile.ReferenceDate != nil {
		fmt.Fprintf(&b, "Reference date: %s\n", req.Profile.ReferenceDate.Format("2006-01-02"))
	}
	if len(req.Answers) > 0 {
		b.WriteString("\nFollow-up Answers:\n")
		keys := make([]string, 0, len(req.Answers))
		for k := range req.Answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, normalizePromptInput(req.Answers[k]))
		}
	}
	if len(req.ExistingTitles) > 0 {
		b.WriteString("\nExisting Tasks:\n")
		for _, t := range req.ExistingTitles {
			fmt.Fprintf(&b, "- %s\n", normalizePromptInput(t))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func parseTaskList(raw string) ([]domain.TaskDraft, error) {
	var out taskListResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("usecase: decode task list: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("usecase: decode task list: multiple JSON values")
		}
		return nil, fmt.Errorf("usecase: decode task list trailing data: %w", err)
	}
	if out.Tasks == nil {
		return nil, errors.New("usecase: task list missing tasks")
	}
	return out.Tasks, nil
}

var scopedAnswerSchema = domain.ResponseSchema{
	Name: "scoped_answer",
	Schema: json.RawMessage(`{
		"type":"object",
		"additionalProperties":false,
		"properties":{
			"in_scope":{"type":"boolean"},
			"answer":{"type":"string"}
		},
		"required":["in_scope","answer"]
	}`),
}

type scopedAnswerResponse struct {
	InScope bool   `json:"in_scope"`
	Answer  string `json:"answer"`
}

// askContext is the owner situation an answer may draw on.
type askContext struct {
	profile domain.Profile
	tasks   []domain.Task
}

func buildAskMessages(ac askContext, question string, history []domain.ChatTurn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildAskPolicy()},
		{Role: "system", Content: buildOwnerContextPrompt(ac)},
	}
	for _, turn := range history {
		messages = append(messages, chatTurnMessages(turn)...)
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: question})
}

func buildAskPolicy() string {
	return strings.Join([]string{
		"Role:",
		"You help a bereaved family member with the procedures that follow a death.",
		"",
		"Task:",
		"Decide whether the question concerns these procedures, inheritance or the owner's checklist.",
		"If it does, answer it using the owner context and the earlier turns.",
		"If it does not, return out of scope.",
		"",
		"Rules:",
		"1) Answer only the current question.",
		"2) Be brief, warm and concrete; name the office or document when you know it.",
		"3) Refer to checklist items by their exact title.",
		"4) Do not give binding legal or tax advice; suggest a professional for complex cases.",
		"5) If the answer depends on facts you do not have, say what is needed.",
		"",
		"Output Contract:",
		"Return JSON only with keys in_scope (boolean) and answer (string). " +
			"If out of scope, return in_scope=false and answer=\"\".",
	}, "\n")
}

func buildOwnerContextPrompt(ac askContext) string {
	var b strings.Builder
	b.WriteString("Owner Context:\n")
	fmt.Fprintf(&b, "Relationship to the deceased: %s\n", normalizePromptInput(ac.profile.Relationship))
	fmt.Fprintf(&b, "Location: %s\n", normalizePromptInput(ac.profile.Location()))
	if ac.profile.ReferenceDate != nil {
		fmt.Fprintf(&b, "Date of death: %s\n", ac.profile.ReferenceDate.Format("2006-01-02"))
	}
	if len(ac.tasks) > 0 {
		b.WriteString("\nChecklist:\n")
		for _, t := range ac.tasks {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Status, normalizePromptInput(t.Title))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func chatTurnMessages(turn domain.ChatTurn) []domain.ChatMessage {
	question := strings.TrimSpace(turn.Question)
	answer := strings.TrimSpace(turn.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: "user", Content: question},
		{Role: "assistant", Content: answer},
	}
}

func parseScopedAnswer(raw string) (scopedAnswerResponse, error) {
	var out scopedAnswerResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return scopedAnswerResponse{}, fmt.Errorf("usecase: decode scoped answer: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return scopedAnswerResponse{}, errors.New("usecase: decode scoped answer: multiple JSON values")
		}
		return scopedAnswerResponse{}, fmt.Errorf("usecase: decode scoped answer trailing data: %w", err)
	}
	if out.InScope && strings.TrimSpace(out.Answer) == "" {
		return scopedAnswerResponse{}, errors.New("usecase: scoped answer missing answer for in-scope question")
	}
	return out, nil
}
