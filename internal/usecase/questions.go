package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const (
	answerYes = "yes"
	answerNo  = "no"
)

type questionTemplate struct {
	key     string
	text    string
	typ     domain.QuestionType
	options []string
}

var baseQuestions = []questionTemplate{
	{key: "has_pension", text: "Was the deceased receiving a pension?", typ: domain.QuestionYesNo},
	{key: "has_care_insurance", text: "Was the deceased using long-term care insurance services?", typ: domain.QuestionYesNo},
	{key: "has_real_estate", text: "Did the deceased own a house, land or other real estate?", typ: domain.QuestionYesNo},
	{key: "has_vehicle", text: "Did the deceased own a car, motorcycle or other vehicle?", typ: domain.QuestionYesNo},
	{key: "has_life_insurance", text: "Did the deceased have life insurance?", typ: domain.QuestionYesNo},
	{key: "is_self_employed", text: "Was the deceased self-employed?", typ: domain.QuestionYesNo},
}

// familyQuestions are asked when the owner is the spouse or parent.
var familyQuestions = []questionTemplate{
	{key: "is_dependent_family", text: "Are there family members who were supported by the deceased?", typ: domain.QuestionYesNo},
	{key: "has_children", text: "Are there children in the family?", typ: domain.QuestionYesNo},
}

var familyRelationships = map[string]bool{
	"spouse": true, "husband": true, "wife": true, "parent": true,
	"配偶者": true, "夫": true, "妻": true, "親": true,
}

// dependentQuestions are spawned by a "yes" to the parent key.
var dependentQuestions = map[string]questionTemplate{
	"has_real_estate": {
		key:     "real_estate_kinds",
		text:    "Which kinds of real estate? Select all that apply.",
		typ:     domain.QuestionMultipleSelect,
		options: []string{"house", "land", "condominium", "other"},
	},
	"has_vehicle": {
		key:     "vehicle_kind",
		text:    "Which kind of vehicle?",
		typ:     domain.QuestionMultipleChoice,
		options: []string{"car", "motorcycle", "both"},
	},
	"has_life_insurance": {
		key:     "life_insurance_count",
		text:    "How many life insurance policies were there?",
		typ:     domain.QuestionMultipleChoice,
		options: []string{"1", "2", "3 or more"},
	},
}

const displayOrderStep = 10

// QuestionCatalog creates, orders and answers follow-up questions.
type QuestionCatalog struct {
	store QuestionStore
	now   func() time.Time
}

func NewQuestionCatalog(store QuestionStore) (*QuestionCatalog, error) {
	if store == nil {
		return nil, errors.New("usecase: question store must not be nil")
	}
	return &QuestionCatalog{store: store, now: time.Now}, nil
}

// Seed inserts the question set for profile, skipping keys the owner
// already has. It returns the number of inserted questions.
func (c *QuestionCatalog) Seed(ctx context.Context, profile domain.Profile) (int, error) {
	templates := append([]questionTemplate(nil), baseQuestions...)
	if familyRelationships[strings.ToLower(strings.TrimSpace(profile.Relationship))] {
		templates = append(templates, familyQuestions...)
	}
	inserted := 0
	for i, t := range templates {
		ok, err := c.store.InsertQuestion(ctx, t.question(profile.OwnerID, (i+1)*displayOrderStep, ""))
		if err != nil {
			return inserted, newError(ErrorStore, "question_insert_error", err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Next returns the unanswered question with the lowest display order.
func (c *QuestionCatalog) Next(ctx context.Context, ownerID string) (domain.FollowUpQuestion, bool, error) {
	qs, err := c.store.ListQuestions(ctx, ownerID)
	if err != nil {
		return domain.FollowUpQuestion{}, false, newError(ErrorStore, "question_read_error", err)
	}
	sortQuestions(qs)
	for _, q := range qs {
		if !q.IsAnswered {
			return q, true, nil
		}
	}
	return domain.FollowUpQuestion{}, false, nil
}

// Answer records raw as the answer to q. A "yes" may insert a dependent
// question ordered right after q.
func (c *QuestionCatalog) Answer(ctx context.Context, q domain.FollowUpQuestion, raw string) (string, error) {
	answer, ok := normalizeAnswer(q, raw)
	if !ok {
		return "", newError(ErrorInvalidInput, "unrecognized_answer", nil)
	}
	recorded, err := c.store.AnswerQuestion(ctx, q.OwnerID, q.Key, answer, c.now())
	if err != nil {
		return "", newError(ErrorStore, "answer_write_error", err)
	}
	if !recorded {
		// A redelivery may follow a write that stored the answer but never
		// inserted the dependent question.
		if answer, err = c.storedAnswer(ctx, q); err != nil {
			return "", err
		}
		observability.LoggerFromContext(ctx).Info("question already answered", "question_key", q.Key)
	}
	if err := c.insertDependent(ctx, q, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// insertDependent adds the question unlocked by a "yes" to q. The insert is
// a no-op when the question exists.
func (c *QuestionCatalog) insertDependent(ctx context.Context, q domain.FollowUpQuestion, answer string) error {
	dep, ok := dependentQuestions[q.Key]
	if !ok || answer != answerYes {
		return nil
	}
	child := dep.question(q.OwnerID, q.DisplayOrder+1, q.Key)
	if _, err := c.store.InsertQuestion(ctx, child); err != nil {
		return newError(ErrorStore, "question_insert_error", err)
	}
	return nil
}

func (c *QuestionCatalog) storedAnswer(ctx context.Context, q domain.FollowUpQuestion) (string, error) {
	qs, err := c.store.ListQuestions(ctx, q.OwnerID)
	if err != nil {
		return "", newError(ErrorStore, "question_read_error", err)
	}
	for _, stored := range qs {
		if stored.Key == q.Key {
			return stored.Answer, nil
		}
	}
	return "", newError(ErrorNotFound, "question_not_found", nil)
}

// Answers returns key → answer for every answered question.
func (c *QuestionCatalog) Answers(ctx context.Context, ownerID string) (map[string]string, error) {
	qs, err := c.store.ListQuestions(ctx, ownerID)
	if err != nil {
		return nil, newError(ErrorStore, "question_read_error", err)
	}
	out := make(map[string]string, len(qs))
	for _, q := range qs {
		if q.IsAnswered {
			out[q.Key] = q.Answer
		}
	}
	return out, nil
}

func (t questionTemplate) question(ownerID string, order int, parent string) domain.FollowUpQuestion {
	return domain.FollowUpQuestion{
		OwnerID:           ownerID,
		Key:               t.key,
		Text:              t.text,
		Type:              t.typ,
		Options:           append([]string(nil), t.options...),
		DisplayOrder:      order,
		ParentQuestionKey: parent,
	}
}

func sortQuestions(qs []domain.FollowUpQuestion) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].DisplayOrder != qs[j].DisplayOrder {
			return qs[i].DisplayOrder < qs[j].DisplayOrder
		}
		return qs[i].Key < qs[j].Key
	})
}

// QuestionOptions returns the choices to offer for q.
func QuestionOptions(q domain.FollowUpQuestion) []string {
	if q.Type == domain.QuestionYesNo {
		return []string{answerYes, answerNo}
	}
	return q.Options
}

func normalizeAnswer(q domain.FollowUpQuestion, raw string) (string, bool) {
	s := strings.ToLower(normalizeInput(raw))
	if s == "" {
		return "", false
	}
	switch q.Type {
	case domain.QuestionYesNo:
		switch s {
		case "yes", "y", "true", "1", "はい":
			return answerYes, true
		case "no", "n", "false", "0", "いいえ":
			return answerNo, true
		}
		return "", false
	case domain.QuestionMultipleChoice:
		return matchOption(q.Options, s)
	case domain.QuestionMultipleSelect:
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == '、' || r == ' '
		})
		seen := make(map[string]bool, len(parts))
		var picked []string
		for _, p := range parts {
			opt, ok := matchOption(q.Options, p)
			if !ok {
				return "", false
			}
			if !seen[opt] {
				seen[opt] = true
				picked = append(picked, opt)
			}
		}
		if len(picked) == 0 {
			return "", false
		}
		return strings.Join(picked, ","), true
	}
	return "", false
}

func matchOption(options []string, s string) (string, bool) {
	for _, opt := range options {
		if strings.EqualFold(opt, s) {
			return opt, true
		}
	}
	if n, ok := parseIndex(s); ok && n <= len(options) {
		return options[n-1], true
	}
	return "", false
}
