package domain

import "time"

type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionMultipleSelect QuestionType = "multiple_select"
)

// FollowUpQuestion is a clarifying question asked after the basic stage.
type FollowUpQuestion struct {
	OwnerID           string
	Key               string
	Text              string
	Type              QuestionType
	Options           []string
	DisplayOrder      int
	Answer            string
	IsAnswered        bool
	AnsweredAt        *time.Time
	ParentQuestionKey string
}
