package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
)

func questionSK(questionKey string) string {
	return skPrefixQ + questionKey
}

// ListQuestions returns the owner's follow-up questions ordered by key.
func (c *Client) ListQuestions(ctx context.Context, ownerID string) ([]domain.FollowUpQuestion, error) {
	items, err := c.queryPrefix(ctx, ownerPK(ownerID), skPrefixQ, true, 0)
	if err != nil {
		return nil, fmt.Errorf("repository: ListQuestions query: %w", err)
	}

	qs := make([]domain.FollowUpQuestion, 0, len(items))
	for _, item := range items {
		q, err := itemToQuestion(ownerID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListQuestions unmarshal: %w", err)
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// InsertQuestion writes q unless a question with the same key exists.
func (c *Client) InsertQuestion(ctx context.Context, q domain.FollowUpQuestion) (bool, error) {
	if q.OwnerID == "" || q.Key == "" {
		return false, errors.New("repository: InsertQuestion: owner id and key are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                questionItem(q),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: InsertQuestion: %w", err)
	}
	return true, nil
}

// AnswerQuestion records the answer once; later answers are rejected.
func (c *Client) AnswerQuestion(ctx context.Context, ownerID, questionKey, answer string, at time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(ownerPK(ownerID), questionSK(questionKey)),
		UpdateExpression:    aws.String("SET answer = :answer, isAnswered = :true, answeredAt = :at"),
		ConditionExpression: aws.String("attribute_exists(PK) AND isAnswered = :false"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":answer": strVal(answer),
			":true":   boolVal(true),
			":false":  boolVal(false),
			":at":     timeVal(at),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: AnswerQuestion: %w", err)
	}
	return true, nil
}

func questionItem(q domain.FollowUpQuestion) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":           strVal(ownerPK(q.OwnerID)),
		"SK":           strVal(questionSK(q.Key)),
		"questionKey":  strVal(q.Key),
		"text":         strVal(q.Text),
		"questionType": strVal(string(q.Type)),
		"displayOrder": intVal(q.DisplayOrder),
		"isAnswered":   boolVal(q.IsAnswered),
	}
	if len(q.Options) > 0 {
		item["options"] = stringListVal(q.Options)
	}
	if q.IsAnswered {
		item["answer"] = strVal(q.Answer)
	}
	putOptTime(item, "answeredAt", q.AnsweredAt)
	if q.ParentQuestionKey != "" {
		item["parentKey"] = strVal(q.ParentQuestionKey)
	}
	return item
}

func itemToQuestion(ownerID string, item map[string]types.AttributeValue) (domain.FollowUpQuestion, error) {
	qKey, err := strAttr(item, "questionKey")
	if err != nil {
		return domain.FollowUpQuestion{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.FollowUpQuestion{}, err
	}
	qType, err := strAttr(item, "questionType")
	if err != nil {
		return domain.FollowUpQuestion{}, err
	}
	order, err := optIntAttr(item, "displayOrder")
	if err != nil {
		return domain.FollowUpQuestion{}, err
	}
	answeredAt, err := optTimeAttr(item, "answeredAt")
	if err != nil {
		return domain.FollowUpQuestion{}, err
	}
	answer, _ := optStrAttr(item, "answer")
	parent, _ := optStrAttr(item, "parentKey")

	return domain.FollowUpQuestion{
		OwnerID:           ownerID,
		Key:               qKey,
		Text:              text,
		Type:              domain.QuestionType(qType),
		Options:           stringListAttr(item, "options"),
		DisplayOrder:      order,
		Answer:            answer,
		IsAnswered:        boolAttr(item, "isAnswered"),
		AnsweredAt:        answeredAt,
		ParentQuestionKey: parent,
	}, nil
}
