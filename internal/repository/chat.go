package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
)

func chatSK(at time.Time) string {
	return skPrefixChat + at.UTC().Format(timeLayout)
}

// RecentChatTurns reads the newest turns and returns them oldest first, ready
// for prompt assembly.
func (c *Client) RecentChatTurns(ctx context.Context, ownerID string, limit int) ([]domain.ChatTurn, error) {
	items, err := c.queryPrefix(ctx, ownerPK(ownerID), skPrefixChat, false, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentChatTurns query: %w", err)
	}
	turns := make([]domain.ChatTurn, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		turn, err := itemToChatTurn(ownerID, items[i])
		if err != nil {
			return nil, fmt.Errorf("repository: RecentChatTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// SaveChatTurn stores one exchange. expiresAt feeds the table TTL.
func (c *Client) SaveChatTurn(ctx context.Context, turn domain.ChatTurn, expiresAt time.Time) error {
	if turn.OwnerID == "" || turn.At.IsZero() {
		return fmt.Errorf("repository: SaveChatTurn: owner and time are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":       strVal(ownerPK(turn.OwnerID)),
			"SK":       strVal(chatSK(turn.At)),
			"question": strVal(turn.Question),
			"answer":   strVal(turn.Answer),
			"at":       timeVal(turn.At),
			"ttl":      int64Val(expiresAt.Unix()),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveChatTurn: %w", err)
	}
	return nil
}

func itemToChatTurn(ownerID string, item map[string]types.AttributeValue) (domain.ChatTurn, error) {
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	answer, err := optStrAttr(item, "answer")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	at, err := timeAttr(item, "at")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	return domain.ChatTurn{OwnerID: ownerID, Question: question, Answer: answer, At: at}, nil
}
