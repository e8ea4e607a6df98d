package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
)

// GetFlowState returns the owner's current flow state, if any.
// Expiry is left to the caller; DynamoDB TTL deletion is lazy.
func (c *Client) GetFlowState(ctx context.Context, ownerID string) (domain.ConversationState, bool, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), skFlow)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: GetFlowState: %w", err)
	}
	if item == nil {
		return domain.ConversationState{}, false, nil
	}
	st, err := itemToFlowState(ownerID, item)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: GetFlowState decode: %w", err)
	}
	return st, true, nil
}

// PutFlowState replaces the owner's single flow state record.
func (c *Client) PutFlowState(ctx context.Context, st domain.ConversationState) error {
	if st.OwnerID == "" {
		return fmt.Errorf("repository: PutFlowState: owner id is required")
	}
	item := map[string]types.AttributeValue{
		"PK":        strVal(ownerPK(st.OwnerID)),
		"SK":        strVal(skFlow),
		"state":     strVal(string(st.Name)),
		"updatedAt": timeVal(st.UpdatedAt),
	}
	if len(st.Data) > 0 {
		item["data"] = stringMapVal(st.Data)
	}
	if !st.ExpiresAt.IsZero() {
		item["expiresAt"] = timeVal(st.ExpiresAt)
		item["ttl"] = int64Val(st.ExpiresAt.Unix())
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutFlowState: %w", err)
	}
	return nil
}

// DeleteFlowState removes the owner's flow state. With a non-empty name the
// delete only applies while that state is current.
func (c *Client) DeleteFlowState(ctx context.Context, ownerID string, name domain.FlowState) error {
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(ownerPK(ownerID), skFlow),
	}
	if name != "" {
		in.ConditionExpression = aws.String("#state = :state")
		in.ExpressionAttributeNames = map[string]string{"#state": "state"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":state": strVal(string(name))}
	}

	_, err := c.api.DeleteItem(ctx, in)
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: DeleteFlowState: %w", err)
	}
	return nil
}

func itemToFlowState(ownerID string, item map[string]types.AttributeValue) (domain.ConversationState, error) {
	name, err := strAttr(item, "state")
	if err != nil {
		return domain.ConversationState{}, err
	}
	expiresAt, err := timeAttr(item, "expiresAt")
	if err != nil {
		return domain.ConversationState{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.ConversationState{}, err
	}
	return domain.ConversationState{
		OwnerID:   ownerID,
		Name:      domain.FlowState(name),
		Data:      stringMapAttr(item, "data"),
		ExpiresAt: expiresAt,
		UpdatedAt: updatedAt,
	}, nil
}
