package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
)

// OwnerByChannel resolves the owner bound to a channel identity.
func (c *Client) OwnerByChannel(ctx context.Context, channelID string) (string, error) {
	item, err := c.getItem(ctx, channelPK(channelID), skOwner)
	if err != nil {
		return "", fmt.Errorf("repository: OwnerByChannel: %w", err)
	}
	if item == nil {
		return "", ErrNotFound
	}
	ownerID, err := strAttr(item, "ownerId")
	if err != nil {
		return "", fmt.Errorf("repository: OwnerByChannel decode: %w", err)
	}
	return ownerID, nil
}

// RegisterChannel binds channelID to ownerID unless another owner got there
// first, and returns whichever owner is bound.
func (c *Client) RegisterChannel(ctx context.Context, channelID, ownerID string) (string, error) {
	if channelID == "" || ownerID == "" {
		return "", errors.New("repository: RegisterChannel: channel id and owner id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      strVal(channelPK(channelID)),
			"SK":      strVal(skOwner),
			"ownerId": strVal(ownerID),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return ownerID, nil
	}
	if !isConditionFailed(err) {
		return "", fmt.Errorf("repository: RegisterChannel: %w", err)
	}
	return c.OwnerByChannel(ctx, channelID)
}

// GetProfile returns ErrNotFound before the first profile write.
func (c *Client) GetProfile(ctx context.Context, ownerID string) (domain.Profile, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), skProfile)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: GetProfile: %w", err)
	}
	if item == nil {
		return domain.Profile{}, ErrNotFound
	}
	refDate, err := optTimeAttr(item, "referenceDate")
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: GetProfile decode: %w", err)
	}
	relationship, _ := optStrAttr(item, "relationship")
	region, _ := optStrAttr(item, "region")
	municipality, _ := optStrAttr(item, "municipality")
	return domain.Profile{
		OwnerID:       ownerID,
		Relationship:  relationship,
		Region:        region,
		Municipality:  municipality,
		ReferenceDate: refDate,
	}, nil
}

// PutProfile writes or replaces the owner's profile.
func (c *Client) PutProfile(ctx context.Context, p domain.Profile) error {
	if p.OwnerID == "" {
		return errors.New("repository: PutProfile: owner id is required")
	}
	item := map[string]types.AttributeValue{
		"PK":           strVal(ownerPK(p.OwnerID)),
		"SK":           strVal(skProfile),
		"relationship": strVal(p.Relationship),
		"region":       strVal(p.Region),
		"municipality": strVal(p.Municipality),
	}
	putOptTime(item, "referenceDate", p.ReferenceDate)

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutProfile: %w", err)
	}
	return nil
}
