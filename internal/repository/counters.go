package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func rateSK(day string) string {
	return skPrefixRate + day
}

// IncrementDailyCounter atomically adds one to the owner's counter for day
// and returns the new value. expiresAt feeds the table TTL.
func (c *Client) IncrementDailyCounter(ctx context.Context, ownerID, day string, expiresAt time.Time) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      key(ownerPK(ownerID), rateSK(day)),
		UpdateExpression:         aws.String("ADD #count :one SET #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{"#count": "count", "#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": intVal(1),
			":ttl": int64Val(expiresAt.Unix()),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementDailyCounter: %w", err)
	}
	if out == nil {
		return 0, fmt.Errorf("repository: IncrementDailyCounter: no attributes returned")
	}
	n, err := intAttr(out.Attributes, "count")
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementDailyCounter decode count: %w", err)
	}
	return n, nil
}

// GetDailyCounter returns 0 when no request was counted on day.
func (c *Client) GetDailyCounter(ctx context.Context, ownerID, day string) (int, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), rateSK(day))
	if err != nil {
		return 0, fmt.Errorf("repository: GetDailyCounter: %w", err)
	}
	if item == nil {
		return 0, nil
	}
	n, err := intAttr(item, "count")
	if err != nil {
		return 0, fmt.Errorf("repository: GetDailyCounter decode count: %w", err)
	}
	return n, nil
}
