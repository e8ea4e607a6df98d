package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/usecase"
)

const (
	skOwner       = "OWNER"
	skProfile     = "PROFILE"
	skFlow        = "FLOW"
	skEntitlement = "ENTITLEMENT"
	skPrefixStep  = "STEP#"
	skPrefixLog   = "STEPLOG#"
	skPrefixTask  = "TASK#"
	skPrefixQ     = "QUESTION#"
	skPrefixRate  = "RATE#"
	skPrefixChat  = "CHAT#"

	// batchWriteLimit is the DynamoDB cap on items per BatchWriteItem call.
	batchWriteLimit = 25
	// batchRetries bounds resubmission of unprocessed batch items.
	batchRetries = 5

	// timeLayout is fixed width so stored timestamps compare correctly as strings.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = domain.ErrNotFound

var (
	_ usecase.StateStore        = (*Client)(nil)
	_ usecase.StepStore         = (*Client)(nil)
	_ usecase.TaskStore         = (*Client)(nil)
	_ usecase.QuestionStore     = (*Client)(nil)
	_ usecase.UserStore         = (*Client)(nil)
	_ usecase.CounterStore      = (*Client)(nil)
	_ usecase.EntitlementReader = (*Client)(nil)
	_ usecase.ChatStore         = (*Client)(nil)
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the single DynamoDB table holding all assistant state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func ownerPK(ownerID string) string {
	return "OWNER#" + ownerID
}

func channelPK(channelID string) string {
	return "CHANNEL#" + channelID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem reads one item with a consistent read; a nil map means no item.
func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// queryPrefix pages through every item under pk whose sort key starts with prefix.
func (c *Client) queryPrefix(ctx context.Context, pk, prefix string, forward bool, limit int) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(forward),
		ConsistentRead:   aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(items) >= limit) {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// batchWrite submits write requests in chunks and resubmits unprocessed items.
func (c *Client) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	for start := 0; start < len(reqs); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(reqs))
		pending := map[string][]types.WriteRequest{c.tableName: reqs[start:end]}
		for attempt := 0; len(pending[c.tableName]) > 0; attempt++ {
			if attempt >= batchRetries {
				return fmt.Errorf("%d unprocessed items after %d attempts", len(pending[c.tableName]), attempt)
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			if out == nil {
				break
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// isConditionFailed reports whether err is a failed condition expression,
// either on a single write or as the cancellation reason of a transaction.
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ConditionalCheckFailedException", "TransactionCanceledException":
		return true
	default:
		return false
	}
}

func strVal(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func intVal(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func int64Val(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func boolVal(b bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: b}
}

func timeVal(t time.Time) types.AttributeValue {
	return strVal(t.UTC().Format(timeLayout))
}

func stringMapVal(m map[string]string) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = strVal(v)
	}
	return &types.AttributeValueMemberM{Value: out}
}

func stringListVal(list []string) types.AttributeValue {
	out := make([]types.AttributeValue, 0, len(list))
	for _, s := range list {
		out = append(out, strVal(s))
	}
	return &types.AttributeValueMemberL{Value: out}
}

// putOptTime sets key only when t is set.
func putOptTime(item map[string]types.AttributeValue, key string, t *time.Time) {
	if t != nil {
		item[key] = timeVal(*t)
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" for an absent attribute.
func optStrAttr(item map[string]types.AttributeValue, key string) (string, error) {
	if _, ok := item[key]; !ok {
		return "", nil
	}
	return strAttr(item, key)
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// optIntAttr returns 0 for an absent attribute.
func optIntAttr(item map[string]types.AttributeValue, key string) (int, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return intAttr(item, key)
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

// optTimeAttr returns nil for an absent attribute.
func optTimeAttr(item map[string]types.AttributeValue, key string) (*time.Time, error) {
	s, err := optStrAttr(item, key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return &t, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	t, err := optTimeAttr(item, key)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

func stringMapAttr(item map[string]types.AttributeValue, key string) map[string]string {
	m, ok := item[key].(*types.AttributeValueMemberM)
	if !ok || len(m.Value) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}

func stringListAttr(item map[string]types.AttributeValue, key string) []string {
	l, ok := item[key].(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, v := range l.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}
