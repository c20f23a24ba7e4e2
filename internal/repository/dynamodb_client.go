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
)

const (
	skEventPrefix    = "EVENT#"
	skReplyPrefix    = "REPLY#"
	skProfile        = "PROFILE#"
	skMeta           = "META#"
	skScenePrefix    = "SCENE#"
	skFeedbackPrefix = "FEEDBACK#"

	gsiJobStatus   = "GSI1"
	gsiJobStatusPK = "JOBSTATUS#"

	ledgerTTL = 30 * 24 * time.Hour // 30-day TTL on intake/outbox ledgers

	// sortableTime keeps lexical order equal to chronological order.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores every BookSoul record in one DynamoDB table. All writes that
// guard an invariant are conditional; losing a condition is reported as a
// boolean or a domain sentinel, never as a raw AWS error.
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

func convPK(conversationID string) string { return "CONV#" + conversationID }
func bookPK(bookID string) string         { return "BOOK#" + bookID }
func jobPK(jobID string) string           { return "JOB#" + jobID }

func eventSK(eventID string) string { return skEventPrefix + eventID }
func replySK(eventID string) string { return skReplyPrefix + eventID }
func sceneSK(sceneID string) string { return skScenePrefix + sceneID }

func feedbackSK(at time.Time, id string) string {
	return skFeedbackPrefix + at.UTC().Format(sortableTime) + "#" + id
}

func jobStatusKey(status string) string { return gsiJobStatusPK + status }

func jobOrderKey(createdAt time.Time, jobID string) string {
	return createdAt.UTC().Format(sortableTime) + "#" + jobID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ttlValue returns a Unix timestamp one ledger retention period after t.
func ttlValue(t time.Time) int64 {
	return t.Add(ledgerTTL).Unix()
}

// conditionFailed reports whether err is a lost conditional write, either a
// single-item ConditionalCheckFailedException or a cancelled transaction whose
// reasons include ConditionalCheckFailed.
func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	return len(cancelledItems(err)) > 0
}

// cancelledItems returns the transaction item indexes that failed their condition.
func cancelledItems(err error) []int {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	var idx []int
	for i, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			idx = append(idx, i)
		}
	}
	return idx
}

// oldItemOnConditionFailure returns the item DynamoDB echoed back for a failed
// condition, or nil when the item did not exist.
func oldItemOnConditionFailure(err error) map[string]types.AttributeValue {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item
	}
	return nil
}

func (c *Client) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func strVal(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}

func numVal(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func boolVal(b bool) *types.AttributeValueMemberBOOL {
	return &types.AttributeValueMemberBOOL{Value: b}
}

// millisVal encodes t as Unix milliseconds; the zero time encodes as 0.
func millisVal(t time.Time) *types.AttributeValueMemberN {
	if t.IsZero() {
		return numVal(0)
	}
	return numVal(t.UnixMilli())
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
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := item[key].(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
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

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, _ := item[key].(*types.AttributeValueMemberBOOL)
	return b != nil && b.Value
}

// timeAttr decodes a Unix-millisecond attribute; absent or 0 yields the zero time.
func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	v, ok := item[key]
	if !ok {
		return time.Time{}, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	ms, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}
