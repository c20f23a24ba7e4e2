package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booksoul/internal/domain"
)

const (
	condItemAbsent    = "attribute_not_exists(PK)"
	condItemExists    = "attribute_exists(PK)"
	condReplyUnsent   = "attribute_not_exists(sent) OR sent = :false"
	condReplyReserved = "sent = :true"
)

// RecordIntake creates the intake record for (conversationId, eventId) unless
// one already exists. It reports whether this call was the creator; a
// duplicate delivery is the expected dedup path and returns (false, nil).
func (c *Client) RecordIntake(ctx context.Context, rec domain.IntakeRecord) (bool, error) {
	if strings.TrimSpace(rec.ConversationID) == "" || strings.TrimSpace(rec.EventID) == "" {
		return false, errors.New("repository: RecordIntake: conversation and event ids are required")
	}
	item := key(convPK(rec.ConversationID), eventSK(rec.EventID))
	item["conversationId"] = strVal(rec.ConversationID)
	item["eventId"] = strVal(rec.EventID)
	item["rawPayload"] = strVal(rec.RawPayload)
	item["text"] = strVal(rec.ExtractedText)
	item["receivedAt"] = millisVal(rec.ReceivedAt)
	item["status"] = strVal(rec.Status)
	item["ttl"] = numVal(ttlValue(rec.ReceivedAt))

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(condItemAbsent),
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: RecordIntake: %w", err)
	}
	return true, nil
}

// GetReply returns the outbox record for the key. An absent record reads as
// not sent.
func (c *Client) GetReply(ctx context.Context, conversationID, eventID string) (domain.OutboxRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(conversationID), replySK(eventID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.OutboxRecord{}, fmt.Errorf("repository: GetReply: %w", err)
	}
	rec := domain.OutboxRecord{ConversationID: conversationID, EventID: eventID}
	if out == nil || len(out.Item) == 0 {
		return rec, nil
	}
	rec.Sent = boolAttr(out.Item, "sent")
	if rec.SentAt, err = timeAttr(out.Item, "sentAt"); err != nil {
		return domain.OutboxRecord{}, fmt.Errorf("repository: GetReply: %w", err)
	}
	return rec, nil
}

// ReserveReply flips the outbox record's sent flag from false (or absent) to
// true. Only the caller that wins the flip may transmit the reply.
func (c *Client) ReserveReply(ctx context.Context, conversationID, eventID string, at time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(conversationID), replySK(eventID)),
		UpdateExpression:    aws.String("SET sent = :true, sentAt = :at, conversationId = :cid, eventId = :eid, #ttl = :ttl"),
		ConditionExpression: aws.String(condReplyUnsent),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  boolVal(true),
			":false": boolVal(false),
			":at":    millisVal(at),
			":cid":   strVal(conversationID),
			":eid":   strVal(eventID),
			":ttl":   numVal(ttlValue(at)),
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: ReserveReply: %w", err)
	}
	return true, nil
}

// ReleaseReply undoes a reservation whose transmission failed.
func (c *Client) ReleaseReply(ctx context.Context, conversationID, eventID string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(conversationID), replySK(eventID)),
		UpdateExpression:    aws.String("SET sent = :false REMOVE sentAt"),
		ConditionExpression: aws.String(condReplyReserved),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  boolVal(true),
			":false": boolVal(false),
		},
	})
	if conditionFailed(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repository: ReleaseReply: %w", err)
	}
	return nil
}
