package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"booksoul/internal/domain"
)

const (
	condNotGreeted  = "attribute_not_exists(greeted) OR greeted = :false"
	condBannerSeen  = "attribute_not_exists(lastBannerAt) OR lastBannerAt = :seen"
	condBannerUnset = "attribute_not_exists(lastBannerAt) OR lastBannerAt = :zero"
)

// TouchProfile records inbound activity for the conversation and returns the
// profile as it was before this touch. A conversation seen for the first time
// returns a profile with a zero FirstSeenAt.
func (c *Client) TouchProfile(ctx context.Context, conversationID string, at time.Time) (domain.ConversationProfile, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(convPK(conversationID), skProfile),
		UpdateExpression: aws.String("SET lastMessageAt = :at, firstSeenAt = if_not_exists(firstSeenAt, :at), conversationId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  millisVal(at),
			":cid": strVal(conversationID),
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return domain.ConversationProfile{}, fmt.Errorf("repository: TouchProfile: %w", err)
	}
	prev := domain.ConversationProfile{ConversationID: conversationID}
	if out == nil || len(out.Attributes) == 0 {
		return prev, nil
	}
	p, err := profileFromItem(conversationID, out.Attributes)
	if err != nil {
		return domain.ConversationProfile{}, fmt.Errorf("repository: TouchProfile: %w", err)
	}
	return p, nil
}

// GetProfile returns the current profile. An unknown conversation yields a
// zero profile, not an error.
func (c *Client) GetProfile(ctx context.Context, conversationID string) (domain.ConversationProfile, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(conversationID), skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationProfile{}, fmt.Errorf("repository: GetProfile: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationProfile{ConversationID: conversationID}, nil
	}
	p, err := profileFromItem(conversationID, out.Item)
	if err != nil {
		return domain.ConversationProfile{}, fmt.Errorf("repository: GetProfile: %w", err)
	}
	return p, nil
}

// MarkGreeted sets the greeted flag once per conversation. The caller that
// wins is the only one allowed to send the first-contact banner.
func (c *Client) MarkGreeted(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(conversationID), skProfile),
		UpdateExpression:    aws.String("SET greeted = :true, lastBannerAt = :at, conversationId = :cid"),
		ConditionExpression: aws.String(condNotGreeted),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  boolVal(true),
			":false": boolVal(false),
			":at":    millisVal(at),
			":cid":   strVal(conversationID),
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: MarkGreeted: %w", err)
	}
	return true, nil
}

// MarkBanner moves lastBannerAt from the value the caller observed to at.
// Concurrent callers that observed the same value race; exactly one wins.
func (c *Client) MarkBanner(ctx context.Context, conversationID string, seen, at time.Time) (bool, error) {
	cond := condBannerSeen
	values := map[string]types.AttributeValue{
		":at":  millisVal(at),
		":cid": strVal(conversationID),
	}
	if seen.IsZero() {
		cond = condBannerUnset
		values[":zero"] = numVal(0)
	} else {
		values[":seen"] = millisVal(seen)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(convPK(conversationID), skProfile),
		UpdateExpression:          aws.String("SET lastBannerAt = :at, conversationId = :cid"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: values,
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: MarkBanner: %w", err)
	}
	return true, nil
}

func profileFromItem(conversationID string, item map[string]types.AttributeValue) (domain.ConversationProfile, error) {
	p := domain.ConversationProfile{
		ConversationID: conversationID,
		Greeted:        boolAttr(item, "greeted"),
	}
	var err error
	if p.FirstSeenAt, err = timeAttr(item, "firstSeenAt"); err != nil {
		return p, err
	}
	if p.LastMessageAt, err = timeAttr(item, "lastMessageAt"); err != nil {
		return p, err
	}
	if p.LastBannerAt, err = timeAttr(item, "lastBannerAt"); err != nil {
		return p, err
	}
	return p, nil
}
