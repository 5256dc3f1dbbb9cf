package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoClickStore keeps ad click traces in a DynamoDB table keyed by click_id.
type DynamoClickStore struct {
	client dynamoAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

type clickItem struct {
	ClickID           string `dynamodbav:"click_id"`
	CampaignID        string `dynamodbav:"campaign_id"`
	DeviceFingerprint string `dynamodbav:"device_fingerprint,omitempty"`
	IPAddress         string `dynamodbav:"ip_address,omitempty"`
	SourceURL         string `dynamodbav:"source_url,omitempty"`
	SourceID          string `dynamodbav:"source_id,omitempty"`
	ClickedAt         int64  `dynamodbav:"clicked_at"`
	ExpiresAt         int64  `dynamodbav:"expires_at,omitempty"`
}

// NewDynamoClickStore wraps a DynamoDB client. ttl sets the expires_at
// attribute used by table TTL; zero disables it.
func NewDynamoClickStore(client *dynamodb.Client, table string, ttl time.Duration) *DynamoClickStore {
	if client == nil {
		panic("attribution: dynamodb client required")
	}
	return newDynamoClickStore(client, table, ttl)
}

func newDynamoClickStore(client dynamoAPI, table string, ttl time.Duration) *DynamoClickStore {
	if strings.TrimSpace(table) == "" {
		panic("attribution: click traces table required")
	}
	return &DynamoClickStore{
		client: client,
		table:  table,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordClick writes the trace once; a second write for the same click id is ignored.
func (s *DynamoClickStore) RecordClick(ctx context.Context, c *AdClickTrace) error {
	if err := prepareClick(c, s.now()); err != nil {
		return err
	}
	item := clickItem{
		ClickID:           c.ClickID,
		CampaignID:        c.CampaignID,
		DeviceFingerprint: c.DeviceFingerprint,
		IPAddress:         c.IPAddress,
		SourceURL:         c.SourceURL,
		SourceID:          c.SourceID,
		ClickedAt:         c.ClickedAt.UTC().UnixMilli(),
	}
	if s.ttl > 0 {
		item.ExpiresAt = c.ClickedAt.Add(s.ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("attribution: marshal click: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(click_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("attribution: put click: %w", err)
	}
	return nil
}

func (s *DynamoClickStore) GetClick(ctx context.Context, clickID string) (*AdClickTrace, error) {
	clickID = strings.TrimSpace(clickID)
	if clickID == "" {
		return nil, ErrNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"click_id": &types.AttributeValueMemberS{Value: clickID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("attribution: get click: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item clickItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("attribution: unmarshal click: %w", err)
	}
	return &AdClickTrace{
		ClickID:           item.ClickID,
		CampaignID:        item.CampaignID,
		DeviceFingerprint: item.DeviceFingerprint,
		IPAddress:         item.IPAddress,
		SourceURL:         item.SourceURL,
		SourceID:          item.SourceID,
		ClickedAt:         time.UnixMilli(item.ClickedAt).UTC(),
	}, nil
}
