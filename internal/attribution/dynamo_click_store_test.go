package attribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDynamo struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func (s *stubDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	key := in.Item["click_id"].(*types.AttributeValueMemberS).Value
	if _, exists := s.items[key]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	s.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (s *stubDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["click_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: s.items[key]}, nil
}

func TestDynamoClickStoreRoundTrip(t *testing.T) {
	stub := &stubDynamo{items: map[string]map[string]types.AttributeValue{}}
	store := newDynamoClickStore(stub, "click_traces", 24*time.Hour)
	ctx := context.Background()

	clicked := baseTime.Truncate(time.Millisecond)
	require.NoError(t, store.RecordClick(ctx, &AdClickTrace{ClickID: "clid-1", CampaignID: "c1", SourceURL: "https://fb.me/x", ClickedAt: clicked}))
	require.NoError(t, store.RecordClick(ctx, &AdClickTrace{ClickID: "clid-1", CampaignID: "c2"}))

	got, err := store.GetClick(ctx, "clid-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CampaignID)
	assert.Equal(t, "https://fb.me/x", got.SourceURL)
	assert.True(t, got.ClickedAt.Equal(clicked))

	_, err = store.GetClick(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoClickStorePutError(t *testing.T) {
	stub := &stubDynamo{items: map[string]map[string]types.AttributeValue{}, putErr: errors.New("throttled")}
	store := newDynamoClickStore(stub, "click_traces", 0)
	err := store.RecordClick(context.Background(), &AdClickTrace{ClickID: "clid-1"})
	assert.Error(t, err)
}
