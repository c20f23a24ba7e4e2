package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	mu sync.Mutex

	getOut    *dynamodb.GetItemOutput
	getErr    error
	putErr    error
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	updateFn  func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	queryOuts []*dynamodb.QueryOutput
	queryErr  error
	txErr     error

	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
	queryInputs     []dynamodb.QueryInput
	lastTxInput     *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGetInput = in
	if f.getOut == nil && f.getErr == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdateInput = in
	if f.updateFn != nil {
		return f.updateFn(in)
	}
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, f.updateErr
	}
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryInputs = append(f.queryInputs, *in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func ccfErr(item map[string]types.AttributeValue) error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed"), Item: item}
}

// txCancelled builds a cancelled transaction with a condition failure at idx.
func txCancelled(n, idx int) error {
	reasons := make([]types.CancellationReason, n)
	for i := range reasons {
		reasons[i].Code = aws.String("None")
	}
	reasons[idx].Code = aws.String("ConditionalCheckFailed")
	return &types.TransactionCanceledException{Message: aws.String("Transaction cancelled"), CancellationReasons: reasons}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func sAttr(item map[string]types.AttributeValue, k string) string {
	return item[k].(*types.AttributeValueMemberS).Value
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestKeys(t *testing.T) {
	require.Equal(t, "CONV#c1", convPK("c1"))
	require.Equal(t, "BOOK#BKS-1", bookPK("BKS-1"))
	require.Equal(t, "JOB#j1", jobPK("j1"))
	require.Equal(t, "EVENT#42", eventSK("42"))
	require.Equal(t, "REPLY#42", replySK("42"))
	require.Equal(t, "SCENE#scene_001", sceneSK("scene_001"))
	require.Equal(t, "JOBSTATUS#pending", jobStatusKey("pending"))
}

func TestJobOrderKey_SortsChronologically(t *testing.T) {
	early := jobOrderKey(time.Date(2026, 2, 25, 9, 59, 59, 0, time.UTC), "z")
	late := jobOrderKey(time.Date(2026, 2, 25, 10, 0, 0, 1, time.UTC), "a")
	require.Less(t, early, late)
}

func TestConditionFailed(t *testing.T) {
	require.True(t, conditionFailed(ccfErr(nil)))
	require.True(t, conditionFailed(txCancelled(2, 1)))
	require.False(t, conditionFailed(errors.New("boom")))
	require.False(t, conditionFailed(nil))
	require.Equal(t, []int{1}, cancelledItems(txCancelled(3, 1)))
}

func TestTimeAttr_RoundTripsMillis(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)
	item := map[string]types.AttributeValue{"at": millisVal(at), "zero": millisVal(time.Time{})}
	got, err := timeAttr(item, "at")
	require.NoError(t, err)
	require.True(t, at.Equal(got))

	got, err = timeAttr(item, "zero")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = timeAttr(item, "absent")
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestQueryAll_FollowsPagination(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{key("A", "1")}, LastEvaluatedKey: key("A", "1")},
		{Items: []map[string]types.AttributeValue{key("A", "2")}},
	}}
	c := mustNewClient(t, db)
	items, err := c.queryAll(context.Background(), &dynamodb.QueryInput{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, db.queryInputs, 2)
	require.Equal(t, "1", sAttr(db.queryInputs[1].ExclusiveStartKey, "SK"))
}
