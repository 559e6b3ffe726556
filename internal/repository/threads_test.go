package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"trackify/internal/domain"
)

type fakeDynamo struct {
	getInput    *dynamodb.GetItemInput
	getOutput   *dynamodb.GetItemOutput
	getErr      error
	writeInput  *dynamodb.TransactWriteItemsInput
	writeErr    error
	writeCalled bool
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInput = in
	return f.getOutput, f.getErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.writeCalled = true
	f.writeInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.writeErr
}

func itemAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key]
	require.True(t, ok, "missing attribute %q", key)
	s, ok := v.(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %q is not a string", key)
	return s.Value
}

func TestNewThreads_Validation(t *testing.T) {
	_, err := NewThreads(nil, "threads")
	require.Error(t, err)

	_, err = NewThreads(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestLastTurn_ReadsMetaRecord(t *testing.T) {
	fake := &fakeDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"lastQuestion": &types.AttributeValueMemberS{Value: "what is my balance?"},
				"lastAnswer":   &types.AttributeValueMemberS{Value: "Your balance is 2,500.00 NGN."},
				"lastQuery":    &types.AttributeValueMemberS{Value: "select balance from linked_accounts"},
			},
		},
	}
	store, err := NewThreads(fake, "threads")
	require.NoError(t, err)

	turn, found, err := store.LastTurn(context.Background(), "thread-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "what is my balance?", turn.Question)
	require.Equal(t, "Your balance is 2,500.00 NGN.", turn.Answer)
	require.Equal(t, "select balance from linked_accounts", turn.Query)

	require.Equal(t, "threads", *fake.getInput.TableName)
	require.True(t, *fake.getInput.ConsistentRead)
	require.Equal(t, "THREAD#thread-1", fake.getInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "META#", fake.getInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestLastTurn_NoMetaRecord(t *testing.T) {
	store, err := NewThreads(&fakeDynamo{getOutput: &dynamodb.GetItemOutput{}}, "threads")
	require.NoError(t, err)

	_, found, err := store.LastTurn(context.Background(), "thread-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLastTurn_EmptyMetaTreatedAsAbsent(t *testing.T) {
	fake := &fakeDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"threadId": &types.AttributeValueMemberS{Value: "thread-1"},
			},
		},
	}
	store, err := NewThreads(fake, "threads")
	require.NoError(t, err)

	_, found, err := store.LastTurn(context.Background(), "thread-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLastTurn_PropagatesError(t *testing.T) {
	store, err := NewThreads(&fakeDynamo{getErr: errors.New("throttled")}, "threads")
	require.NoError(t, err)

	_, _, err = store.LastTurn(context.Background(), "thread-1")
	require.ErrorContains(t, err, "throttled")
}

func TestSaveTurn_WritesTurnAndMetaTransactionally(t *testing.T) {
	fake := &fakeDynamo{}
	store, err := NewThreads(fake, "threads")
	require.NoError(t, err)
	fixed := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	turn := domain.TurnRecord{
		Question: "what is my balance?",
		Answer:   "Your balance is 2,500.00 NGN.",
		Query:    "select balance from linked_accounts",
	}
	require.NoError(t, store.SaveTurn(context.Background(), "thread-1", turn))
	require.True(t, fake.writeCalled)
	require.Len(t, fake.writeInput.TransactItems, 2)

	turnPut := fake.writeInput.TransactItems[0].Put
	require.Equal(t, "threads", *turnPut.TableName)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *turnPut.ConditionExpression)
	require.Equal(t, "THREAD#thread-1", itemAttr(t, turnPut.Item, "PK"))
	require.Equal(t, "TURN#"+fixed.Format(time.RFC3339Nano), itemAttr(t, turnPut.Item, "SK"))
	require.Equal(t, "what is my balance?", itemAttr(t, turnPut.Item, "question"))

	metaPut := fake.writeInput.TransactItems[1].Put
	require.Equal(t, "META#", itemAttr(t, metaPut.Item, "SK"))
	require.Equal(t, "what is my balance?", itemAttr(t, metaPut.Item, "lastQuestion"))
	require.Equal(t, "Your balance is 2,500.00 NGN.", itemAttr(t, metaPut.Item, "lastAnswer"))
	require.Equal(t, "select balance from linked_accounts", itemAttr(t, metaPut.Item, "lastQuery"))

	ttl, ok := metaPut.Item["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(fixed.Add(30*24*time.Hour).Unix(), 10), ttl.Value)
}

func TestSaveTurn_RequiresThreadID(t *testing.T) {
	fake := &fakeDynamo{}
	store, err := NewThreads(fake, "threads")
	require.NoError(t, err)

	require.Error(t, store.SaveTurn(context.Background(), " ", domain.TurnRecord{Question: "q"}))
	require.False(t, fake.writeCalled)
}

func TestSaveTurn_PropagatesError(t *testing.T) {
	store, err := NewThreads(&fakeDynamo{writeErr: errors.New("transaction canceled")}, "threads")
	require.NoError(t, err)

	err = store.SaveTurn(context.Background(), "thread-1", domain.TurnRecord{Question: "q", Answer: "a"})
	require.ErrorContains(t, err, "transaction canceled")
}
