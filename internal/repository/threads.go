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

	"trackify/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	threadTTL    = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Threads.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Threads wraps a DynamoDB table for conversation-thread state. Turn items
// give an auditable history; the META record carries the last completed turn
// the pipeline uses for continuity. Everything expires with the thread TTL.
type Threads struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewThreads creates a Threads store over the given table.
func NewThreads(api dynamodbAPI, tableName string) (*Threads, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Threads{api: api, tableName: tableName, now: time.Now}, nil
}

// threadPK returns the DynamoDB partition key for a thread.
func threadPK(threadID string) string {
	return "THREAD#" + threadID
}

// turnSK returns the sort key for a turn using its UTC timestamp.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

func (t *Threads) ttlValue() int64 {
	return t.now().Add(threadTTL).Unix()
}

// LastTurn reads the META record and returns the last completed turn, if any.
func (t *Threads) LastTurn(ctx context.Context, threadID string) (domain.TurnRecord, bool, error) {
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.TurnRecord{}, false, fmt.Errorf("repository: LastTurn get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.TurnRecord{}, false, nil
	}

	question, _ := strAttr(out.Item, "lastQuestion")
	answer, _ := strAttr(out.Item, "lastAnswer")
	query, _ := strAttr(out.Item, "lastQuery")
	if question == "" && answer == "" {
		return domain.TurnRecord{}, false, nil
	}
	return domain.TurnRecord{Question: question, Answer: answer, Query: query}, true, nil
}

// SaveTurn appends the turn item and replaces the META record in one
// transaction.
func (t *Threads) SaveTurn(ctx context.Context, threadID string, turn domain.TurnRecord) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("repository: SaveTurn: thread id is required")
	}
	at := turn.At
	if at.IsZero() {
		at = t.now().UTC()
	}

	_, err := t.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(t.tableName),
					Item:                t.turnItem(threadID, turn, at),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(t.tableName),
					Item:      t.metaItem(threadID, turn, at),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func (t *Threads) turnItem(threadID string, turn domain.TurnRecord, at time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":       &types.AttributeValueMemberS{Value: turnSK(at)},
		"threadId": &types.AttributeValueMemberS{Value: threadID},
		"question": &types.AttributeValueMemberS{Value: turn.Question},
		"answer":   &types.AttributeValueMemberS{Value: turn.Answer},
		"query":    &types.AttributeValueMemberS{Value: turn.Query},
		"ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(t.ttlValue(), 10)},
	}
}

func (t *Threads) metaItem(threadID string, turn domain.TurnRecord, at time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"threadId":     &types.AttributeValueMemberS{Value: threadID},
		"lastQuestion": &types.AttributeValueMemberS{Value: turn.Question},
		"lastAnswer":   &types.AttributeValueMemberS{Value: turn.Answer},
		"lastQuery":    &types.AttributeValueMemberS{Value: turn.Query},
		"lastActivity": &types.AttributeValueMemberS{Value: at.Format(time.RFC3339)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(t.ttlValue(), 10)},
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
