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

	"support-agent/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"

	// DynamoDB caps a BatchWriteItem request at 25 operations.
	batchWriteLimit = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoArchive.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoArchive stores conversations in a single table. Each conversation is
// one partition holding a META# item and one TURN#<n> item per turn.
type DynamoArchive struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	maxTurns  int
	now       func() time.Time
}

// NewDynamoArchive creates a DynamoArchive. Items expire ttl after they were
// last written; Load returns at most maxTurns of the most recent turns.
func NewDynamoArchive(api dynamodbAPI, tableName string, ttl time.Duration, maxTurns int) (*DynamoArchive, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &DynamoArchive{api: api, tableName: tableName, ttl: ttl, maxTurns: maxTurns, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// turnSK zero-pads the turn number so that lexical order is turn order.
func turnSK(n int) string {
	return fmt.Sprintf("%s%010d", skPrefixTurn, n)
}

func (a *DynamoArchive) ttlValue() int64 {
	return a.now().Add(a.ttl).Unix()
}

// Load reads the conversation metadata and its most recent turns in
// chronological order. The second result is false when nothing is stored.
func (a *DynamoArchive) Load(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	out, err := a.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationRecord{}, false, nil
	}
	meta, err := itemToMeta(out.Item)
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load decode meta: %w", err)
	}

	q, err := a.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(a.maxTurns)),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load query turns: %w", err)
	}

	turns := make([]domain.Turn, 0, len(q.Items))
	for _, item := range q.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return domain.ConversationRecord{Meta: meta, Turns: turns}, true, nil
}

// AppendTurn writes turn number meta.TurnCount and the updated metadata in one
// transaction. Writing the same turn number twice fails.
func (a *DynamoArchive) AppendTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) error {
	if meta.ConversationID == "" {
		return errors.New("repository: AppendTurn: conversation id is required")
	}
	if meta.TurnCount < 1 {
		return errors.New("repository: AppendTurn: turn count must be positive")
	}
	ttl := a.ttlValue()

	_, err := a.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(a.tableName),
					Item:                turnItem(meta.ConversationID, meta.TurnCount, turn, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(a.tableName),
					Item:      metaItem(meta, ttl),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// SaveMeta writes or replaces the conversation metadata record.
func (a *DynamoArchive) SaveMeta(ctx context.Context, meta domain.ConversationMeta) error {
	if meta.ConversationID == "" {
		return errors.New("repository: SaveMeta: conversation id is required")
	}
	_, err := a.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.tableName),
		Item:      metaItem(meta, a.ttlValue()),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveMeta: %w", err)
	}
	return nil
}

// Delete removes every item of the conversation partition.
func (a *DynamoArchive) Delete(ctx context.Context, conversationID string) error {
	var keys []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := a.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(a.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("repository: Delete query: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		pending := map[string][]types.WriteRequest{a.tableName: reqs}
		for len(pending) > 0 {
			out, err := a.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("repository: Delete batch: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func turnItem(conversationID string, n int, turn domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: turnSK(n)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"utterance":      &types.AttributeValueMemberS{Value: turn.Utterance},
		"reply":          &types.AttributeValueMemberS{Value: turn.Reply},
		"source":         &types.AttributeValueMemberS{Value: string(turn.Source)},
		"timestamp":      &types.AttributeValueMemberS{Value: turn.Timestamp.UTC().Format(time.RFC3339Nano)},
		"turn":           &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func metaItem(meta domain.ConversationMeta, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: convPK(meta.ConversationID)},
		"SK":               &types.AttributeValueMemberS{Value: skMeta},
		"conversationId":   &types.AttributeValueMemberS{Value: meta.ConversationID},
		"turns":            &types.AttributeValueMemberN{Value: strconv.Itoa(meta.TurnCount)},
		"escalated":        &types.AttributeValueMemberBOOL{Value: meta.Escalated},
		"escalationReason": &types.AttributeValueMemberS{Value: string(meta.EscalationReason)},
		"startedAt":        &types.AttributeValueMemberS{Value: meta.StartedAt.UTC().Format(time.RFC3339Nano)},
		"lastActivity":     &types.AttributeValueMemberS{Value: meta.LastActivity.UTC().Format(time.RFC3339Nano)},
		"ttl":              &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	utterance, err := strAttr(item, "utterance")
	if err != nil {
		return domain.Turn{}, err
	}
	reply, _ := strAttr(item, "reply") // allow empty
	source, err := strAttr(item, "source")
	if err != nil {
		return domain.Turn{}, err
	}
	if !domain.Source(source).Valid() {
		return domain.Turn{}, fmt.Errorf("repository: unknown turn source %q", source)
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{
		Utterance: utterance,
		Reply:     reply,
		Source:    domain.Source(source),
		Timestamp: ts,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.ConversationMeta, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	started, err := timeAttr(item, "startedAt")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	last, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	escalated, _ := boolAttr(item, "escalated")   // absent means false
	reason, _ := strAttr(item, "escalationReason") // allow empty
	return domain.ConversationMeta{
		ConversationID:   id,
		TurnCount:        turns,
		Escalated:        escalated,
		EscalationReason: domain.EscalationReason(reason),
		StartedAt:        started,
		LastActivity:     last,
	}, nil
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

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
