package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	getErr    error
	putErr    error
	queryOuts []*dynamodb.QueryOutput
	queryErr  error
	txErr     error
	batchOuts []*dynamodb.BatchWriteItemOutput
	batchErr  error
	lastGetIn *dynamodb.GetItemInput
	lastPutIn *dynamodb.PutItemInput
	queryIns  []*dynamodb.QueryInput
	lastTxIn  *dynamodb.TransactWriteItemsInput
	batchIns  []*dynamodb.BatchWriteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetIn = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIns = append(f.queryIns, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	i := len(f.queryIns) - 1
	if i < len(f.queryOuts) {
		return f.queryOuts[i], nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxIn = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchIns = append(f.batchIns, in)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	i := len(f.batchIns) - 1
	if i < len(f.batchOuts) {
		return f.batchOuts[i], nil
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeTurnItem(id string, n int, utterance, reply string, source domain.Source) map[string]types.AttributeValue {
	return turnItem(id, n, domain.Turn{
		Utterance: utterance,
		Reply:     reply,
		Source:    source,
		Timestamp: fixedNow.Add(time.Duration(n) * time.Minute),
	}, 0)
}

func makeMeta(id string, turns int) domain.ConversationMeta {
	return domain.ConversationMeta{
		ConversationID:   id,
		TurnCount:        turns,
		Escalated:        true,
		EscalationReason: domain.ReasonKeywordMatch,
		StartedAt:        fixedNow,
		LastActivity:     fixedNow.Add(time.Duration(turns) * time.Minute),
	}
}

func mustNewArchive(t *testing.T, db *fakeDynamo) *DynamoArchive {
	t.Helper()
	a, err := NewDynamoArchive(db, "test-table", time.Hour, 10)
	require.NoError(t, err)
	a.now = func() time.Time { return fixedNow }
	return a
}

func keyItem(id, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(id)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ---- Load ----

func TestLoad_HappyPath(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: metaItem(makeMeta("abc", 2), 0)},
		queryOuts: []*dynamodb.QueryOutput{{
			Items: []map[string]types.AttributeValue{
				makeTurnItem("abc", 2, "still broken", "sorry", domain.SourceGenerated),
				makeTurnItem("abc", 1, "hello", "hi there", domain.SourceKnowledgeBase),
			},
		}},
	}
	a := mustNewArchive(t, db)

	rec, ok, err := a.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, makeMeta("abc", 2), rec.Meta)
	require.Len(t, rec.Turns, 2)
	require.Equal(t, "hello", rec.Turns[0].Utterance)
	require.Equal(t, domain.SourceKnowledgeBase, rec.Turns[0].Source)
	require.Equal(t, "still broken", rec.Turns[1].Utterance)
	require.Equal(t, fixedNow.Add(2*time.Minute), rec.Turns[1].Timestamp)

	require.True(t, aws.ToBool(db.lastGetIn.ConsistentRead))
	require.Len(t, db.queryIns, 1)
	q := db.queryIns[0]
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", aws.ToString(q.KeyConditionExpression))
	require.False(t, aws.ToBool(q.ScanIndexForward))
	require.Equal(t, int32(10), aws.ToInt32(q.Limit))
}

func TestLoad_MissingMeta(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	a := mustNewArchive(t, db)

	_, ok, err := a.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, db.queryIns)
}

func TestLoad_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	a := mustNewArchive(t, db)

	_, _, err := a.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Load get meta")
}

func TestLoad_QueryError(t *testing.T) {
	db := &fakeDynamo{
		getOut:   &dynamodb.GetItemOutput{Item: metaItem(makeMeta("abc", 1), 0)},
		queryErr: errors.New("boom"),
	}
	a := mustNewArchive(t, db)

	_, _, err := a.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Load query turns")
}

func TestLoad_MalformedMeta(t *testing.T) {
	item := metaItem(makeMeta("abc", 1), 0)
	item["turns"] = &types.AttributeValueMemberS{Value: "bad"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	a := mustNewArchive(t, db)

	_, _, err := a.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode meta")
}

func TestLoad_UnknownTurnSource(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: metaItem(makeMeta("abc", 1), 0)},
		queryOuts: []*dynamodb.QueryOutput{{
			Items: []map[string]types.AttributeValue{makeTurnItem("abc", 1, "hi", "hello", "robot")},
		}},
	}
	a := mustNewArchive(t, db)

	_, _, err := a.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode turn")
}

// ---- AppendTurn ----

func TestAppendTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	a := mustNewArchive(t, db)
	turn := domain.Turn{Utterance: "hi", Reply: "hello", Source: domain.SourceGenerated, Timestamp: fixedNow}

	require.NoError(t, a.AppendTurn(context.Background(), turn, makeMeta("abc", 3)))

	require.NotNil(t, db.lastTxIn)
	items := db.lastTxIn.TransactItems
	require.Len(t, items, 2)

	turnPut := items[0].Put
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", aws.ToString(turnPut.ConditionExpression))
	sk, err := strAttr(turnPut.Item, "SK")
	require.NoError(t, err)
	require.Equal(t, "TURN#0000000003", sk)
	ttl, err := intAttr(turnPut.Item, "ttl")
	require.NoError(t, err)
	require.Equal(t, int(fixedNow.Add(time.Hour).Unix()), ttl)

	metaPut := items[1].Put
	require.Nil(t, metaPut.ConditionExpression)
	got, err := itemToMeta(metaPut.Item)
	require.NoError(t, err)
	require.Equal(t, makeMeta("abc", 3), got)
}

func TestAppendTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("conditional check failed")}
	a := mustNewArchive(t, db)

	err := a.AppendTurn(context.Background(), domain.Turn{Source: domain.SourceGenerated}, makeMeta("abc", 1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendTurn")
}

func TestAppendTurn_Validation(t *testing.T) {
	a := mustNewArchive(t, &fakeDynamo{})

	require.Error(t, a.AppendTurn(context.Background(), domain.Turn{}, domain.ConversationMeta{TurnCount: 1}))
	require.Error(t, a.AppendTurn(context.Background(), domain.Turn{}, domain.ConversationMeta{ConversationID: "abc"}))
}

// ---- SaveMeta ----

func TestSaveMeta_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	a := mustNewArchive(t, db)

	require.NoError(t, a.SaveMeta(context.Background(), makeMeta("abc", 4)))
	require.Equal(t, "test-table", aws.ToString(db.lastPutIn.TableName))
	sk, err := strAttr(db.lastPutIn.Item, "SK")
	require.NoError(t, err)
	require.Equal(t, skMeta, sk)
}

func TestSaveMeta_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	a := mustNewArchive(t, db)

	err := a.SaveMeta(context.Background(), makeMeta("abc", 1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveMeta")
}

func TestSaveMeta_MissingID(t *testing.T) {
	a := mustNewArchive(t, &fakeDynamo{})
	require.Error(t, a.SaveMeta(context.Background(), domain.ConversationMeta{}))
}

// ---- Delete ----

func TestDelete_PaginatesAndBatches(t *testing.T) {
	first := make([]map[string]types.AttributeValue, 0, 20)
	for i := 1; i <= 20; i++ {
		first = append(first, keyItem("abc", turnSK(i)))
	}
	second := []map[string]types.AttributeValue{keyItem("abc", turnSK(21)), keyItem("abc", skMeta)}
	for i := 22; i <= 30; i++ {
		second = append(second, keyItem("abc", turnSK(i)))
	}
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{
			{Items: first, LastEvaluatedKey: keyItem("abc", turnSK(20))},
			{Items: second},
		},
	}
	a := mustNewArchive(t, db)

	require.NoError(t, a.Delete(context.Background(), "abc"))
	require.Len(t, db.queryIns, 2)
	require.NotNil(t, db.queryIns[1].ExclusiveStartKey)
	require.Len(t, db.batchIns, 2)
	require.Len(t, db.batchIns[0].RequestItems["test-table"], 25)
	require.Len(t, db.batchIns[1].RequestItems["test-table"], 6)
}

func TestDelete_RetriesUnprocessed(t *testing.T) {
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{keyItem("abc", skMeta)}}},
		batchOuts: []*dynamodb.BatchWriteItemOutput{
			{UnprocessedItems: map[string][]types.WriteRequest{
				"test-table": {{DeleteRequest: &types.DeleteRequest{Key: keyItem("abc", skMeta)}}},
			}},
			{},
		},
	}
	a := mustNewArchive(t, db)

	require.NoError(t, a.Delete(context.Background(), "abc"))
	require.Len(t, db.batchIns, 2)
}

func TestDelete_NothingStored(t *testing.T) {
	db := &fakeDynamo{}
	a := mustNewArchive(t, db)

	require.NoError(t, a.Delete(context.Background(), "abc"))
	require.Empty(t, db.batchIns)
}

func TestDelete_Errors(t *testing.T) {
	a := mustNewArchive(t, &fakeDynamo{queryErr: errors.New("boom")})
	err := a.Delete(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delete query")

	a = mustNewArchive(t, &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{keyItem("abc", skMeta)}}},
		batchErr:  errors.New("boom"),
	})
	err = a.Delete(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delete batch")
}

// ---- helpers ----

func TestConvPK(t *testing.T) {
	require.Equal(t, "CONV#abc", convPK("abc"))
}

func TestTurnSK_SortsLexically(t *testing.T) {
	require.Equal(t, "TURN#0000000009", turnSK(9))
	require.Less(t, turnSK(9), turnSK(10))
}

func TestItemToTurn_MissingUtterance(t *testing.T) {
	item := makeTurnItem("abc", 1, "hi", "hello", domain.SourceGenerated)
	delete(item, "utterance")
	_, err := itemToTurn(item)
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprintf("%q", "utterance"))
}

func TestNewDynamoArchive_Validation(t *testing.T) {
	_, err := NewDynamoArchive(nil, "t", time.Hour, 10)
	require.Error(t, err)

	_, err = NewDynamoArchive(&fakeDynamo{}, "  ", time.Hour, 10)
	require.Error(t, err)

	a, err := NewDynamoArchive(&fakeDynamo{}, "t", 0, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, a.ttl)
	require.Equal(t, DefaultMaxTurns, a.maxTurns)
}
