package turnstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// fakeDynamo understands the handful of expressions DynamoDB issues.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[int64]turn.Turn
	pageSize int
	queries  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[int64]turn.Turn{}, pageSize: 2}
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var t turn.Turn
	if err := attributevalue.UnmarshalMap(in.Item, &t); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	slots := f.items[t.ConversationID]
	if slots == nil {
		slots = map[int64]turn.Turn{}
		f.items[t.ConversationID] = slots
	}
	cur, exists := slots[t.Timestamp]

	failed := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	switch cond := aws.ToString(in.ConditionExpression); {
	case cond == "attribute_not_exists(conversationId)":
		if exists {
			return nil, failed
		}
	case cond != "":
		expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		requestID := in.ExpressionAttributeValues[":r"].(*types.AttributeValueMemberS).Value
		userID := in.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS).Value
		if !exists || string(cur.Status) != expected || cur.RequestID != requestID || cur.UserID != userID {
			return nil, failed
		}
	}

	slots[t.Timestamp] = t
	return &dynamodb.PutItemOutput{}, nil
}

// TransactWriteItems applies the puts atomically when every
// attribute_not_exists condition holds.
func (f *fakeDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	puts := make([]turn.Turn, len(in.TransactItems))
	for i, ti := range in.TransactItems {
		if ti.Put == nil {
			return nil, errors.New("fakeDynamo: only puts are supported")
		}
		if err := attributevalue.UnmarshalMap(ti.Put.Item, &puts[i]); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(puts))
	cancelled := false
	for i, t := range puts {
		reasons[i].Code = aws.String("None")
		if aws.ToString(in.TransactItems[i].Put.ConditionExpression) != "attribute_not_exists(conversationId)" {
			continue
		}
		if _, exists := f.items[t.ConversationID][t.Timestamp]; exists {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			cancelled = true
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, t := range puts {
		if f.items[t.ConversationID] == nil {
			f.items[t.ConversationID] = map[int64]turn.Turn{}
		}
		f.items[t.ConversationID][t.Timestamp] = t
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	str := func(k string) string {
		if v, ok := in.ExpressionAttributeValues[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	var matched []turn.Turn
	if in.IndexName != nil {
		user := str(":u")
		for _, slots := range f.items {
			for _, t := range slots {
				if t.UserID == user {
					matched = append(matched, t)
				}
			}
		}
	} else {
		for _, t := range f.items[str(":c")] {
			if r := str(":r"); r == "" || t.RequestID == r {
				matched = append(matched, t)
			}
		}
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		if forward {
			return matched[i].Timestamp < matched[j].Timestamp
		}
		return matched[i].Timestamp > matched[j].Timestamp
	})

	start := 0
	if v, ok := in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN); ok {
		start, _ = strconv.Atoi(v.Value)
	}
	end := start + f.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := &dynamodb.QueryOutput{}
	for _, t := range matched[start:end] {
		item, err := attributevalue.MarshalMap(t)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	if end < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

// Scan applies the pending-turn filter DynamoDB.ListPendingConversations
// sends and pages like Query.
func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	str := func(k string) string {
		if v, ok := in.ExpressionAttributeValues[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	if in.FilterExpression == nil {
		return nil, fmt.Errorf("fake dynamo: unfiltered scan")
	}

	var matched []turn.Turn
	for _, slots := range f.items {
		for _, t := range slots {
			if string(t.Direction) != str(":input") {
				continue
			}
			if s := string(t.Status); s == str(":processing") || s == str(":transcribed") {
				matched = append(matched, t)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ConversationID != matched[j].ConversationID {
			return matched[i].ConversationID < matched[j].ConversationID
		}
		return matched[i].Timestamp < matched[j].Timestamp
	})

	start := 0
	if v, ok := in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN); ok {
		start, _ = strconv.Atoi(v.Value)
	}
	end := min(start+f.pageSize, len(matched))

	out := &dynamodb.ScanOutput{}
	for _, t := range matched[start:end] {
		out.Items = append(out.Items, map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: t.ConversationID},
		})
	}
	if end < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

func newTestDynamo(t *testing.T) (*DynamoDB, *fakeDynamo) {
	t.Helper()
	fake := newFakeDynamo()
	s, err := NewDynamoDB(fake, "Conversations", "UserIdIndex", nil)
	require.NoError(t, err)
	return s, fake
}

func TestDynamoDBStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestDynamo(t)
		return s
	})
}

func TestDynamoDBPagination(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestDynamo(t)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Create(ctx, turn.NewInput("c1", "u1", "", "r"+strconv.FormatInt(i, 10), "k", i*1000)))
	}
	fake.queries = 0

	list, err := s.ListConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 5)
	assert.Equal(t, 3, fake.queries)
}

func TestDynamoDBValidation(t *testing.T) {
	_, err := NewDynamoDB(nil, "t", "", nil)
	assert.Error(t, err)
	_, err = NewDynamoDB(newFakeDynamo(), "", "", nil)
	assert.Error(t, err)

	s, err := NewDynamoDB(newFakeDynamo(), "t", "", nil)
	require.NoError(t, err)
	_, err = s.ListUserConversations(context.Background(), "u1")
	assert.Error(t, err)
}

// rendezvousDynamo holds every transaction until n callers have arrived, so
// concurrent creates all pass the read check before writing.
type rendezvousDynamo struct {
	*fakeDynamo
	arrived sync.WaitGroup
}

func (r *rendezvousDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	r.arrived.Done()
	r.arrived.Wait()
	return r.fakeDynamo.TransactWriteItems(ctx, in, opts...)
}

func TestDynamoDBConcurrentCreateSameRequest(t *testing.T) {
	ctx := context.Background()
	fake := &rendezvousDynamo{fakeDynamo: newFakeDynamo()}
	fake.arrived.Add(2)
	s, err := NewDynamoDB(fake, "Conversations", "UserIdIndex", nil)
	require.NoError(t, err)

	in := turn.NewInput("c1", "u1", "", "r", "k", 50)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, turn.NewOutput(in, "hi", "", int64(100+i)))
		}(i)
	}
	wg.Wait()

	var created, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicate):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, duplicates)

	list, err := s.ListConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDynamoDBGuardItemsStayHidden(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestDynamo(t)
	require.NoError(t, s.Create(ctx, turn.NewInput("c1", "u1", "", "r1", "k", 1000)))

	list, err := s.ListConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ids, err := s.ListUserConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestCancellationCodes(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	})
	assert.Equal(t, []string{"None", "ConditionalCheckFailed"}, cancellationCodes(err))
	assert.Nil(t, cancellationCodes(errors.New("throttled")))
}

func TestIsConditionFailed(t *testing.T) {
	assert.True(t, isConditionFailed(&types.ConditionalCheckFailedException{}))
	assert.False(t, isConditionFailed(errors.New("throttled")))
}
