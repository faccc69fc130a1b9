package turnstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDB.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB stores turns in a table with partition key conversationId and
// sort key timestamp. A global secondary index on userId (sort key
// timestamp) backs ListUserConversations.
type DynamoDB struct {
	client    DynamoDBAPI
	table     string
	userIndex string
	logger    *slog.Logger
}

// NewDynamoDB creates a DynamoDB-backed store.
func NewDynamoDB(client DynamoDBAPI, table, userIndex string, logger *slog.Logger) (*DynamoDB, error) {
	if client == nil {
		return nil, errors.New("turnstore: dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("turnstore: table name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoDB{
		client:    client,
		table:     table,
		userIndex: userIndex,
		logger:    logger.With("component", "turnstore.DynamoDB", "table", table),
	}, nil
}

// requestGuardPrefix marks the items that reserve a requestId. They live in
// their own partitions and carry no userId, so they never show up in
// conversation queries or the user index.
const requestGuardPrefix = "#request#"

// requestGuard is the item that reserves requestID within conversationID.
type requestGuard struct {
	ConversationID string `dynamodbav:"conversationId"`
	Timestamp      int64  `dynamodbav:"timestamp"`
	RequestID      string `dynamodbav:"requestId"`
	TurnTimestamp  int64  `dynamodbav:"turnTimestamp"`
}

func guardKey(conversationID, requestID string) string {
	return requestGuardPrefix + conversationID + "#" + requestID
}

// Create inserts t. The turn and a guard item for its requestId are written
// in one transaction, each conditioned on not existing, so the
// (conversationId, timestamp) slot and the requestId are claimed together.
func (d *DynamoDB) Create(ctx context.Context, t turn.Turn) error {
	if err := t.Validate(); err != nil {
		return err
	}
	// Turns written before guard items existed are only visible to a read.
	if _, err := d.Get(ctx, t.ConversationID, t.RequestID); err == nil {
		return fmt.Errorf("%w: request %s", ErrDuplicate, t.RequestID)
	} else if !IsNotFound(err) {
		return err
	}

	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("turnstore: marshal turn: %w", err)
	}
	guard, err := attributevalue.MarshalMap(requestGuard{
		ConversationID: guardKey(t.ConversationID, t.RequestID),
		RequestID:      t.RequestID,
		TurnTimestamp:  t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("turnstore: marshal request guard: %w", err)
	}

	notExists := aws.String("attribute_not_exists(conversationId)")
	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(d.table), Item: guard, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(d.table), Item: item, ConditionExpression: notExists}},
		},
	})
	if err == nil {
		return nil
	}

	reasons := cancellationCodes(err)
	switch {
	case len(reasons) > 0 && reasons[0] == conditionalCheckFailed:
		return fmt.Errorf("%w: request %s", ErrDuplicate, t.RequestID)
	case len(reasons) > 1 && reasons[1] == conditionalCheckFailed:
		return fmt.Errorf("%w: %s@%d", ErrDuplicate, t.ConversationID, t.Timestamp)
	case isConditionFailed(err):
		return fmt.Errorf("%w: request %s", ErrDuplicate, t.RequestID)
	}
	return fmt.Errorf("turnstore: transact write: %w", err)
}

// Get returns one turn by scanning its conversation partition for requestID.
func (d *DynamoDB) Get(ctx context.Context, conversationID, requestID string) (turn.Turn, error) {
	var found []turn.Turn
	err := d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("conversationId = :c"),
		FilterExpression:       aws.String("requestId = :r"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: conversationID},
			":r": &types.AttributeValueMemberS{Value: requestID},
		},
	}, func(items []map[string]types.AttributeValue) error {
		var page []turn.Turn
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return err
		}
		found = append(found, page...)
		return nil
	})
	if err != nil {
		return turn.Turn{}, err
	}
	if len(found) == 0 {
		return turn.Turn{}, fmt.Errorf("%w: %s/%s", ErrNotFound, conversationID, requestID)
	}
	return found[0], nil
}

// Update replaces t when the stored status equals expected.
func (d *DynamoDB) Update(ctx context.Context, t turn.Turn, expected turn.Status) error {
	if err := t.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("turnstore: marshal turn: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("#status = :expected AND requestId = :r AND userId = :u"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":r":        &types.AttributeValueMemberS{Value: t.RequestID},
			":u":        &types.AttributeValueMemberS{Value: t.UserID},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("turnstore: put item: %w", err)
	}

	cur, getErr := d.Get(ctx, t.ConversationID, t.RequestID)
	if getErr != nil {
		return getErr
	}
	d.logger.Debug("conditional update rejected",
		"conversation_id", t.ConversationID,
		"request_id", t.RequestID,
		"stored", cur.Status,
		"expected", expected,
	)
	return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, t.RequestID, cur.Status, expected)
}

// ListConversation returns turns oldest first.
func (d *DynamoDB) ListConversation(ctx context.Context, conversationID string) ([]turn.Turn, error) {
	out := []turn.Turn{}
	err := d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("conversationId = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: conversationID},
		},
		ScanIndexForward: aws.Bool(true),
	}, func(items []map[string]types.AttributeValue) error {
		var page []turn.Turn
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turn.SortByTimestamp(out), nil
}

// ListUserConversations queries the user index newest first and keeps the
// first occurrence of each conversation.
func (d *DynamoDB) ListUserConversations(ctx context.Context, userID string) ([]string, error) {
	if d.userIndex == "" {
		return nil, errors.New("turnstore: user index is not configured")
	}

	seen := make(map[string]bool)
	ids := []string{}
	err := d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.userIndex),
		KeyConditionExpression: aws.String("userId = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ProjectionExpression: aws.String("conversationId, #ts"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
		ScanIndexForward: aws.Bool(false),
	}, func(items []map[string]types.AttributeValue) error {
		var page []struct {
			ConversationID string `dynamodbav:"conversationId"`
		}
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return err
		}
		for _, p := range page {
			if !seen[p.ConversationID] {
				seen[p.ConversationID] = true
				ids = append(ids, p.ConversationID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListPendingConversations scans for input turns that are still PROCESSING
// or TRANSCRIBED. Guard items have no type attribute and never match.
func (d *DynamoDB) ListPendingConversations(ctx context.Context) ([]string, error) {
	in := &dynamodb.ScanInput{
		TableName:            aws.String(d.table),
		FilterExpression:     aws.String("#type = :input AND #status IN (:processing, :transcribed)"),
		ProjectionExpression: aws.String("conversationId"),
		ExpressionAttributeNames: map[string]string{
			"#type":   "type",
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":input":       &types.AttributeValueMemberS{Value: string(turn.DirectionInput)},
			":processing":  &types.AttributeValueMemberS{Value: string(turn.StatusProcessing)},
			":transcribed": &types.AttributeValueMemberS{Value: string(turn.StatusTranscribed)},
		},
	}

	seen := make(map[string]bool)
	ids := []string{}
	for {
		out, err := d.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("turnstore: scan: %w", err)
		}
		var page []struct {
			ConversationID string `dynamodbav:"conversationId"`
		}
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("turnstore: unmarshal items: %w", err)
		}
		for _, p := range page {
			if !seen[p.ConversationID] {
				seen[p.ConversationID] = true
				ids = append(ids, p.ConversationID)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// query follows LastEvaluatedKey until every page was handed to fn.
func (d *DynamoDB) query(ctx context.Context, in *dynamodb.QueryInput, fn func([]map[string]types.AttributeValue) error) error {
	for {
		out, err := d.client.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("turnstore: query: %w", err)
		}
		if err := fn(out.Items); err != nil {
			return fmt.Errorf("turnstore: unmarshal items: %w", err)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

const conditionalCheckFailed = "ConditionalCheckFailed"

// cancellationCodes returns the per-item reason codes of a cancelled
// transaction, in request order. Items that did not fail have code "None".
func cancellationCodes(err error) []string {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	codes := make([]string, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		codes[i] = aws.ToString(r.Code)
	}
	return codes
}
