package keyspace

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
)

// DynamoDBClient is the shared table client plus Scan, which listing clients
// needs.
type DynamoDBClient interface {
	dbclient.DynamoDBClient
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore implements Store over a single DynamoDB table.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewDynamoDBStore creates a new DynamoDBStore.
func NewDynamoDBStore(client DynamoDBClient, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// Get retrieves a single item. Expired items are reported as ErrNotFound.
func (s *DynamoDBStore) Get(ctx context.Context, key Key) (Item, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       KeyAttributes(key),
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil || expired(output.Item, s.now()) {
		return nil, ErrNotFound
	}
	return output.Item, nil
}

// Put writes an item, replacing any existing item with the same key.
func (s *DynamoDBStore) Put(ctx context.Context, item Item) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return err
}

// PutAll writes every item in one transaction.
func (s *DynamoDBStore) PutAll(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return s.Put(ctx, items[0])
	}

	transactItems := make([]types.TransactWriteItem, len(items))
	for i, item := range items {
		transactItems[i] = types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.tableName),
				Item:      item,
			},
		}
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	return translateConditionError(err)
}

// Update applies the field operations, creating the item when absent.
func (s *DynamoDBStore) Update(ctx context.Context, key Key, update Update) error {
	builder, err := update.expression()
	if err != nil {
		return err
	}
	expr, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       KeyAttributes(key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return translateConditionError(err)
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *DynamoDBStore) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       KeyAttributes(key),
	})
	return err
}

// DeleteIf removes an item only when cond holds against it.
func (s *DynamoDBStore) DeleteIf(ctx context.Context, key Key, cond Condition) error {
	cb, err := cond.builder()
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().WithCondition(cb).Build()
	if err != nil {
		return fmt.Errorf("build condition expression: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       KeyAttributes(key),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return translateConditionError(err)
}

// Scan reads the whole table, optionally filtered.
func (s *DynamoDBStore) Scan(ctx context.Context, filter *Condition) ([]Item, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	}
	if filter != nil {
		cb, err := filter.builder()
		if err != nil {
			return nil, err
		}
		expr, err := expression.NewBuilder().WithFilter(cb).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var items []Item
	for {
		output, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range output.Items {
			items = append(items, item)
		}
		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
	return dropExpired(items, s.now()), nil
}

// Query reads one partition of the table or of an index, ordered by sort key.
func (s *DynamoDBStore) Query(ctx context.Context, q Query) ([]Item, error) {
	var keyCond expression.KeyConditionBuilder
	if q.Index != "" {
		keyCond = expression.Key(dynamo.AttrGSI1PK).Equal(expression.Value(q.PK))
	} else {
		keyCond = expression.Key(dynamo.AttrPK).Equal(expression.Value(q.PK))
		if q.SKPrefix != "" {
			keyCond = keyCond.And(expression.Key(dynamo.AttrSK).BeginsWith(q.SKPrefix))
		}
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}

	var items []Item
	for {
		output, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range output.Items {
			items = append(items, item)
		}
		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
	return dropExpired(items, s.now()), nil
}

// translateConditionError maps DynamoDB condition failures to ErrConditionFailed.
func translateConditionError(err error) error {
	if err == nil {
		return nil
	}
	if dbclient.IsConditionalCheckFailed(err) || dbclient.HasConditionalCheckFailure(err) {
		return ErrConditionFailed
	}
	return err
}
