// Package keyspace is the single-table repository every handler shares.
//
// Items of every entity type live in one table addressed by (pk, sk). The
// Store interface is deliberately small: point reads and writes, a typed
// conditional update, prefix queries within a partition, full scans and a
// secondary index lookup. Conditional updates are the only concurrency
// primitive; a false condition surfaces as ErrConditionFailed and leaves the
// item untouched.
package keyspace

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
)

// Error types for store operations.
var (
	ErrNotFound        = errors.New("item not found")
	ErrConditionFailed = errors.New("condition failed")
)

// Key addresses a single item.
type Key struct {
	PK string
	SK string
}

// Item is a stored row in DynamoDB attribute-value form.
type Item map[string]types.AttributeValue

// Key returns the primary key of the item.
func (it Item) Key() Key {
	return Key{PK: it.String(dynamo.AttrPK), SK: it.String(dynamo.AttrSK)}
}

// String returns a string attribute, or "" when absent or not a string.
func (it Item) String(name string) string {
	if v, ok := it[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// Query selects items from one partition of the table or of an index.
type Query struct {
	// Index is empty for the base table, otherwise an index name such as
	// dynamo.IndexGSI1.
	Index string
	// PK is the partition key value (the index partition key for an index).
	PK string
	// SKPrefix restricts base-table queries to sort keys with this prefix.
	SKPrefix string
}

// Store is the keyspace contract shared by every handler.
type Store interface {
	Get(ctx context.Context, key Key) (Item, error)
	Put(ctx context.Context, item Item) error
	// PutAll writes every item or none of them.
	PutAll(ctx context.Context, items ...Item) error
	Update(ctx context.Context, key Key, update Update) error
	Delete(ctx context.Context, key Key) error
	DeleteIf(ctx context.Context, key Key, cond Condition) error
	Scan(ctx context.Context, filter *Condition) ([]Item, error)
	Query(ctx context.Context, q Query) ([]Item, error)
}

// expired reports whether the item carries a ttl that is already in the past.
func expired(item Item, now time.Time) bool {
	v, ok := item[dynamo.AttrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl < now.Unix()
}

// dropExpired filters items whose ttl has passed.
func dropExpired(items []Item, now time.Time) []Item {
	live := items[:0]
	for _, item := range items {
		if !expired(item, now) {
			live = append(live, item)
		}
	}
	return live
}

// KeyAttributes returns the attribute-value form of a key.
func KeyAttributes(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: key.PK},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}
