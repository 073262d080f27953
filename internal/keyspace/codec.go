package keyspace

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// Marshal converts a struct with dynamodbav tags into an Item.
func Marshal(v any) (Item, error) {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return av, nil
}

// Unmarshal decodes the item into out, a pointer to a struct with dynamodbav tags.
func (it Item) Unmarshal(out any) error {
	if err := attributevalue.UnmarshalMap(it, out); err != nil {
		return fmt.Errorf("unmarshal item %s/%s: %w", it.String("pk"), it.String("sk"), err)
	}
	return nil
}
