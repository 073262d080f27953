package keyspace

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

type condKind int

const (
	condExists condKind = iota + 1
	condNotExists
	condEqual
	condLessThan
	condAnd
	condOr
)

// Condition is a boolean expression over an item's existing attributes.
type Condition struct {
	kind     condKind
	name     string
	value    any
	children []Condition
}

// Exists is true when the attribute is present.
func Exists(name string) Condition {
	return Condition{kind: condExists, name: name}
}

// NotExists is true when the attribute is absent.
func NotExists(name string) Condition {
	return Condition{kind: condNotExists, name: name}
}

// Equal is true when the attribute is present and equal to value.
func Equal(name string, value any) Condition {
	return Condition{kind: condEqual, name: name, value: value}
}

// LessThan is true when the attribute is present and orders before value.
// Numbers compare numerically, strings lexically.
func LessThan(name string, value any) Condition {
	return Condition{kind: condLessThan, name: name, value: value}
}

// And is true when every condition is true.
func And(first, second Condition, rest ...Condition) Condition {
	return Condition{kind: condAnd, children: append([]Condition{first, second}, rest...)}
}

// Or is true when any condition is true.
func Or(first, second Condition, rest ...Condition) Condition {
	return Condition{kind: condOr, children: append([]Condition{first, second}, rest...)}
}

// builder converts the condition into a DynamoDB condition builder.
func (c Condition) builder() (expression.ConditionBuilder, error) {
	switch c.kind {
	case condExists:
		return expression.AttributeExists(expression.Name(c.name)), nil
	case condNotExists:
		return expression.AttributeNotExists(expression.Name(c.name)), nil
	case condEqual:
		return expression.Equal(expression.Name(c.name), expression.Value(c.value)), nil
	case condLessThan:
		return expression.LessThan(expression.Name(c.name), expression.Value(c.value)), nil
	case condAnd, condOr:
		built := make([]expression.ConditionBuilder, 0, len(c.children))
		for _, child := range c.children {
			cb, err := child.builder()
			if err != nil {
				return expression.ConditionBuilder{}, err
			}
			built = append(built, cb)
		}
		if c.kind == condAnd {
			return expression.And(built[0], built[1], built[2:]...), nil
		}
		return expression.Or(built[0], built[1], built[2:]...), nil
	default:
		return expression.ConditionBuilder{}, fmt.Errorf("empty condition")
	}
}

// Eval evaluates the condition against item. A nil item is treated as an
// item with no attributes.
func (c Condition) Eval(item Item) (bool, error) {
	switch c.kind {
	case condExists:
		_, ok := item[c.name]
		return ok, nil
	case condNotExists:
		_, ok := item[c.name]
		return !ok, nil
	case condEqual, condLessThan:
		have, ok := item[c.name]
		if !ok {
			return false, nil
		}
		want, err := attributevalue.Marshal(c.value)
		if err != nil {
			return false, fmt.Errorf("marshal condition value for %s: %w", c.name, err)
		}
		if c.kind == condEqual {
			return equalValues(have, want), nil
		}
		return lessValue(have, want), nil
	case condAnd:
		for _, child := range c.children {
			ok, err := child.Eval(item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case condOr:
		for _, child := range c.children {
			ok, err := child.Eval(item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("empty condition")
	}
}
