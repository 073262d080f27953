package keyspace

import (
	"bytes"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// equalValues compares two attribute values structurally.
func equalValues(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, okx := parseNumber(av.Value)
		y, oky := parseNumber(bv.Value)
		return okx && oky && x.Cmp(y) == 0
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberM:
		bv, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for k, v := range av.Value {
			other, ok := bv.Value[k]
			if !ok || !equalValues(v, other) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bv, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for i := range av.Value {
			if !equalValues(av.Value[i], bv.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		return ok && sameSet(av.Value, bv.Value)
	case *types.AttributeValueMemberNS:
		bv, ok := b.(*types.AttributeValueMemberNS)
		return ok && sameSet(av.Value, bv.Value)
	}
	return false
}

// lessValue reports a < b for numbers and strings; other types never order.
func lessValue(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, okx := parseNumber(av.Value)
		y, oky := parseNumber(bv.Value)
		return okx && oky && x.Cmp(y) < 0
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value < bv.Value
	}
	return false
}

func parseNumber(s string) (*big.Float, bool) {
	f, ok := new(big.Float).SetString(s)
	return f, ok
}

// addNumber returns current + delta as a number attribute. An absent or
// non-numeric current value counts as zero.
func addNumber(current types.AttributeValue, delta types.AttributeValue) types.AttributeValue {
	sum := new(big.Float)
	if n, ok := current.(*types.AttributeValueMemberN); ok {
		if x, ok := parseNumber(n.Value); ok {
			sum.Add(sum, x)
		}
	}
	if n, ok := delta.(*types.AttributeValueMemberN); ok {
		if x, ok := parseNumber(n.Value); ok {
			sum.Add(sum, x)
		}
	}
	return &types.AttributeValueMemberN{Value: sum.Text('f', -1)}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}

// cloneItem deep-copies an item so callers cannot alias stored state.
func cloneItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: tv.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), tv.Value...)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberBS:
		out := make([][]byte, len(tv.Value))
		for i, b := range tv.Value {
			out[i] = append([]byte(nil), b...)
		}
		return &types.AttributeValueMemberBS{Value: out}
	case *types.AttributeValueMemberM:
		out := make(map[string]types.AttributeValue, len(tv.Value))
		for k, inner := range tv.Value {
			out[k] = cloneValue(inner)
		}
		return &types.AttributeValueMemberM{Value: out}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(tv.Value))
		for i, inner := range tv.Value {
			out[i] = cloneValue(inner)
		}
		return &types.AttributeValueMemberL{Value: out}
	}
	return v
}
