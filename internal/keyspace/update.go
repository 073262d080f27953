package keyspace

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

type opKind int

const (
	opSet opKind = iota
	opSetIfAbsent
	opAdd
	opRemove
)

type fieldOp struct {
	kind  opKind
	name  string
	value any
}

// Update is a typed set of field operations plus an optional condition.
// The zero value is an empty update; builder methods return a new Update.
type Update struct {
	ops  []fieldOp
	cond *Condition
}

// Set starts an update that assigns value to name.
func Set(name string, value any) Update {
	return Update{}.Set(name, value)
}

// Set assigns value to name.
func (u Update) Set(name string, value any) Update {
	return u.with(fieldOp{kind: opSet, name: name, value: value})
}

// SetIfAbsent assigns value to name only when name is not already present.
func (u Update) SetIfAbsent(name string, value any) Update {
	return u.with(fieldOp{kind: opSetIfAbsent, name: name, value: value})
}

// Add increments the numeric attribute name by delta, treating absence as 0.
func (u Update) Add(name string, delta int64) Update {
	return u.with(fieldOp{kind: opAdd, name: name, value: delta})
}

// Remove deletes the attribute name.
func (u Update) Remove(name string) Update {
	return u.with(fieldOp{kind: opRemove, name: name})
}

// When guards the update with cond. A false condition fails the update with
// ErrConditionFailed and performs no mutation.
func (u Update) When(cond Condition) Update {
	u.ops = append([]fieldOp(nil), u.ops...)
	u.cond = &cond
	return u
}

// Condition returns the guard, if any.
func (u Update) Condition() (Condition, bool) {
	if u.cond == nil {
		return Condition{}, false
	}
	return *u.cond, true
}

func (u Update) with(op fieldOp) Update {
	ops := make([]fieldOp, len(u.ops), len(u.ops)+1)
	copy(ops, u.ops)
	u.ops = append(ops, op)
	return u
}

// expression converts the update into a DynamoDB expression builder.
func (u Update) expression() (expression.Builder, error) {
	if len(u.ops) == 0 {
		return expression.Builder{}, fmt.Errorf("update has no field operations")
	}

	var ub expression.UpdateBuilder
	for _, op := range u.ops {
		name := expression.Name(op.name)
		switch op.kind {
		case opSet:
			ub = ub.Set(name, expression.Value(op.value))
		case opSetIfAbsent:
			ub = ub.Set(name, expression.IfNotExists(name, expression.Value(op.value)))
		case opAdd:
			ub = ub.Add(name, expression.Value(op.value))
		case opRemove:
			ub = ub.Remove(name)
		}
	}

	builder := expression.NewBuilder().WithUpdate(ub)
	if u.cond != nil {
		cb, err := u.cond.builder()
		if err != nil {
			return expression.Builder{}, err
		}
		builder = builder.WithCondition(cb)
	}
	return builder, nil
}
