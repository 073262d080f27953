package keyspace

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
)

// MemoryStore is an in-process Store with the same conditional semantics as
// DynamoDBStore. It backs tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[Key]Item
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[Key]Item),
		now:   time.Now,
	}
}

// SetNow replaces the clock used for ttl expiry.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Len returns the number of stored rows, including expired ones.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// live returns the stored item for key unless it is missing or expired.
// Callers hold m.mu.
func (m *MemoryStore) live(key Key) (Item, bool) {
	item, ok := m.items[key]
	if !ok || expired(item, m.now()) {
		return nil, false
	}
	return item, true
}

func (m *MemoryStore) Get(_ context.Context, key Key) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (m *MemoryStore) Put(_ context.Context, item Item) error {
	key, err := itemKey(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = cloneItem(item)
	return nil
}

func (m *MemoryStore) PutAll(_ context.Context, items ...Item) error {
	keys := make([]Key, len(items))
	for i, item := range items {
		key, err := itemKey(item)
		if err != nil {
			return err
		}
		keys[i] = key
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range items {
		m.items[keys[i]] = cloneItem(item)
	}
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key Key, update Update) error {
	if len(update.ops) == 0 {
		return fmt.Errorf("update has no field operations")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.live(key)
	if cond, guarded := update.Condition(); guarded {
		pass, err := cond.Eval(current)
		if err != nil {
			return err
		}
		if !pass {
			return ErrConditionFailed
		}
	}

	next := cloneItem(current)
	if !ok {
		next = Item(KeyAttributes(key))
	}
	for _, op := range update.ops {
		switch op.kind {
		case opSet:
			av, err := marshalValue(op.value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", op.name, err)
			}
			next[op.name] = av
		case opSetIfAbsent:
			if _, exists := next[op.name]; exists {
				continue
			}
			av, err := marshalValue(op.value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", op.name, err)
			}
			next[op.name] = av
		case opAdd:
			delta := &types.AttributeValueMemberN{Value: strconv.FormatInt(op.value.(int64), 10)}
			next[op.name] = addNumber(next[op.name], delta)
		case opRemove:
			delete(next, op.name)
		}
	}
	m.items[key] = next
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) DeleteIf(_ context.Context, key Key, cond Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, _ := m.live(key)
	pass, err := cond.Eval(current)
	if err != nil {
		return err
	}
	if !pass {
		return ErrConditionFailed
	}
	delete(m.items, key)
	return nil
}

// Scan returns every live item ordered by (pk, sk).
func (m *MemoryStore) Scan(_ context.Context, filter *Condition) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []Item
	for key := range m.items {
		item, ok := m.live(key)
		if !ok {
			continue
		}
		if filter != nil {
			pass, err := filter.Eval(item)
			if err != nil {
				return nil, err
			}
			if !pass {
				continue
			}
		}
		items = append(items, cloneItem(item))
	}
	sortItems(items)
	return items, nil
}

// Query returns live items of one partition ordered by sort key.
func (m *MemoryStore) Query(_ context.Context, q Query) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []Item
	for key := range m.items {
		item, ok := m.live(key)
		if !ok {
			continue
		}
		if q.Index != "" {
			if item.String(dynamo.AttrGSI1PK) != q.PK {
				continue
			}
		} else if key.PK != q.PK || !strings.HasPrefix(key.SK, q.SKPrefix) {
			continue
		}
		items = append(items, cloneItem(item))
	}
	sortItems(items)
	return items, nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Key(), items[j].Key()
		if a.PK != b.PK {
			return a.PK < b.PK
		}
		return a.SK < b.SK
	})
}

func itemKey(item Item) (Key, error) {
	key := item.Key()
	if key.PK == "" || key.SK == "" {
		return Key{}, fmt.Errorf("item is missing %s or %s", dynamo.AttrPK, dynamo.AttrSK)
	}
	return key, nil
}

func marshalValue(v any) (types.AttributeValue, error) {
	if av, ok := v.(types.AttributeValue); ok {
		return cloneValue(av), nil
	}
	return attributevalue.Marshal(v)
}
