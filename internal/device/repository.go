package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

// ErrDeviceNotFound is returned when no live device row exists.
var ErrDeviceNotFound = errors.New("device not found")

// Repository reads and writes device rows.
type Repository struct {
	store keyspace.Store
	now   func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(store keyspace.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

func deviceKey(clientID, endpointID string) keyspace.Key {
	return keyspace.Key{PK: dynamo.PrefixClient + clientID, SK: SortKey(endpointID)}
}

// Get retrieves one device, including soft-deleted ones.
func (r *Repository) Get(ctx context.Context, clientID, endpointID string) (*Device, error) {
	item, err := r.store.Get(ctx, deviceKey(clientID, endpointID))
	if err != nil {
		if errors.Is(err, keyspace.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	var d Device
	if err := item.Unmarshal(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns the client's live devices ordered by endpoint ID. Soft-deleted
// rows and rows that are not well-formed devices are skipped.
func (r *Repository) List(ctx context.Context, clientID string) ([]*Device, error) {
	items, err := r.store.Query(ctx, keyspace.Query{
		PK:       dynamo.PrefixClient + clientID,
		SKPrefix: dynamo.PrefixDevice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*Device, 0, len(items))
	for _, item := range items {
		var d Device
		if err := item.Unmarshal(&d); err != nil {
			continue
		}
		if d.EndpointID == "" || d.Deleted() {
			continue
		}
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].EndpointID < devices[j].EndpointID
	})
	return devices, nil
}

// Upsert writes the endpoint descriptor and marks the device active. firstSeen
// is only written once; a soft-deleted device is revived and loses its ttl.
// A nil state leaves any recorded state untouched.
func (r *Repository) Upsert(ctx context.Context, clientID, endpointID string, endpoint, state map[string]any) error {
	now := dynamo.FormatTime(r.now())
	update := keyspace.Set(AttrEndpointID, endpointID).
		Set(AttrClientID, clientID).
		Set(dynamo.AttrEntityType, dynamo.EntityDevice).
		Set(AttrEndpoint, endpoint).
		Set(AttrStatus, StatusActive).
		Set(AttrUpdatedAt, now).
		SetIfAbsent(AttrFirstSeen, now).
		Remove(dynamo.AttrTTL)
	if state != nil {
		update = update.Set(AttrState, state)
	}

	if err := r.store.Update(ctx, deviceKey(clientID, endpointID), update); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// UpdateState replaces the recorded state. The status becomes active only when
// the row has none yet, so a soft-deleted device stays deleted.
func (r *Repository) UpdateState(ctx context.Context, clientID, endpointID string, state map[string]any) error {
	now := dynamo.FormatTime(r.now())
	update := keyspace.Set(AttrState, state).
		Set(AttrUpdatedAt, now).
		SetIfAbsent(AttrStatus, StatusActive).
		SetIfAbsent(AttrEndpointID, endpointID).
		SetIfAbsent(AttrClientID, clientID).
		SetIfAbsent(dynamo.AttrEntityType, dynamo.EntityDevice).
		SetIfAbsent(AttrFirstSeen, now)

	if err := r.store.Update(ctx, deviceKey(clientID, endpointID), update); err != nil {
		return fmt.Errorf("failed to update device state: %w", err)
	}
	return nil
}

// Delete removes the device row. Removing a missing device is not an error.
func (r *Repository) Delete(ctx context.Context, clientID, endpointID string) error {
	if err := r.store.Delete(ctx, deviceKey(clientID, endpointID)); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// SoftDelete marks an existing device deleted and schedules its removal after
// retention.
func (r *Repository) SoftDelete(ctx context.Context, clientID, endpointID string, retention time.Duration) error {
	now := r.now()
	update := keyspace.Set(AttrStatus, StatusDeleted).
		Set(AttrUpdatedAt, dynamo.FormatTime(now)).
		Set(dynamo.AttrTTL, now.Add(retention).Unix()).
		When(keyspace.Exists(dynamo.AttrPK))

	if err := r.store.Update(ctx, deviceKey(clientID, endpointID), update); err != nil {
		if errors.Is(err, keyspace.ErrConditionFailed) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to soft-delete device: %w", err)
	}
	return nil
}
