package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

// Error types for repository operations.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrAlreadyClaimed = errors.New("client already claimed")
)

// Patch lists the client fields an admin may change. Nil fields are untouched;
// an empty Email removes the address and its index entry.
type Patch struct {
	Label  *string
	Active *bool
	Email  *string
}

// Repository reads and writes client metadata rows.
type Repository struct {
	store keyspace.Store
	now   func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(store keyspace.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

func metadataKey(clientID string) keyspace.Key {
	return keyspace.Key{PK: PartitionKey(clientID), SK: dynamo.SKMetadata}
}

// Get retrieves a client by ID.
func (r *Repository) Get(ctx context.Context, clientID string) (*Client, error) {
	item, err := r.store.Get(ctx, metadataKey(clientID))
	if err != nil {
		if errors.Is(err, keyspace.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	var c Client
	if err := item.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create stores a new client. Key, entity type, index key and timestamps are
// filled in from ClientID and Email.
func (r *Repository) Create(ctx context.Context, c *Client) error {
	now := dynamo.FormatTime(r.now())
	c.PK = PartitionKey(c.ClientID)
	c.SK = dynamo.SKMetadata
	c.EntityType = dynamo.EntityClient
	c.Email = NormalizeEmail(c.Email)
	c.GSI1PK = EmailIndexKey(c.Email)
	c.CreatedAt = now
	c.UpdatedAt = now

	item, err := keyspace.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// List returns every client ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]*Client, error) {
	filter := keyspace.And(
		keyspace.Equal(dynamo.AttrSK, dynamo.SKMetadata),
		keyspace.Equal(dynamo.AttrEntityType, dynamo.EntityClient),
	)
	items, err := r.store.Scan(ctx, &filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients := make([]*Client, 0, len(items))
	for _, item := range items {
		var c Client
		if err := item.Unmarshal(&c); err != nil {
			return nil, err
		}
		clients = append(clients, &c)
	}
	sort.SliceStable(clients, func(i, j int) bool {
		return clients[i].CreatedAt < clients[j].CreatedAt
	})
	return clients, nil
}

// Update applies patch to an existing client and returns the result.
func (r *Repository) Update(ctx context.Context, clientID string, patch Patch) (*Client, error) {
	update := keyspace.Set(AttrUpdatedAt, dynamo.FormatTime(r.now()))
	if patch.Label != nil {
		update = update.Set(AttrLabel, *patch.Label)
	}
	if patch.Active != nil {
		update = update.Set(AttrActive, *patch.Active)
	}
	if patch.Email != nil {
		if email := NormalizeEmail(*patch.Email); email != "" {
			update = update.Set(AttrEmail, email).Set(dynamo.AttrGSI1PK, EmailIndexKey(email))
		} else {
			update = update.Remove(AttrEmail).Remove(dynamo.AttrGSI1PK)
		}
	}
	update = update.When(keyspace.Exists(dynamo.AttrPK))

	if err := r.store.Update(ctx, metadataKey(clientID), update); err != nil {
		if errors.Is(err, keyspace.ErrConditionFailed) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return r.Get(ctx, clientID)
}

// Revoke deactivates a client.
func (r *Repository) Revoke(ctx context.Context, clientID string) (*Client, error) {
	inactive := false
	return r.Update(ctx, clientID, Patch{Active: &inactive})
}

// Delete removes the metadata row only; devices and sessions are left alone.
func (r *Repository) Delete(ctx context.Context, clientID string) error {
	if err := r.store.Delete(ctx, metadataKey(clientID)); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

// FindByEmail returns the clients whose email matches, via the email index.
func (r *Repository) FindByEmail(ctx context.Context, email string) ([]*Client, error) {
	indexKey := EmailIndexKey(email)
	if indexKey == "" {
		return nil, nil
	}
	items, err := r.store.Query(ctx, keyspace.Query{Index: dynamo.IndexGSI1, PK: indexKey})
	if err != nil {
		return nil, fmt.Errorf("failed to query email index: %w", err)
	}

	clients := make([]*Client, 0, len(items))
	for _, item := range items {
		var c Client
		if err := item.Unmarshal(&c); err != nil {
			return nil, err
		}
		clients = append(clients, &c)
	}
	return clients, nil
}

// ClaimOwner binds the client to userID. It succeeds when the client is
// unowned or already owned by userID, and fails with ErrAlreadyClaimed when
// another user owns it.
func (r *Repository) ClaimOwner(ctx context.Context, clientID, userID string) error {
	update := keyspace.Set(AttrOwnerUserID, userID).
		Set(AttrUpdatedAt, dynamo.FormatTime(r.now())).
		When(keyspace.And(
			keyspace.Exists(dynamo.AttrPK),
			keyspace.Or(
				keyspace.NotExists(AttrOwnerUserID),
				keyspace.Equal(AttrOwnerUserID, userID),
			),
		))

	err := r.store.Update(ctx, metadataKey(clientID), update)
	if err == nil {
		return nil
	}
	if !errors.Is(err, keyspace.ErrConditionFailed) {
		return fmt.Errorf("failed to claim client: %w", err)
	}
	if _, getErr := r.Get(ctx, clientID); errors.Is(getErr, ErrClientNotFound) {
		return ErrClientNotFound
	}
	return ErrAlreadyClaimed
}

// ReleaseOwner clears the owner when it is userID. It reports whether the
// owner was cleared.
func (r *Repository) ReleaseOwner(ctx context.Context, clientID, userID string) (bool, error) {
	update := keyspace.Set(AttrUpdatedAt, dynamo.FormatTime(r.now())).
		Remove(AttrOwnerUserID).
		When(keyspace.Equal(AttrOwnerUserID, userID))

	if err := r.store.Update(ctx, metadataKey(clientID), update); err != nil {
		if errors.Is(err, keyspace.ErrConditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to release client: %w", err)
	}
	return true, nil
}
