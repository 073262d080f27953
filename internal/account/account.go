// Package account maps voice-assistant users to relay clients and holds the
// users' event gateway tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

// ErrAccountNotFound is returned when a user has no mapping.
var ErrAccountNotFound = errors.New("account not found")

// Attribute names for account items.
const (
	AttrUserID          = "userId"
	AttrClientID        = "clientId"
	AttrEmail           = "email"
	AttrMappedAt        = "mappedAt"
	AttrAccessToken     = "alexaAccessToken"
	AttrRefreshToken    = "alexaRefreshToken"
	AttrTokenExpiresAt  = "alexaTokenExpiresAt"
	AttrTokensUpdatedAt = "alexaTokensUpdatedAt"
)

// Account is a user to client mapping.
// PK: USER#{userId}
// SK: METADATA
type Account struct {
	PK                  string     `dynamodbav:"pk"`
	SK                  string     `dynamodbav:"sk"`
	EntityType          string     `dynamodbav:"entityType,omitempty"`
	UserID              string     `dynamodbav:"userId,omitempty"`
	ClientID            string     `dynamodbav:"clientId,omitempty"`
	Email               string     `dynamodbav:"email,omitempty"`
	MappedAt            string     `dynamodbav:"mappedAt,omitempty"`
	AlexaAccessToken    string     `dynamodbav:"alexaAccessToken,omitempty"`
	AlexaRefreshToken   string     `dynamodbav:"alexaRefreshToken,omitempty"`
	AlexaTokenExpiresAt *time.Time `dynamodbav:"alexaTokenExpiresAt,omitempty"`
}

// Tokens is a token grant to persist on an account.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Repository reads and writes account rows.
type Repository struct {
	store keyspace.Store
	now   func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(store keyspace.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

func accountKey(userID string) keyspace.Key {
	return keyspace.Key{PK: dynamo.PrefixUser + userID, SK: dynamo.SKMetadata}
}

// Get retrieves a user's account.
func (r *Repository) Get(ctx context.Context, userID string) (*Account, error) {
	item, err := r.store.Get(ctx, accountKey(userID))
	if err != nil {
		if errors.Is(err, keyspace.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	var a Account
	if err := item.Unmarshal(&a); err != nil {
		return nil, err
	}
	if a.UserID == "" {
		a.UserID = userID
	}
	return &a, nil
}

// Link maps the user to a client. Stored tokens are left untouched.
func (r *Repository) Link(ctx context.Context, userID, clientID, email string) error {
	update := keyspace.Set(AttrUserID, userID).
		Set(AttrClientID, clientID).
		Set(dynamo.AttrEntityType, dynamo.EntityAccount).
		Set(AttrMappedAt, dynamo.FormatTime(r.now()))
	if email != "" {
		update = update.Set(AttrEmail, email)
	}

	if err := r.store.Update(ctx, accountKey(userID), update); err != nil {
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

// StoreTokens persists a token grant. An empty refresh token keeps the stored one.
func (r *Repository) StoreTokens(ctx context.Context, userID string, tokens Tokens) error {
	update := keyspace.Set(AttrUserID, userID).
		Set(AttrAccessToken, tokens.AccessToken).
		Set(AttrTokenExpiresAt, tokens.ExpiresAt.UTC()).
		Set(AttrTokensUpdatedAt, dynamo.FormatTime(r.now())).
		SetIfAbsent(dynamo.AttrEntityType, dynamo.EntityAccount)
	if tokens.RefreshToken != "" {
		update = update.Set(AttrRefreshToken, tokens.RefreshToken)
	}

	if err := r.store.Update(ctx, accountKey(userID), update); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

// Delete removes a user's mapping.
func (r *Repository) Delete(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, accountKey(userID)); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// DeleteForClient removes a user's mapping only while it points at clientID.
// It returns ErrAccountNotFound when the user is mapped elsewhere or not at all.
func (r *Repository) DeleteForClient(ctx context.Context, userID, clientID string) error {
	err := r.store.DeleteIf(ctx, accountKey(userID), keyspace.Equal(AttrClientID, clientID))
	if errors.Is(err, keyspace.ErrConditionFailed) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// ListByClient returns every user mapped to clientID.
func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]*Account, error) {
	filter := keyspace.And(
		keyspace.Equal(dynamo.AttrEntityType, dynamo.EntityAccount),
		keyspace.Equal(AttrClientID, clientID),
	)
	items, err := r.store.Scan(ctx, &filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]*Account, 0, len(items))
	for _, item := range items {
		var a Account
		if err := item.Unmarshal(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}
