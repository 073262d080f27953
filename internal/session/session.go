// Package session tracks which relay connection belongs to which client.
//
// A register writes two rows together: the Session row keyed by connection
// and the reverse ClientConnection row keyed by client. A client has at most
// one live connection; a later register overwrites the reverse row.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

// Error types for session operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoConnection    = errors.New("client has no live connection")
)

// AttrConnectionID names the connection on the reverse row.
const AttrConnectionID = "connectionId"

// Session binds a relay connection to a client.
// PK: CONN#{connectionId}
// SK: SESSION
type Session struct {
	PK           string `dynamodbav:"pk"`
	SK           string `dynamodbav:"sk"`
	EntityType   string `dynamodbav:"entityType"`
	ConnectionID string `dynamodbav:"connectionId"`
	ClientID     string `dynamodbav:"clientId"`
	ConnectedAt  string `dynamodbav:"connectedAt"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
}

// ClientConnection is the reverse index from client to live connection.
// PK: CLIENT#{clientId}
// SK: CONN
type ClientConnection struct {
	PK           string `dynamodbav:"pk"`
	SK           string `dynamodbav:"sk"`
	EntityType   string `dynamodbav:"entityType"`
	ClientID     string `dynamodbav:"clientId"`
	ConnectionID string `dynamodbav:"connectionId"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
}

// Repository reads and writes session rows.
type Repository struct {
	store keyspace.Store
	now   func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(store keyspace.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

func sessionKey(connectionID string) keyspace.Key {
	return keyspace.Key{PK: dynamo.PrefixConn + connectionID, SK: dynamo.SKSession}
}

func reverseKey(clientID string) keyspace.Key {
	return keyspace.Key{PK: dynamo.PrefixClient + clientID, SK: dynamo.SKConn}
}

// Open writes the session and reverse rows in one atomic write.
func (r *Repository) Open(ctx context.Context, connectionID, clientID string) (*Session, error) {
	now := dynamo.FormatTime(r.now())
	sess := &Session{
		PK:           sessionKey(connectionID).PK,
		SK:           dynamo.SKSession,
		EntityType:   dynamo.EntitySession,
		ConnectionID: connectionID,
		ClientID:     clientID,
		ConnectedAt:  now,
		UpdatedAt:    now,
	}
	reverse := &ClientConnection{
		PK:           reverseKey(clientID).PK,
		SK:           dynamo.SKConn,
		EntityType:   dynamo.EntityConn,
		ClientID:     clientID,
		ConnectionID: connectionID,
		UpdatedAt:    now,
	}

	sessItem, err := keyspace.Marshal(sess)
	if err != nil {
		return nil, err
	}
	reverseItem, err := keyspace.Marshal(reverse)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutAll(ctx, sessItem, reverseItem); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return sess, nil
}

// Get retrieves the session for a connection.
func (r *Repository) Get(ctx context.Context, connectionID string) (*Session, error) {
	item, err := r.store.Get(ctx, sessionKey(connectionID))
	if err != nil {
		if errors.Is(err, keyspace.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess Session
	if err := item.Unmarshal(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Close removes the connection's session and, when it still names this
// connection, the client's reverse row. It returns the closed session, or
// ErrSessionNotFound when there was none.
func (r *Repository) Close(ctx context.Context, connectionID string) (*Session, error) {
	sess, err := r.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.store.Delete(gctx, sessionKey(connectionID)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := r.store.DeleteIf(gctx, reverseKey(sess.ClientID), keyspace.Equal(AttrConnectionID, connectionID))
		if err != nil && !errors.Is(err, keyspace.ErrConditionFailed) {
			return fmt.Errorf("failed to delete client connection: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sess, nil
}

// ConnectionFor returns the client's live connection ID.
func (r *Repository) ConnectionFor(ctx context.Context, clientID string) (string, error) {
	item, err := r.store.Get(ctx, reverseKey(clientID))
	if err != nil {
		if errors.Is(err, keyspace.ErrNotFound) {
			return "", ErrNoConnection
		}
		return "", fmt.Errorf("failed to get client connection: %w", err)
	}
	connectionID := item.String(AttrConnectionID)
	if connectionID == "" {
		return "", ErrNoConnection
	}
	return connectionID, nil
}
