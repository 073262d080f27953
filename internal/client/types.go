// Package client stores relay client credentials and ownership.
package client

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
)

// Attribute names for client metadata items.
const (
	AttrLabel       = "label"
	AttrActive      = "active"
	AttrEmail       = "email"
	AttrOwnerUserID = "ownerUserId"
	AttrUpdatedAt   = "updatedAt"
)

// Client is a relay client's metadata row.
// PK: CLIENT#{clientId}
// SK: METADATA
type Client struct {
	PK          string `dynamodbav:"pk"`
	SK          string `dynamodbav:"sk"`
	EntityType  string `dynamodbav:"entityType"`
	ClientID    string `dynamodbav:"clientId"`
	Label       string `dynamodbav:"label"`
	Active      bool   `dynamodbav:"active"`
	SecretHash  string `dynamodbav:"secretHash"`
	Email       string `dynamodbav:"email,omitempty"`
	GSI1PK      string `dynamodbav:"gsi1pk,omitempty"`
	OwnerUserID string `dynamodbav:"ownerUserId,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
}

// PartitionKey returns the partition shared by a client's rows.
func PartitionKey(clientID string) string {
	return dynamo.PrefixClient + clientID
}

// NormalizeEmail folds an email address to the form stored in the email index.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(email)))
}

// EmailIndexKey returns the GSI1 partition value for email, or "" for no email.
func EmailIndexKey(email string) string {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return ""
	}
	return dynamo.PrefixEmail + normalized
}
