// Package device stores the devices each relay client exposes.
package device

import (
	"strings"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
)

// Status values for a device row.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Attribute names for device items.
const (
	AttrEndpointID = "endpointId"
	AttrClientID   = "clientId"
	AttrEndpoint   = "endpoint"
	AttrState      = "state"
	AttrStatus     = "status"
	AttrFirstSeen  = "firstSeen"
	AttrUpdatedAt  = "updatedAt"
)

// Device is one endpoint reported by a relay client.
// PK: CLIENT#{clientId}
// SK: DEVICE#{endpointId}
type Device struct {
	PK         string         `dynamodbav:"pk"`
	SK         string         `dynamodbav:"sk"`
	EntityType string         `dynamodbav:"entityType,omitempty"`
	ClientID   string         `dynamodbav:"clientId,omitempty"`
	EndpointID string         `dynamodbav:"endpointId"`
	Endpoint   map[string]any `dynamodbav:"endpoint,omitempty"`
	State      map[string]any `dynamodbav:"state,omitempty"`
	Status     string         `dynamodbav:"status,omitempty"`
	FirstSeen  string         `dynamodbav:"firstSeen,omitempty"`
	UpdatedAt  string         `dynamodbav:"updatedAt,omitempty"`
	TTL        int64          `dynamodbav:"ttl,omitempty"`
}

// SortKey returns the sort key of a device row.
func SortKey(endpointID string) string {
	return dynamo.PrefixDevice + endpointID
}

// IsDeviceKey reports whether pk/sk address a device row.
func IsDeviceKey(pk, sk string) bool {
	return strings.HasPrefix(pk, dynamo.PrefixClient) &&
		strings.HasPrefix(sk, dynamo.PrefixDevice) &&
		len(sk) > len(dynamo.PrefixDevice)
}

// OwnerClientID returns the client ID from the row's partition key.
func (d *Device) OwnerClientID() string {
	if d.ClientID != "" {
		return d.ClientID
	}
	return strings.TrimPrefix(d.PK, dynamo.PrefixClient)
}

// ID returns the endpoint ID, falling back to the sort key.
func (d *Device) ID() string {
	if d.EndpointID != "" {
		return d.EndpointID
	}
	return strings.TrimPrefix(d.SK, dynamo.PrefixDevice)
}

// Deleted reports whether the device is soft-deleted.
func (d *Device) Deleted() bool {
	return d.Status == StatusDeleted
}

// Descriptor returns the endpoint descriptor with endpointId filled in.
func (d *Device) Descriptor() map[string]any {
	out := make(map[string]any, len(d.Endpoint)+1)
	for k, v := range d.Endpoint {
		out[k] = v
	}
	out["endpointId"] = d.ID()
	return out
}
