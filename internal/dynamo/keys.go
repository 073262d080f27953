// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

import "github.com/jarrod-lowe/jmap-service-libs/dbclient"

const (
	// Primary key attributes.
	AttrPK = dbclient.AttrPK
	AttrSK = dbclient.AttrSK

	// Attributes shared by several entity types.
	AttrEntityType = "entityType"
	AttrTTL        = "ttl"

	// Key prefixes.
	PrefixClient = "CLIENT#"
	PrefixUser   = "USER#"
	PrefixConn   = "CONN#"
	PrefixDevice = "DEVICE#"
	PrefixRate   = "RATE#"
	PrefixEmail  = "EMAIL#"

	// Fixed sort keys.
	SKMetadata = "METADATA"
	SKSession  = "SESSION"
	SKConn     = "CONN"

	// GSI1 maps a normalised email to the client row that carries it.
	AttrGSI1PK = "gsi1pk"
	IndexGSI1  = "GSI1"
)

// Entity types stored in AttrEntityType.
const (
	EntityClient  = "client"
	EntityDevice  = "device"
	EntitySession = "session"
	EntityConn    = "clientConnection"
	EntityAccount = "account"
)
