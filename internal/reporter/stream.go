package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

// Kind is what a device change means to the event gateway.
type Kind int

// Change kinds.
const (
	KindChange Kind = iota + 1
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindChange:
		return "change"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// Stream event names.
const (
	eventInsert = "INSERT"
	eventModify = "MODIFY"
	eventRemove = "REMOVE"
)

// Change is a device record change worth reporting.
type Change struct {
	Kind           Kind
	ClientID       string
	EndpointID     string
	Old            *device.Device
	New            *device.Device
	SequenceNumber string
}

// Classify decides whether a stream record is reportable. It returns nil for
// records that are not device rows or whose state did not change.
func Classify(record events.DynamoDBEventRecord) (*Change, error) {
	switch record.EventName {
	case eventInsert, eventModify, eventRemove:
	default:
		return nil, nil
	}

	oldItem, err := convertImage(record.Change.OldImage)
	if err != nil {
		return nil, fmt.Errorf("old image: %w", err)
	}
	newItem, err := convertImage(record.Change.NewImage)
	if err != nil {
		return nil, fmt.Errorf("new image: %w", err)
	}

	image := newItem
	if record.EventName == eventRemove {
		image = oldItem
	}
	pk := firstNonEmpty(image.String(dynamo.AttrPK), oldItem.String(dynamo.AttrPK), newItem.String(dynamo.AttrPK))
	sk := firstNonEmpty(image.String(dynamo.AttrSK), oldItem.String(dynamo.AttrSK), newItem.String(dynamo.AttrSK))
	if !device.IsDeviceKey(pk, sk) {
		return nil, nil
	}

	oldDev, err := decodeDevice(oldItem)
	if err != nil {
		return nil, fmt.Errorf("decode old image: %w", err)
	}
	newDev, err := decodeDevice(newItem)
	if err != nil {
		return nil, fmt.Errorf("decode new image: %w", err)
	}

	change := &Change{
		ClientID:       pk[len(dynamo.PrefixClient):],
		EndpointID:     sk[len(dynamo.PrefixDevice):],
		Old:            oldDev,
		New:            newDev,
		SequenceNumber: record.Change.SequenceNumber,
	}

	// Alexa was told about the delete when the row was soft-deleted.
	if status(oldDev) == device.StatusDeleted && (record.EventName == eventRemove || status(newDev) == device.StatusDeleted) {
		return nil, nil
	}
	if record.EventName == eventRemove {
		change.Kind = KindDelete
		return change, nil
	}
	if status(oldDev) == device.StatusActive && status(newDev) == device.StatusDeleted {
		change.Kind = KindDelete
		return change, nil
	}

	same, err := sameState(oldDev, newDev)
	if err != nil {
		return nil, err
	}
	if same {
		return nil, nil
	}
	change.Kind = KindChange
	return change, nil
}

func status(d *device.Device) string {
	if d == nil {
		return ""
	}
	return d.Status
}

// sameState compares the serialized state of both images. A missing state
// counts as an empty object.
func sameState(a, b *device.Device) (bool, error) {
	x, err := stateJSON(a)
	if err != nil {
		return false, err
	}
	y, err := stateJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(x, y), nil
}

func stateJSON(d *device.Device) ([]byte, error) {
	state := map[string]any{}
	if d != nil && d.State != nil {
		state = d.State
	}
	return json.Marshal(state)
}

func decodeDevice(item keyspace.Item) (*device.Device, error) {
	if len(item) == 0 {
		return nil, nil
	}
	var d device.Device
	if err := item.Unmarshal(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// convertImage converts a stream image to SDK attribute values.
func convertImage(image map[string]events.DynamoDBAttributeValue) (keyspace.Item, error) {
	if len(image) == 0 {
		return nil, nil
	}
	item := make(keyspace.Item, len(image))
	for name, v := range image {
		av, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

func convertValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, len(list))
		for i, inner := range list {
			av, err := convertValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = av
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for k, inner := range m {
			av, err := convertValue(inner)
			if err != nil {
				return nil, err
			}
			out[k] = av
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	}
	return nil, fmt.Errorf("unsupported stream attribute type %v", v.DataType())
}
