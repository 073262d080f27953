package alexa

import (
	"encoding/json"
)

// CausePhysicalInteraction is the change cause reported for relay-originated
// state changes.
const CausePhysicalInteraction = "PHYSICAL_INTERACTION"

// Property is one reported interface property.
type Property struct {
	Namespace                 string `json:"namespace"`
	Instance                  string `json:"instance,omitempty"`
	Name                      string `json:"name"`
	Value                     any    `json:"value"`
	TimeOfSample              string `json:"timeOfSample"`
	UncertaintyInMilliseconds int    `json:"uncertaintyInMilliseconds"`
}

// Context carries the properties attached to an event.
type Context struct {
	Properties []Property `json:"properties"`
}

// Event is an outbound message.
type Event struct {
	Header   Header    `json:"header"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
	Payload  any       `json:"payload"`
}

// Response is the envelope returned to the skill or posted to the event gateway.
type Response struct {
	Event   Event    `json:"event"`
	Context *Context `json:"context,omitempty"`
}

// ErrorPayload is the payload of an ErrorResponse.
type ErrorPayload struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// DiscoveryPayload is the payload of a Discover.Response.
type DiscoveryPayload struct {
	Endpoints []map[string]any `json:"endpoints"`
}

// Cause explains a change report.
type Cause struct {
	Type string `json:"type"`
}

// Change is the body of a change report.
type Change struct {
	Cause      Cause      `json:"cause"`
	Properties []Property `json:"properties"`
}

// ChangePayload is the payload of a ChangeReport.
type ChangePayload struct {
	Change Change `json:"change"`
}

// EndpointRef names an endpoint without scope or cookie.
type EndpointRef struct {
	EndpointID string `json:"endpointId"`
}

// DeletePayload is the payload of a DeleteReport.
type DeletePayload struct {
	Endpoints []EndpointRef `json:"endpoints"`
	Scope     Scope         `json:"scope"`
}

// NewEvent builds an event envelope. A nil payload encodes as an empty object.
func NewEvent(namespace, name, messageID, correlationToken string, endpoint *Endpoint, payload any) *Response {
	if payload == nil {
		payload = struct{}{}
	}
	return &Response{
		Event: Event{
			Header: Header{
				Namespace:        namespace,
				Name:             name,
				PayloadVersion:   PayloadVersion,
				MessageID:        messageID,
				CorrelationToken: correlationToken,
			},
			Endpoint: endpoint,
			Payload:  payload,
		},
	}
}

// NewErrorResponse builds an ErrorResponse answering the directive header h.
func NewErrorResponse(h Header, endpoint *Endpoint, typ ErrorType, message string) *Response {
	return NewEvent(NamespaceAlexa, NameErrorResponse, h.MessageID, h.CorrelationToken, endpoint,
		ErrorPayload{Type: typ, Message: message})
}

// WithProperties attaches properties as the event context. An empty list
// leaves the context out.
func (r *Response) WithProperties(props []Property) *Response {
	if len(props) > 0 {
		r.Context = &Context{Properties: props}
	}
	return r
}

// Failure returns the error payload when r is an ErrorResponse.
func (r *Response) Failure() (ErrorPayload, bool) {
	p, ok := r.Event.Payload.(ErrorPayload)
	return p, ok && r.Event.Header.Name == NameErrorResponse
}

// NewChangeReport builds a proactive state change event.
func NewChangeReport(messageID, endpointID, token string, props []Property) *Response {
	if props == nil {
		props = []Property{}
	}
	endpoint := &Endpoint{
		Scope:      &Scope{Type: ScopeTypeBearer, Token: token},
		EndpointID: endpointID,
	}
	return NewEvent(NamespaceAlexa, NameChangeReport, messageID, "", endpoint, ChangePayload{
		Change: Change{
			Cause:      Cause{Type: CausePhysicalInteraction},
			Properties: props,
		},
	})
}

// NewDeleteReport builds an event removing an endpoint from the user's account.
func NewDeleteReport(messageID, endpointID, token string) *Response {
	return NewEvent(NamespaceDiscovery, NameDeleteReport, messageID, "", nil, DeletePayload{
		Endpoints: []EndpointRef{{EndpointID: endpointID}},
		Scope:     Scope{Type: ScopeTypeBearer, Token: token},
	})
}

// Token returns the bearer token a report is addressed with.
func (r *Response) Token() string {
	if p, ok := r.Event.Payload.(DeletePayload); ok {
		return p.Scope.Token
	}
	if r.Event.Endpoint != nil && r.Event.Endpoint.Scope != nil {
		return r.Event.Endpoint.Scope.Token
	}
	return ""
}

// NewProperty builds a property sampled at sampledAt.
func NewProperty(namespace, name string, value any, sampledAt string, uncertaintyMs int) Property {
	return Property{
		Namespace:                 namespace,
		Name:                      name,
		Value:                     value,
		TimeOfSample:              sampledAt,
		UncertaintyInMilliseconds: uncertaintyMs,
	}
}

// DefaultPowerState is reported for devices that have recorded no properties.
func DefaultPowerState(sampledAt string) Property {
	return NewProperty(NamespacePowerController, "powerState", "OFF", sampledAt, 1000)
}

// StateProperties projects a device state onto interface properties. Recorded
// state.properties win; otherwise a powerState field becomes a
// PowerController property. Anything else yields no properties.
func StateProperties(state map[string]any, sampledAt string, uncertaintyMs int) []Property {
	if recorded, ok := state["properties"].([]any); ok && len(recorded) > 0 {
		props := make([]Property, 0, len(recorded))
		for _, raw := range recorded {
			p, ok := propertyFrom(raw)
			if !ok {
				continue
			}
			if p.TimeOfSample == "" {
				p.TimeOfSample = sampledAt
			}
			props = append(props, p)
		}
		if len(props) > 0 {
			return props
		}
	}

	switch v := state["powerState"].(type) {
	case string:
		return []Property{NewProperty(NamespacePowerController, "powerState", v, sampledAt, uncertaintyMs)}
	case bool:
		value := "OFF"
		if v {
			value = "ON"
		}
		return []Property{NewProperty(NamespacePowerController, "powerState", value, sampledAt, uncertaintyMs)}
	}
	return nil
}

func propertyFrom(raw any) (Property, bool) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Property{}, false
	}
	var p Property
	if err := json.Unmarshal(data, &p); err != nil || p.Namespace == "" || p.Name == "" {
		return Property{}, false
	}
	return p, true
}
