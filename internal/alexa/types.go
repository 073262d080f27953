// Package alexa holds the Smart Home directive and event wire types.
package alexa

import (
	"encoding/json"
	"errors"
	"strings"
)

// PayloadVersion is the only protocol version this bridge speaks.
const PayloadVersion = "3"

// Namespaces handled by the directive engine.
const (
	NamespaceAlexa                = "Alexa"
	NamespaceDiscovery            = "Alexa.Discovery"
	NamespaceAuthorization        = "Alexa.Authorization"
	NamespacePowerController      = "Alexa.PowerController"
	NamespaceBrightnessController = "Alexa.BrightnessController"
	NamespaceColorController      = "Alexa.ColorController"
	NamespaceColorTempController  = "Alexa.ColorTemperatureController"
)

// Directive and event names.
const (
	NameDiscover            = "Discover"
	NameDiscoverResponse    = "Discover.Response"
	NameReportState         = "ReportState"
	NameStateReport         = "StateReport"
	NameResponse            = "Response"
	NameErrorResponse       = "ErrorResponse"
	NameAcceptGrant         = "AcceptGrant"
	NameAcceptGrantResponse = "AcceptGrant.Response"
	NameChangeReport        = "ChangeReport"
	NameDeleteReport        = "DeleteReport"
	NameTurnOn              = "TurnOn"
	NameTurnOff             = "TurnOff"
	NameSetBrightness       = "SetBrightness"
	NameSetColor            = "SetColor"
	NameSetColorTemperature = "SetColorTemperature"
)

// ErrorType is the payload type of an ErrorResponse.
type ErrorType string

// Error types.
const (
	ErrorInvalidDirective               ErrorType = "INVALID_DIRECTIVE"
	ErrorInvalidAuthorizationCredential ErrorType = "INVALID_AUTHORIZATION_CREDENTIAL"
	ErrorNoSuchEndpoint                 ErrorType = "NO_SUCH_ENDPOINT"
	ErrorAcceptGrantFailed              ErrorType = "ACCEPT_GRANT_FAILED"
	ErrorInternal                       ErrorType = "INTERNAL_ERROR"
)

// ScopeTypeBearer is the only scope type issued by account linking.
const ScopeTypeBearer = "BearerToken"

// ErrMissingDirective is returned by ParseRequest when the envelope has no directive.
var ErrMissingDirective = errors.New("missing directive")

// Header is the header of a directive or event.
type Header struct {
	Namespace        string `json:"namespace"`
	Name             string `json:"name"`
	Instance         string `json:"instance,omitempty"`
	PayloadVersion   string `json:"payloadVersion"`
	MessageID        string `json:"messageId"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// Scope carries the bearer token of a linked account.
type Scope struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Endpoint identifies a device in a directive or event.
type Endpoint struct {
	Scope      *Scope         `json:"scope,omitempty"`
	EndpointID string         `json:"endpointId"`
	Cookie     map[string]any `json:"cookie,omitempty"`
}

// Directive is an inbound request.
type Directive struct {
	Header   Header          `json:"header"`
	Endpoint *Endpoint       `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	raw json.RawMessage
}

// Request is the envelope a skill invocation carries.
type Request struct {
	Directive *Directive `json:"directive"`
}

// Grant is the authorization grant of an AcceptGrant directive.
type Grant struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// directivePayload lists the payload fields the bridge reads.
type directivePayload struct {
	Scope   *Scope `json:"scope"`
	Grantee *Scope `json:"grantee"`
	Grant   *Grant `json:"grant"`
}

// ParseRequest decodes a skill invocation and keeps the directive's raw JSON
// for forwarding.
func ParseRequest(data []byte) (*Request, error) {
	var envelope struct {
		Directive json.RawMessage `json:"directive"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Directive) == 0 || string(envelope.Directive) == "null" {
		return nil, ErrMissingDirective
	}
	var d Directive
	if err := json.Unmarshal(envelope.Directive, &d); err != nil {
		return nil, err
	}
	d.raw = envelope.Directive
	return &Request{Directive: &d}, nil
}

// Raw returns the directive as received, or its encoding when it was built
// in-process.
func (d *Directive) Raw() (json.RawMessage, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	return json.Marshal(d)
}

// IsController reports whether the directive targets a controller interface.
func (d *Directive) IsController() bool {
	return strings.HasPrefix(d.Header.Namespace, NamespaceAlexa+".") &&
		strings.HasSuffix(d.Header.Namespace, "Controller")
}

// EndpointID returns the addressed endpoint, if any.
func (d *Directive) EndpointID() string {
	if d.Endpoint == nil {
		return ""
	}
	return d.Endpoint.EndpointID
}

// CookieClientID returns the clientId a Discovery response stored in the
// endpoint cookie.
func (d *Directive) CookieClientID() string {
	if d.Endpoint == nil {
		return ""
	}
	id, _ := d.Endpoint.Cookie["clientId"].(string)
	return id
}

// BearerToken returns the account token. Discovery carries it in the payload
// scope, AcceptGrant in the grantee, everything else in the endpoint scope.
func (d *Directive) BearerToken() string {
	switch d.Header.Namespace {
	case NamespaceDiscovery:
		if p := d.payload(); p.Scope != nil {
			return p.Scope.Token
		}
	case NamespaceAuthorization:
		if p := d.payload(); p.Grantee != nil {
			return p.Grantee.Token
		}
	default:
		if d.Endpoint != nil && d.Endpoint.Scope != nil {
			return d.Endpoint.Scope.Token
		}
	}
	return ""
}

// GrantCode returns the authorization code of an AcceptGrant directive.
func (d *Directive) GrantCode() string {
	if p := d.payload(); p.Grant != nil {
		return p.Grant.Code
	}
	return ""
}

// PayloadField returns one top-level payload value.
func (d *Directive) PayloadField(name string) any {
	var fields map[string]any
	if len(d.Payload) == 0 || json.Unmarshal(d.Payload, &fields) != nil {
		return nil
	}
	return fields[name]
}

func (d *Directive) payload() directivePayload {
	var p directivePayload
	if len(d.Payload) > 0 {
		_ = json.Unmarshal(d.Payload, &p)
	}
	return p
}
