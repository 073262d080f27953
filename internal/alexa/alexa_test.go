package alexa

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	body := `{"directive":{"header":{"namespace":"Alexa.PowerController","name":"TurnOn","payloadVersion":"3","messageId":"m1","correlationToken":"ct"},"endpoint":{"scope":{"type":"BearerToken","token":"tok"},"endpointId":"lamp-1","cookie":{"clientId":"c1"}},"payload":{}}}`

	req, err := ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	d := req.Directive
	if !d.IsController() {
		t.Error("IsController() = false, want true")
	}
	if got := d.EndpointID(); got != "lamp-1" {
		t.Errorf("EndpointID() = %q, want %q", got, "lamp-1")
	}
	if got := d.CookieClientID(); got != "c1" {
		t.Errorf("CookieClientID() = %q, want %q", got, "c1")
	}
	if got := d.BearerToken(); got != "tok" {
		t.Errorf("BearerToken() = %q, want %q", got, "tok")
	}

	raw, err := d.Raw()
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if !strings.Contains(string(raw), `"cookie":{"clientId":"c1"}`) {
		t.Errorf("Raw() = %s, want the directive as received", raw)
	}
}

func TestParseRequest_MissingDirective(t *testing.T) {
	for _, body := range []string{`{}`, `{"directive":null}`} {
		if _, err := ParseRequest([]byte(body)); !errors.Is(err, ErrMissingDirective) {
			t.Errorf("ParseRequest(%s) error = %v, want ErrMissingDirective", body, err)
		}
	}
	if _, err := ParseRequest([]byte(`not json`)); err == nil {
		t.Error("ParseRequest(not json) error = nil")
	}
}

func TestBearerToken_Locations(t *testing.T) {
	tests := []struct {
		name string
		d    Directive
		want string
	}{
		{
			name: "discovery payload scope",
			d:    Directive{Header: Header{Namespace: NamespaceDiscovery}, Payload: json.RawMessage(`{"scope":{"type":"BearerToken","token":"d"}}`)},
			want: "d",
		},
		{
			name: "accept grant grantee",
			d:    Directive{Header: Header{Namespace: NamespaceAuthorization}, Payload: json.RawMessage(`{"grant":{"type":"OAuth2.AuthorizationCode","code":"c"},"grantee":{"type":"BearerToken","token":"g"}}`)},
			want: "g",
		},
		{
			name: "endpoint scope",
			d:    Directive{Header: Header{Namespace: NamespaceAlexa}, Endpoint: &Endpoint{Scope: &Scope{Token: "e"}}},
			want: "e",
		},
		{
			name: "none",
			d:    Directive{Header: Header{Namespace: NamespaceAlexa}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.BearerToken(); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsController(t *testing.T) {
	tests := map[string]bool{
		NamespacePowerController:     true,
		NamespaceColorTempController: true,
		"Alexa.ThermostatController": true,
		NamespaceDiscovery:           false,
		NamespaceAlexa:               false,
		"Custom.FooController":       false,
	}
	for ns, want := range tests {
		d := Directive{Header: Header{Namespace: ns}}
		if got := d.IsController(); got != want {
			t.Errorf("IsController(%q) = %v, want %v", ns, got, want)
		}
	}
}

func TestNewErrorResponse_Encoding(t *testing.T) {
	h := Header{Namespace: NamespaceAlexa, Name: NameReportState, MessageID: "m1", CorrelationToken: "ct"}
	resp := NewErrorResponse(h, &Endpoint{EndpointID: "lamp-1"}, ErrorNoSuchEndpoint, "Device not found")

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	want := `{"event":{"header":{"namespace":"Alexa","name":"ErrorResponse","payloadVersion":"3","messageId":"m1","correlationToken":"ct"},"endpoint":{"endpointId":"lamp-1"},"payload":{"type":"NO_SUCH_ENDPOINT","message":"Device not found"}}}`
	if string(data) != want {
		t.Errorf("encoding = %s\nwant %s", data, want)
	}

	p, ok := resp.Failure()
	if !ok || p.Type != ErrorNoSuchEndpoint {
		t.Errorf("Failure() = %+v, %v", p, ok)
	}
}

func TestNewEvent_EmptyPayload(t *testing.T) {
	data, _ := json.Marshal(NewEvent(NamespaceAlexa, NameResponse, "m1", "", nil, nil))
	want := `{"event":{"header":{"namespace":"Alexa","name":"Response","payloadVersion":"3","messageId":"m1"},"payload":{}}}`
	if string(data) != want {
		t.Errorf("encoding = %s\nwant %s", data, want)
	}
}

func TestReports(t *testing.T) {
	change := NewChangeReport("m1", "lamp-1", "tok", nil)
	if got := change.Token(); got != "tok" {
		t.Errorf("change Token() = %q", got)
	}
	data, _ := json.Marshal(change)
	if !strings.Contains(string(data), `"change":{"cause":{"type":"PHYSICAL_INTERACTION"},"properties":[]}`) {
		t.Errorf("change report = %s", data)
	}

	del := NewDeleteReport("m2", "lamp-1", "tok2")
	if got := del.Token(); got != "tok2" {
		t.Errorf("delete Token() = %q", got)
	}
	data, _ = json.Marshal(del)
	want := `{"event":{"header":{"namespace":"Alexa.Discovery","name":"DeleteReport","payloadVersion":"3","messageId":"m2"},"payload":{"endpoints":[{"endpointId":"lamp-1"}],"scope":{"type":"BearerToken","token":"tok2"}}}}`
	if string(data) != want {
		t.Errorf("delete report = %s\nwant %s", data, want)
	}
}

func TestStateProperties(t *testing.T) {
	const at = "2024-05-01T12:00:00.000Z"

	t.Run("recorded properties", func(t *testing.T) {
		state := map[string]any{
			"powerState": "ON",
			"properties": []any{
				map[string]any{"namespace": "Alexa.BrightnessController", "name": "brightness", "value": float64(40), "timeOfSample": "earlier", "uncertaintyInMilliseconds": float64(0)},
				map[string]any{"namespace": "Alexa.PowerController", "name": "powerState", "value": "ON"},
				"garbage",
			},
		}
		props := StateProperties(state, at, 1000)
		if len(props) != 2 {
			t.Fatalf("len = %d, want 2", len(props))
		}
		if props[0].TimeOfSample != "earlier" {
			t.Errorf("TimeOfSample = %q, want recorded value", props[0].TimeOfSample)
		}
		if props[1].TimeOfSample != at {
			t.Errorf("TimeOfSample = %q, want fallback", props[1].TimeOfSample)
		}
	})

	t.Run("power state string", func(t *testing.T) {
		props := StateProperties(map[string]any{"powerState": "ON"}, at, 1000)
		if len(props) != 1 || props[0].Value != "ON" || props[0].Namespace != NamespacePowerController {
			t.Errorf("props = %+v", props)
		}
	})

	t.Run("power state bool", func(t *testing.T) {
		props := StateProperties(map[string]any{"powerState": false}, at, 1000)
		if len(props) != 1 || props[0].Value != "OFF" {
			t.Errorf("props = %+v", props)
		}
	})

	t.Run("nothing usable", func(t *testing.T) {
		if props := StateProperties(map[string]any{"level": 3}, at, 1000); props != nil {
			t.Errorf("props = %+v, want nil", props)
		}
		if props := StateProperties(nil, at, 1000); props != nil {
			t.Errorf("props = %+v, want nil", props)
		}
	})
}
