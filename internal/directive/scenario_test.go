package directive_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/admin"
	"github.com/slidebolt/aws-alexa/internal/alexa"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/directive"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/ratelimit"
	"github.com/slidebolt/aws-alexa/internal/relay"
	"github.com/slidebolt/aws-alexa/internal/response"
	"github.com/slidebolt/aws-alexa/internal/session"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func wantOK(t *testing.T, step string, resp response.Response) {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s: StatusCode = %d, body %v", step, resp.StatusCode, resp.Body)
	}
}

// Test: an operator creates a client, its relay publishes a lamp, the skill
// discovers it and reads its state, and the relay removes it again.
func TestScenario_KitchenLamp(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := keyspace.NewMemoryStore()
	clients := client.NewRepository(store)
	accounts := account.NewRepository(store)
	devices := device.NewRepository(store)
	sessions := session.NewRepository(store)

	admins := admin.NewService(clients, accounts, "admin-secret", logger)
	relays := relay.NewService(clients, devices, sessions, ratelimit.NewLimiter(store, logger), 0, logger)
	engine := directive.NewEngine(directive.Dependencies{
		Devices:     devices,
		Clients:     clients,
		Accounts:    accounts,
		Connections: sessions,
		TestToken:   "test-token",
		Logger:      logger,
	})

	auth := map[string]any{"token": "admin-secret"}
	created := admins.Handle(ctx, admin.Request{Body: mustJSON(t, map[string]any{
		"action": "admin_create_client", "auth": auth, "label": "Kitchen",
	})})
	wantOK(t, "create", created)
	clientID, _ := created.Body["clientId"].(string)
	plain, _ := created.Body["secret"].(string)
	if clientID == "" || plain == "" {
		t.Fatalf("create body = %v", created.Body)
	}

	wantOK(t, "link", admins.Handle(ctx, admin.Request{Body: mustJSON(t, map[string]any{
		"action": "admin_add_user_to_client", "auth": auth, "clientId": clientID, "userId": directive.TestUserID,
	})}))

	send := func(body map[string]any) response.Response {
		return relays.Handle(ctx, relay.Request{ConnectionID: "conn-1", RouteKey: relay.RouteDefault, Body: mustJSON(t, body)})
	}

	registered := send(map[string]any{"action": "register", "clientId": clientID, "secret": plain})
	wantOK(t, "register", registered)
	if registered.Body["accepted"] != true {
		t.Fatalf("register body = %v", registered.Body)
	}

	upserted := send(map[string]any{"action": "device_upsert", "endpoint": map[string]any{"endpointId": "lamp-1", "friendlyName": "Lamp"}})
	wantOK(t, "device_upsert", upserted)
	if upserted.Body["deviceId"] != "lamp-1" {
		t.Errorf("device_upsert body = %v", upserted.Body)
	}

	wantOK(t, "state_update", send(map[string]any{"action": "state_update", "deviceId": "lamp-1", "state": map[string]any{"powerState": "ON"}}))

	req, err := alexa.ParseRequest([]byte(`{"directive":{"header":{"namespace":"Alexa.Discovery","name":"Discover","payloadVersion":"3","messageId":"d-1"},"payload":{"scope":{"type":"BearerToken","token":"test-token"}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	discovered := engine.Handle(ctx, req)
	payload, ok := discovered.Event.Payload.(alexa.DiscoveryPayload)
	if !ok || len(payload.Endpoints) != 1 || payload.Endpoints[0]["endpointId"] != "lamp-1" {
		t.Fatalf("discovery payload = %+v", discovered.Event.Payload)
	}

	req, err = alexa.ParseRequest([]byte(`{"directive":{"header":{"namespace":"Alexa","name":"ReportState","payloadVersion":"3","messageId":"r-1","correlationToken":"ct"},"endpoint":{"scope":{"type":"BearerToken","token":"test-token"},"endpointId":"lamp-1"},"payload":{}}}`))
	if err != nil {
		t.Fatal(err)
	}
	state := engine.Handle(ctx, req)
	if state.Event.Header.Name != alexa.NameStateReport || state.Context == nil {
		t.Fatalf("ReportState = %+v", state.Event)
	}
	props := state.Context.Properties
	if len(props) != 1 || props[0].Name != "powerState" || props[0].Value != "ON" {
		t.Errorf("properties = %+v", props)
	}

	wantOK(t, "delete_device", send(map[string]any{"action": "delete_device", "deviceId": "lamp-1"}))
	listed := send(map[string]any{"action": "list_devices"})
	wantOK(t, "list_devices", listed)
	if items, _ := listed.Body["devices"].([]map[string]any); len(items) != 0 {
		t.Errorf("devices = %v, want none", items)
	}
}
