package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/secret"
)

const adminToken = "admin-token"

type fixture struct {
	clients  *client.Repository
	accounts *account.Repository
	service  *Service
}

func newFixture(t *testing.T, adminSecret string) *fixture {
	t.Helper()
	store := keyspace.NewMemoryStore()
	f := &fixture{
		clients:  client.NewRepository(store),
		accounts: account.NewRepository(store),
	}
	f.service = NewService(f.clients, f.accounts, adminSecret, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return f
}

func (f *fixture) call(t *testing.T, body string) (int, map[string]any) {
	t.Helper()
	resp := f.service.Handle(context.Background(), Request{ConnectionID: "admin-conn", RouteKey: "$default", Body: body})
	return resp.StatusCode, resp.Body
}

func (f *fixture) create(t *testing.T, label string) string {
	t.Helper()
	status, body := f.call(t, `{"action":"admin_create_client","auth":{"token":"admin-token"},"label":"`+label+`"}`)
	if status != http.StatusOK {
		t.Fatalf("create status = %d, body = %v", status, body)
	}
	return body["clientId"].(string)
}

func TestParseAction(t *testing.T) {
	for a, name := range actionNames {
		got, ok := ParseAction(name)
		if !ok || got != a {
			t.Errorf("ParseAction(%q) = %v, %v, want %v", name, got, ok, a)
		}
	}
	if _, ok := ParseAction("admin_format_disk"); ok {
		t.Error("ParseAction accepted an unknown action")
	}
}

func TestHandle_Auth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		body   string
		msg    string
	}{
		{"unconfigured", "", `{"action":"admin_list_clients","auth":{"token":"anything"}}`, "Admin secret not configured"},
		{"missing token", adminToken, `{"action":"admin_list_clients"}`, "Unauthorized"},
		{"wrong token", adminToken, `{"action":"admin_list_clients","auth":{"token":"nope"}}`, "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.secret)
			status, body := f.call(t, tt.body)
			if status != http.StatusForbidden {
				t.Errorf("status = %d, want 403", status)
			}
			if body["error"] != tt.msg {
				t.Errorf("error = %v, want %q", body["error"], tt.msg)
			}
		})
	}
}

func TestHandle_UnknownAction(t *testing.T) {
	f := newFixture(t, adminToken)
	status, body := f.call(t, `{"action":"admin_format_disk","auth":{"token":"admin-token"}}`)
	if status != http.StatusBadRequest || body["action"] != "admin_format_disk" {
		t.Errorf("got %d %v, want 400 with action echoed", status, body)
	}
}

// Test: the plaintext secret is returned once and only its digest is stored.
func TestHandle_CreateClient(t *testing.T) {
	f := newFixture(t, adminToken)
	f.service.newSecret = func() (string, error) { return "fixed-secret", nil }

	status, body := f.call(t, `{"action":"admin_create_client","auth":{"token":"admin-token"},"label":"Kitchen","email":"Owner@Example.com"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["secret"] != "fixed-secret" || body["label"] != "Kitchen" || body["active"] != true {
		t.Errorf("body = %v", body)
	}

	c, err := f.clients.Get(context.Background(), body["clientId"].(string))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.SecretHash != secret.Hash("fixed-secret") {
		t.Errorf("SecretHash = %q, want digest of the secret", c.SecretHash)
	}
	if c.Email != "owner@example.com" {
		t.Errorf("Email = %q, want normalised", c.Email)
	}
}

func TestHandle_CreateClient_MissingLabel(t *testing.T) {
	f := newFixture(t, adminToken)
	status, body := f.call(t, `{"action":"admin_create_client","auth":{"token":"admin-token"}}`)
	if status != http.StatusBadRequest || body["error"] != "Missing label" {
		t.Errorf("got %d %v", status, body)
	}
}

func TestHandle_CreateClient_SecretFailure(t *testing.T) {
	f := newFixture(t, adminToken)
	f.service.newSecret = func() (string, error) { return "", errors.New("entropy exhausted") }
	status, body := f.call(t, `{"action":"admin_create_client","auth":{"token":"admin-token"},"label":"x"}`)
	if status != http.StatusInternalServerError || body["error"] != "Internal Server Error" {
		t.Errorf("got %d %v", status, body)
	}
}

func TestHandle_ListClients(t *testing.T) {
	f := newFixture(t, adminToken)
	f.create(t, "First")
	f.create(t, "Second")

	status, body := f.call(t, `{"action":"admin_list_clients","auth":{"token":"admin-token"}}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	items := body["items"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for _, item := range items {
		if _, ok := item["secretHash"]; ok {
			t.Error("list exposes secretHash")
		}
	}
}

func TestHandle_UpdateRevokeDelete(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()
	id := f.create(t, "Kitchen")

	status, body := f.call(t, `{"action":"admin_update_client","auth":{"token":"admin-token"},"clientId":"`+id+`","label":"Garage","active":false,"secretHash":"evil"}`)
	if status != http.StatusOK || body["accepted"] != true {
		t.Fatalf("update = %d %v", status, body)
	}
	c, _ := f.clients.Get(ctx, id)
	if c.Label != "Garage" || c.Active {
		t.Errorf("client = %+v, want Garage inactive", c)
	}
	if c.SecretHash == "evil" {
		t.Error("update patched a non-whitelisted field")
	}

	_, _ = f.call(t, `{"action":"admin_update_client","auth":{"token":"admin-token"},"clientId":"`+id+`","active":true}`)
	status, _ = f.call(t, `{"action":"admin_revoke_client","auth":{"token":"admin-token"},"clientId":"`+id+`"}`)
	if status != http.StatusOK {
		t.Fatalf("revoke status = %d", status)
	}
	c, _ = f.clients.Get(ctx, id)
	if c.Active {
		t.Error("Active = true after revoke")
	}

	status, _ = f.call(t, `{"action":"admin_delete_client","auth":{"token":"admin-token"},"clientId":"`+id+`"}`)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if _, err := f.clients.Get(ctx, id); !errors.Is(err, client.ErrClientNotFound) {
		t.Errorf("client still present: %v", err)
	}
}

func TestHandle_UnknownClient(t *testing.T) {
	f := newFixture(t, adminToken)
	for _, action := range []string{"admin_update_client", "admin_revoke_client"} {
		status, body := f.call(t, `{"action":"`+action+`","auth":{"token":"admin-token"},"clientId":"ghost","label":"x"}`)
		if status != http.StatusBadRequest || body["error"] != "Unknown client" {
			t.Errorf("%s = %d %v, want 400 Unknown client", action, status, body)
		}
	}
}

func TestHandle_UserLinks(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()
	id := f.create(t, "Kitchen")

	status, body := f.call(t, `{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"clientId":"`+id+`","userId":"u1"}`)
	if status != http.StatusOK {
		t.Fatalf("add = %d %v", status, body)
	}
	c, _ := f.clients.Get(ctx, id)
	if c.OwnerUserID != "u1" {
		t.Errorf("OwnerUserID = %q, want u1", c.OwnerUserID)
	}

	status, body = f.call(t, `{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"clientId":"`+id+`","userId":"u2"}`)
	if status != http.StatusBadRequest || body["error"] != "Client already claimed" {
		t.Errorf("second add = %d %v", status, body)
	}

	status, body = f.call(t, `{"action":"admin_list_client_users","auth":{"token":"admin-token"},"clientId":"`+id+`"}`)
	if status != http.StatusOK {
		t.Fatalf("list users = %d", status)
	}
	if items := body["items"].([]map[string]any); len(items) != 1 || items[0]["userId"] != "u1" {
		t.Errorf("items = %v, want [u1]", body["items"])
	}

	status, body = f.call(t, `{"action":"admin_remove_user_from_client","auth":{"token":"admin-token"},"userId":"u1"}`)
	if status != http.StatusOK || body["released"] != true {
		t.Fatalf("remove = %d %v", status, body)
	}
	if _, err := f.accounts.Get(ctx, "u1"); !errors.Is(err, account.ErrAccountNotFound) {
		t.Errorf("account still present: %v", err)
	}
	c, _ = f.clients.Get(ctx, id)
	if c.OwnerUserID != "" {
		t.Errorf("OwnerUserID = %q after remove, want empty", c.OwnerUserID)
	}
}

func TestHandle_RemoveUserChecksClient(t *testing.T) {
	f := newFixture(t, adminToken)
	ctx := context.Background()
	kitchen := f.create(t, "Kitchen")
	garage := f.create(t, "Garage")

	status, body := f.call(t, `{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"clientId":"`+kitchen+`","userId":"u1"}`)
	if status != http.StatusOK {
		t.Fatalf("add = %d %v", status, body)
	}

	status, body = f.call(t, `{"action":"admin_remove_user_from_client","auth":{"token":"admin-token"},"clientId":"`+garage+`","userId":"u1"}`)
	if status != http.StatusNotFound || body["ok"] != false {
		t.Errorf("remove with other client = %d %v, want 404", status, body)
	}
	acct, err := f.accounts.Get(ctx, "u1")
	if err != nil || acct.ClientID != kitchen {
		t.Errorf("mapping after mismatched remove = %+v, %v; want kept", acct, err)
	}
	c, _ := f.clients.Get(ctx, kitchen)
	if c.OwnerUserID != "u1" {
		t.Errorf("OwnerUserID = %q, want u1", c.OwnerUserID)
	}

	status, body = f.call(t, `{"action":"admin_remove_user_from_client","auth":{"token":"admin-token"},"clientId":"`+kitchen+`","userId":"u1"}`)
	if status != http.StatusOK || body["released"] != true {
		t.Fatalf("remove with mapped client = %d %v", status, body)
	}
	if _, err := f.accounts.Get(ctx, "u1"); !errors.Is(err, account.ErrAccountNotFound) {
		t.Errorf("account still present: %v", err)
	}
}

func TestHandle_UserLinkValidation(t *testing.T) {
	f := newFixture(t, adminToken)
	tests := []struct {
		body string
		msg  string
	}{
		{`{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"userId":"u1"}`, "Missing clientId"},
		{`{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"clientId":"c1"}`, "Missing userId"},
		{`{"action":"admin_add_user_to_client","auth":{"token":"admin-token"},"clientId":"ghost","userId":"u1"}`, "Unknown client"},
		{`{"action":"admin_remove_user_from_client","auth":{"token":"admin-token"}}`, "Missing userId"},
		{`{"action":"admin_list_client_users","auth":{"token":"admin-token"}}`, "Missing clientId"},
	}
	for _, tt := range tests {
		status, body := f.call(t, tt.body)
		if status != http.StatusBadRequest || body["error"] != tt.msg {
			t.Errorf("%s = %d %v, want 400 %q", tt.body, status, body, tt.msg)
		}
	}
}
