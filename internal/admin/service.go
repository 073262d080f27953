// Package admin implements the shared-secret admin service over client
// credentials and user links.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/response"
	"github.com/slidebolt/aws-alexa/internal/secret"
)

// ClientStore manages client metadata.
type ClientStore interface {
	Create(ctx context.Context, c *client.Client) error
	List(ctx context.Context) ([]*client.Client, error)
	Update(ctx context.Context, clientID string, patch client.Patch) (*client.Client, error)
	Revoke(ctx context.Context, clientID string) (*client.Client, error)
	Delete(ctx context.Context, clientID string) error
	ClaimOwner(ctx context.Context, clientID, userID string) error
	ReleaseOwner(ctx context.Context, clientID, userID string) (bool, error)
}

// AccountStore manages user to client mappings.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*account.Account, error)
	Link(ctx context.Context, userID, clientID, email string) error
	Delete(ctx context.Context, userID string) error
	DeleteForClient(ctx context.Context, userID, clientID string) error
	ListByClient(ctx context.Context, clientID string) ([]*account.Account, error)
}

// Request is one inbound admin event.
type Request struct {
	ConnectionID string
	RouteKey     string
	Body         string
}

type message struct {
	Action string `json:"action"`
	Auth   struct {
		Token string `json:"token"`
	} `json:"auth"`
	ClientID string  `json:"clientId"`
	UserID   string  `json:"userId"`
	Label    *string `json:"label"`
	Active   *bool   `json:"active"`
	Email    *string `json:"email"`
}

// Service handles admin events.
type Service struct {
	clients     ClientStore
	accounts    AccountStore
	adminSecret string
	logger      *slog.Logger
	newSecret   func() (string, error)
}

// NewService creates a new Service. An empty adminSecret rejects every call.
func NewService(clients ClientStore, accounts AccountStore, adminSecret string, logger *slog.Logger) *Service {
	return &Service{
		clients:     clients,
		accounts:    accounts,
		adminSecret: adminSecret,
		logger:      logger,
		newSecret:   secret.NewClientSecret,
	}
}

// Handle processes one admin event and returns the response envelope.
func (s *Service) Handle(ctx context.Context, req Request) response.Response {
	var msg message
	if strings.TrimSpace(req.Body) != "" {
		if err := json.Unmarshal([]byte(req.Body), &msg); err != nil {
			return response.BadRequest("Invalid JSON body")
		}
	}

	name := msg.Action
	if name == "" && !strings.HasPrefix(req.RouteKey, "$") {
		name = req.RouteKey
	}
	if name == "" {
		return response.BadRequest("Missing action")
	}

	if s.adminSecret == "" {
		s.logger.ErrorContext(ctx, "Admin secret not configured", slog.String("action", name))
		return response.Unauthorized("Admin secret not configured")
	}
	if msg.Auth.Token == "" || !secret.Equal(msg.Auth.Token, s.adminSecret) {
		s.logger.WarnContext(ctx, "Admin authentication failed",
			slog.String("action", name),
			slog.String("connection_id", req.ConnectionID),
		)
		return response.Unauthorized("Unauthorized")
	}

	action, ok := ParseAction(name)
	if !ok {
		return response.BadRequestWith("Unsupported admin action", map[string]any{"action": name})
	}

	var (
		resp response.Response
		err  error
	)
	switch action {
	case ActionCreateClient:
		resp, err = s.createClient(ctx, msg)
	case ActionListClients:
		resp, err = s.listClients(ctx)
	case ActionUpdateClient:
		resp, err = s.updateClient(ctx, msg)
	case ActionRevokeClient:
		resp, err = s.revokeClient(ctx, msg)
	case ActionDeleteClient:
		resp, err = s.deleteClient(ctx, msg)
	case ActionAddUserToClient:
		resp, err = s.addUser(ctx, msg)
	case ActionRemoveUserFromClient:
		resp, err = s.removeUser(ctx, msg)
	case ActionListClientUsers:
		resp, err = s.listUsers(ctx, msg)
	default:
		resp = response.BadRequestWith("Unsupported admin action", map[string]any{"action": name})
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Admin action failed",
			slog.String("action", name),
			slog.String("client_id", msg.ClientID),
			slog.String("error", err.Error()),
		)
		return response.InternalError("Internal Server Error")
	}

	s.logger.InfoContext(ctx, "Admin action handled",
		slog.String("action", name),
		slog.String("client_id", msg.ClientID),
		slog.Int("status_code", resp.StatusCode),
	)
	return resp
}

func (s *Service) createClient(ctx context.Context, msg message) (response.Response, error) {
	if msg.Label == nil || *msg.Label == "" {
		return response.BadRequest("Missing label"), nil
	}

	plain, err := s.newSecret()
	if err != nil {
		return response.Response{}, err
	}
	c := &client.Client{
		ClientID:   secret.NewClientID(),
		Label:      *msg.Label,
		Active:     true,
		SecretHash: secret.Hash(plain),
	}
	if msg.Email != nil {
		c.Email = *msg.Email
	}
	if err := s.clients.Create(ctx, c); err != nil {
		return response.Response{}, err
	}

	fields := map[string]any{
		"action":    ActionCreateClient.String(),
		"clientId":  c.ClientID,
		"secret":    plain,
		"label":     c.Label,
		"active":    c.Active,
		"createdAt": c.CreatedAt,
	}
	if c.Email != "" {
		fields["email"] = c.Email
	}
	return response.OK(fields), nil
}

func (s *Service) listClients(ctx context.Context) (response.Response, error) {
	clients, err := s.clients.List(ctx)
	if err != nil {
		return response.Response{}, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		items = append(items, clientView(c))
	}
	return response.OK(map[string]any{"action": ActionListClients.String(), "items": items}), nil
}

func (s *Service) updateClient(ctx context.Context, msg message) (response.Response, error) {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId"), nil
	}
	patch := client.Patch{Active: msg.Active, Email: msg.Email}
	if msg.Label != nil && *msg.Label != "" {
		patch.Label = msg.Label
	}

	c, err := s.clients.Update(ctx, msg.ClientID, patch)
	if errors.Is(err, client.ErrClientNotFound) {
		return response.BadRequest("Unknown client"), nil
	}
	if err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   ActionUpdateClient.String(),
		"accepted": true,
		"clientId": msg.ClientID,
		"client":   clientView(c),
	}), nil
}

func (s *Service) revokeClient(ctx context.Context, msg message) (response.Response, error) {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId"), nil
	}
	_, err := s.clients.Revoke(ctx, msg.ClientID)
	if errors.Is(err, client.ErrClientNotFound) {
		return response.BadRequest("Unknown client"), nil
	}
	if err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   ActionRevokeClient.String(),
		"accepted": true,
		"clientId": msg.ClientID,
	}), nil
}

func (s *Service) deleteClient(ctx context.Context, msg message) (response.Response, error) {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId"), nil
	}
	if err := s.clients.Delete(ctx, msg.ClientID); err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   ActionDeleteClient.String(),
		"accepted": true,
		"clientId": msg.ClientID,
	}), nil
}

func (s *Service) addUser(ctx context.Context, msg message) (response.Response, error) {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId"), nil
	}
	if msg.UserID == "" {
		return response.BadRequest("Missing userId"), nil
	}

	err := s.clients.ClaimOwner(ctx, msg.ClientID, msg.UserID)
	switch {
	case errors.Is(err, client.ErrClientNotFound):
		return response.BadRequest("Unknown client"), nil
	case errors.Is(err, client.ErrAlreadyClaimed):
		return response.BadRequest("Client already claimed"), nil
	case err != nil:
		return response.Response{}, err
	}

	email := ""
	if msg.Email != nil {
		email = client.NormalizeEmail(*msg.Email)
	}
	if err := s.accounts.Link(ctx, msg.UserID, msg.ClientID, email); err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   ActionAddUserToClient.String(),
		"accepted": true,
		"clientId": msg.ClientID,
		"userId":   msg.UserID,
	}), nil
}

func (s *Service) removeUser(ctx context.Context, msg message) (response.Response, error) {
	if msg.UserID == "" {
		return response.BadRequest("Missing userId"), nil
	}

	clientID := msg.ClientID
	acct, err := s.accounts.Get(ctx, msg.UserID)
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
	case err != nil:
		return response.Response{}, err
	case clientID == "":
		clientID = acct.ClientID
		if err := s.accounts.Delete(ctx, msg.UserID); err != nil {
			return response.Response{}, err
		}
	default:
		err := s.accounts.DeleteForClient(ctx, msg.UserID, clientID)
		if errors.Is(err, account.ErrAccountNotFound) {
			return response.NotFound("User is not mapped to this client"), nil
		}
		if err != nil {
			return response.Response{}, err
		}
	}

	released := false
	if clientID != "" {
		released, err = s.clients.ReleaseOwner(ctx, clientID, msg.UserID)
		if err != nil {
			return response.Response{}, err
		}
	}
	return response.OK(map[string]any{
		"action":   ActionRemoveUserFromClient.String(),
		"accepted": true,
		"userId":   msg.UserID,
		"released": released,
	}), nil
}

func (s *Service) listUsers(ctx context.Context, msg message) (response.Response, error) {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId"), nil
	}
	accounts, err := s.accounts.ListByClient(ctx, msg.ClientID)
	if err != nil {
		return response.Response{}, err
	}
	items := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, map[string]any{
			"userId":   a.UserID,
			"email":    a.Email,
			"mappedAt": a.MappedAt,
		})
	}
	return response.OK(map[string]any{
		"action":   ActionListClientUsers.String(),
		"clientId": msg.ClientID,
		"items":    items,
	}), nil
}

// clientView is the admin projection of a client; the secret hash is never exposed.
func clientView(c *client.Client) map[string]any {
	view := map[string]any{
		"clientId":  c.ClientID,
		"label":     c.Label,
		"active":    c.Active,
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
	if c.Email != "" {
		view["email"] = c.Email
	}
	if c.OwnerUserID != "" {
		view["ownerUserId"] = c.OwnerUserID
	}
	return view
}
