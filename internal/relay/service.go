// Package relay implements the relay connection service: connection
// lifecycle, client registration and device bookkeeping for a connected
// relay client.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/ratelimit"
	"github.com/slidebolt/aws-alexa/internal/response"
	"github.com/slidebolt/aws-alexa/internal/secret"
	"github.com/slidebolt/aws-alexa/internal/session"
)

// Route keys delivered by the WebSocket transport.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// Register failures.
var (
	ErrInvalidClient  = errors.New("invalid client")
	ErrClientInactive = errors.New("client inactive")
	ErrInvalidSecret  = errors.New("invalid secret")
)

// ClientStore reads client metadata.
type ClientStore interface {
	Get(ctx context.Context, clientID string) (*client.Client, error)
}

// DeviceStore reads and writes device rows.
type DeviceStore interface {
	List(ctx context.Context, clientID string) ([]*device.Device, error)
	Upsert(ctx context.Context, clientID, endpointID string, endpoint, state map[string]any) error
	UpdateState(ctx context.Context, clientID, endpointID string, state map[string]any) error
	Delete(ctx context.Context, clientID, endpointID string) error
	SoftDelete(ctx context.Context, clientID, endpointID string, retention time.Duration) error
}

// SessionStore reads and writes connection sessions.
type SessionStore interface {
	Open(ctx context.Context, connectionID, clientID string) (*session.Session, error)
	Get(ctx context.Context, connectionID string) (*session.Session, error)
	Close(ctx context.Context, connectionID string) (*session.Session, error)
}

// RateLimiter consumes per-client quota.
type RateLimiter interface {
	Check(ctx context.Context, clientID, action string) ratelimit.Result
}

// Request is one inbound relay event.
type Request struct {
	ConnectionID string
	RouteKey     string
	Body         string
}

// message is the JSON envelope of a relay message.
type message struct {
	Action   string          `json:"action"`
	ClientID string          `json:"clientId"`
	Secret   string          `json:"secret"`
	DeviceID string          `json:"deviceId"`
	Endpoint json.RawMessage `json:"endpoint"`
	State    json.RawMessage `json:"state"`
	Soft     bool            `json:"soft"`
}

// Service handles relay events.
type Service struct {
	clients   ClientStore
	devices   DeviceStore
	sessions  SessionStore
	limiter   RateLimiter
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new Service. retention is how long soft-deleted
// devices are kept.
func NewService(clients ClientStore, devices DeviceStore, sessions SessionStore, limiter RateLimiter, retention time.Duration, logger *slog.Logger) *Service {
	return &Service{
		clients:   clients,
		devices:   devices,
		sessions:  sessions,
		limiter:   limiter,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle processes one relay event and returns the response envelope.
func (s *Service) Handle(ctx context.Context, req Request) response.Response {
	switch req.RouteKey {
	case RouteConnect:
		s.logger.InfoContext(ctx, "Relay connected", slog.String("connection_id", req.ConnectionID))
		return response.Plain(map[string]any{"connected": true})
	case RouteDisconnect:
		return s.disconnect(ctx, req.ConnectionID)
	}

	var msg message
	if strings.TrimSpace(req.Body) != "" {
		if err := json.Unmarshal([]byte(req.Body), &msg); err != nil {
			s.logger.WarnContext(ctx, "Invalid relay message body",
				slog.String("connection_id", req.ConnectionID),
				slog.String("error", err.Error()),
			)
			return response.BadRequest("Invalid JSON body")
		}
	}

	name := msg.Action
	if name == "" && req.RouteKey != RouteDefault {
		name = req.RouteKey
	}
	if name == "" {
		return response.BadRequest("Missing action")
	}
	action, ok := ParseAction(name)
	if !ok {
		s.logger.WarnContext(ctx, "Unsupported relay action",
			slog.String("connection_id", req.ConnectionID),
			slog.String("action", name),
		)
		return response.BadRequestWith("Unsupported relay action", map[string]any{"action": name})
	}

	if action == ActionRegister {
		return s.register(ctx, req.ConnectionID, msg)
	}

	sess, err := s.sessions.Get(ctx, req.ConnectionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.logger.WarnContext(ctx, "Relay message without session",
				slog.String("connection_id", req.ConnectionID),
				slog.String("action", name),
			)
			return response.Unauthorized("Unauthorized")
		}
		return s.internalError(ctx, req.ConnectionID, action, err)
	}
	if msg.ClientID != "" && msg.ClientID != sess.ClientID {
		s.logger.WarnContext(ctx, "Relay message client mismatch",
			slog.String("connection_id", req.ConnectionID),
			slog.String("action", name),
			slog.String("client_id", sess.ClientID),
			slog.String("message_client_id", msg.ClientID),
		)
		return response.Unauthorized("Unauthorized")
	}
	msg.ClientID = sess.ClientID

	if rl := s.limiter.Check(ctx, sess.ClientID, action.String()); !rl.Allowed {
		return response.TooManyRequests(name, rl.SoftLimit, rl.HardLimit)
	}

	var resp response.Response
	switch action {
	case ActionStateUpdate:
		resp, err = s.stateUpdate(ctx, msg)
	case ActionDeviceUpsert:
		resp, err = s.deviceUpsert(ctx, msg)
	case ActionListDevices:
		resp, err = s.listDevices(ctx, msg)
	case ActionDeviceDelete:
		resp, err = s.deviceDelete(ctx, msg)
	case ActionKeepalive:
		resp = response.OK(map[string]any{"type": "keepalive", "ts": s.now().UnixMilli()})
	default:
		resp = response.BadRequestWith("Unsupported relay action", map[string]any{"action": name})
	}
	if err != nil {
		return s.internalError(ctx, req.ConnectionID, action, err)
	}

	s.logger.InfoContext(ctx, "Relay action handled",
		slog.String("connection_id", req.ConnectionID),
		slog.String("client_id", sess.ClientID),
		slog.String("action", action.String()),
		slog.Int("status_code", resp.StatusCode),
	)
	return resp
}

func (s *Service) disconnect(ctx context.Context, connectionID string) response.Response {
	sess, err := s.sessions.Close(ctx, connectionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.logger.InfoContext(ctx, "Relay disconnected without session", slog.String("connection_id", connectionID))
	case err != nil:
		s.logger.ErrorContext(ctx, "Failed to close session",
			slog.String("connection_id", connectionID),
			slog.String("error", err.Error()),
		)
		return response.InternalError("Internal Server Error")
	default:
		s.logger.InfoContext(ctx, "Relay disconnected",
			slog.String("connection_id", connectionID),
			slog.String("client_id", sess.ClientID),
		)
	}
	return response.Plain(map[string]any{"disconnected": true})
}

func (s *Service) register(ctx context.Context, connectionID string, msg message) response.Response {
	if msg.ClientID == "" {
		return response.BadRequest("Missing clientId")
	}
	if msg.Secret == "" {
		return response.BadRequest("Missing secret")
	}
	if connectionID == "" {
		return response.BadRequest("Missing connectionId")
	}

	if err := s.authenticate(ctx, msg.ClientID, msg.Secret); err != nil {
		switch {
		case errors.Is(err, ErrInvalidClient):
			return s.rejectRegister(ctx, msg.ClientID, connectionID, "Invalid client")
		case errors.Is(err, ErrClientInactive):
			return s.rejectRegister(ctx, msg.ClientID, connectionID, "Client inactive")
		case errors.Is(err, ErrInvalidSecret):
			return s.rejectRegister(ctx, msg.ClientID, connectionID, "Invalid secret")
		default:
			return s.internalError(ctx, connectionID, ActionRegister, err)
		}
	}

	if _, err := s.sessions.Open(ctx, connectionID, msg.ClientID); err != nil {
		return s.internalError(ctx, connectionID, ActionRegister, err)
	}

	s.logger.InfoContext(ctx, "Register accepted",
		slog.String("client_id", msg.ClientID),
		slog.String("connection_id", connectionID),
	)
	return response.OK(map[string]any{
		"action":       "register",
		"accepted":     true,
		"connectionId": connectionID,
		"clientId":     msg.ClientID,
	})
}

// authenticate checks a client's credentials.
func (s *Service) authenticate(ctx context.Context, clientID, clientSecret string) error {
	c, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			return ErrInvalidClient
		}
		return err
	}
	if !c.Active {
		return ErrClientInactive
	}
	if !secret.Matches(clientSecret, c.SecretHash) {
		return ErrInvalidSecret
	}
	return nil
}

func (s *Service) rejectRegister(ctx context.Context, clientID, connectionID, reason string) response.Response {
	s.logger.WarnContext(ctx, "Register rejected",
		slog.String("client_id", clientID),
		slog.String("connection_id", connectionID),
		slog.String("reason", reason),
	)
	return response.Unauthorized(reason)
}

func (s *Service) stateUpdate(ctx context.Context, msg message) (response.Response, error) {
	if msg.DeviceID == "" {
		return response.BadRequest("Missing deviceId"), nil
	}
	state, ok := decodeObject(msg.State)
	if !ok {
		return response.BadRequest("Missing or invalid state"), nil
	}

	if err := s.devices.UpdateState(ctx, msg.ClientID, msg.DeviceID, state); err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   "state_update",
		"accepted": true,
		"deviceId": msg.DeviceID,
	}), nil
}

func (s *Service) deviceUpsert(ctx context.Context, msg message) (response.Response, error) {
	endpoint, ok := decodeObject(msg.Endpoint)
	if !ok {
		return response.BadRequest("Missing or invalid endpoint"), nil
	}
	endpointID, _ := endpoint["endpointId"].(string)
	if endpointID == "" {
		return response.BadRequest("Missing endpoint.endpointId"), nil
	}

	var state map[string]any
	if len(msg.State) > 0 && string(msg.State) != "null" {
		state, ok = decodeObject(msg.State)
		if !ok {
			return response.BadRequest("Missing or invalid state"), nil
		}
	}

	if err := s.devices.Upsert(ctx, msg.ClientID, endpointID, endpoint, state); err != nil {
		return response.Response{}, err
	}
	return response.OK(map[string]any{
		"action":   "device_upsert",
		"accepted": true,
		"deviceId": endpointID,
	}), nil
}

func (s *Service) listDevices(ctx context.Context, msg message) (response.Response, error) {
	devices, err := s.devices.List(ctx, msg.ClientID)
	if err != nil {
		return response.Response{}, err
	}

	items := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		item := d.Descriptor()
		item["state"] = nullable(d.State)
		item["status"] = nullableString(d.Status)
		item["updatedAt"] = nullableString(d.UpdatedAt)
		items = append(items, item)
	}
	return response.OK(map[string]any{"devices": items}), nil
}

func (s *Service) deviceDelete(ctx context.Context, msg message) (response.Response, error) {
	if msg.DeviceID == "" {
		return response.BadRequest("Missing deviceId"), nil
	}

	if msg.Soft {
		err := s.devices.SoftDelete(ctx, msg.ClientID, msg.DeviceID, s.retention)
		if errors.Is(err, device.ErrDeviceNotFound) {
			return response.BadRequest("Unknown device"), nil
		}
		if err != nil {
			return response.Response{}, err
		}
	} else if err := s.devices.Delete(ctx, msg.ClientID, msg.DeviceID); err != nil {
		return response.Response{}, err
	}

	return response.OK(map[string]any{"status": "deleted", "deviceId": msg.DeviceID}), nil
}

func (s *Service) internalError(ctx context.Context, connectionID string, action Action, err error) response.Response {
	s.logger.ErrorContext(ctx, "Relay action failed",
		slog.String("connection_id", connectionID),
		slog.String("action", action.String()),
		slog.String("error", err.Error()),
	)
	return response.InternalError("Internal Server Error")
}

// decodeObject decodes raw as a JSON object.
func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func nullable(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
