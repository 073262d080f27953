// Package directive implements the Smart Home directive engine: account
// resolution, discovery, state reports and optimistic device control.
package directive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/alexa"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/oauth"
	"github.com/slidebolt/aws-alexa/internal/session"
)

// TestUserID is the user a TEST_ALEXA_TOKEN bearer resolves to.
const TestUserID = "test-user-id"

// Uncertainty of properties echoed before the device confirms.
const optimisticUncertaintyMs = 200

// Uncertainty of properties read back from stored state.
const storedUncertaintyMs = 1000

// DeviceStore reads device rows.
type DeviceStore interface {
	Get(ctx context.Context, clientID, endpointID string) (*device.Device, error)
	List(ctx context.Context, clientID string) ([]*device.Device, error)
}

// ClientStore finds and claims clients for auto-linking.
type ClientStore interface {
	FindByEmail(ctx context.Context, email string) ([]*client.Client, error)
	ClaimOwner(ctx context.Context, clientID, userID string) error
}

// AccountStore reads and writes user mappings.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*account.Account, error)
	Link(ctx context.Context, userID, clientID, email string) error
	StoreTokens(ctx context.Context, userID string, tokens account.Tokens) error
}

// ConnectionStore resolves a client's live relay connection.
type ConnectionStore interface {
	ConnectionFor(ctx context.Context, clientID string) (string, error)
}

// Pusher delivers data to a relay connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, data []byte) error
}

// ProfileResolver resolves a bearer token to a user profile.
type ProfileResolver interface {
	Profile(ctx context.Context, accessToken string) (*oauth.Profile, error)
}

// TokenExchanger trades an authorization code for event gateway tokens.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (account.Tokens, error)
}

// Dependencies are the collaborators of an Engine. Pusher may be nil, in
// which case control directives are answered without forwarding.
type Dependencies struct {
	Devices     DeviceStore
	Clients     ClientStore
	Accounts    AccountStore
	Connections ConnectionStore
	Pusher      Pusher
	Profiles    ProfileResolver
	Tokens      TokenExchanger
	Dedup       *DedupCache
	TestToken   string
	Logger      *slog.Logger
}

// Engine answers Smart Home directives.
type Engine struct {
	deps Dependencies
	now  func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{deps: deps, now: time.Now}
}

// pushMessage is what a relay client receives for a control directive.
type pushMessage struct {
	Type      string          `json:"type"`
	Directive json.RawMessage `json:"directive"`
}

// Handle answers one directive. Failures are reported as ErrorResponse events;
// Handle itself never fails.
func (e *Engine) Handle(ctx context.Context, req *alexa.Request) *alexa.Response {
	if req == nil || req.Directive == nil {
		return alexa.NewErrorResponse(alexa.Header{MessageID: "missing"}, nil, alexa.ErrorInvalidDirective, "Missing directive")
	}
	d := req.Directive
	h := d.Header
	if h.Namespace == "" || h.Name == "" {
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidDirective, "Missing directive header")
	}

	log := e.deps.Logger.With(
		slog.String("namespace", h.Namespace),
		slog.String("name", h.Name),
		slog.String("message_id", h.MessageID),
	)

	token := d.BearerToken()
	if token == "" {
		log.WarnContext(ctx, "Directive without bearer token")
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidAuthorizationCredential, "Missing token")
	}

	var clientID string
	if cookie := d.CookieClientID(); cookie != "" && h.Namespace != alexa.NamespaceDiscovery && h.Namespace != alexa.NamespaceAuthorization {
		clientID = cookie
		log.InfoContext(ctx, "Directive authorized by cookie", slog.String("client_id", clientID))
	} else {
		userID, email, err := e.resolveUser(ctx, token)
		if err != nil {
			log.WarnContext(ctx, "Bearer token rejected", slog.String("error", err.Error()))
			return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidAuthorizationCredential, "Invalid token")
		}
		log = log.With(slog.String("user_id", userID))

		if h.Namespace == alexa.NamespaceAuthorization && h.Name == alexa.NameAcceptGrant {
			return e.acceptGrant(ctx, log, userID, d)
		}

		var failure *alexa.Response
		clientID, failure, err = e.resolveClient(ctx, log, userID, email, h)
		if err != nil {
			return e.internalError(ctx, log, d, err)
		}
		if failure != nil {
			return failure
		}
	}
	log = log.With(slog.String("client_id", clientID))

	dedupKey := ""
	if d.IsController() && d.EndpointID() != "" {
		dedupKey = DedupKey(clientID, d.EndpointID(), h.Namespace, h.Name)
		if e.deps.Dedup.Seen(dedupKey) {
			log.InfoContext(ctx, "Directive deduplicated", slog.String("endpoint_id", d.EndpointID()))
			return e.optimistic(d)
		}
	}

	resp, err := e.dispatch(ctx, log, d, clientID)
	if err != nil {
		return e.internalError(ctx, log, d, err)
	}
	if _, failed := resp.Failure(); dedupKey != "" && !failed {
		e.deps.Dedup.Record(dedupKey)
	}
	return resp
}

// resolveUser maps a bearer token to a user ID and email.
func (e *Engine) resolveUser(ctx context.Context, token string) (string, string, error) {
	if e.deps.TestToken != "" && token == e.deps.TestToken {
		return TestUserID, "", nil
	}
	profile, err := e.deps.Profiles.Profile(ctx, token)
	if err != nil {
		return "", "", err
	}
	return profile.UserID, profile.Email, nil
}

// resolveClient returns the client mapped to userID, auto-claiming one by
// email on first use. A non-nil response is a protocol failure to return as is.
func (e *Engine) resolveClient(ctx context.Context, log *slog.Logger, userID, email string, h alexa.Header) (string, *alexa.Response, error) {
	acct, err := e.deps.Accounts.Get(ctx, userID)
	switch {
	case err == nil && acct.ClientID != "":
		return acct.ClientID, nil, nil
	case err != nil && !errors.Is(err, account.ErrAccountNotFound):
		return "", nil, err
	}

	if email != "" {
		clientID, err := e.autoClaim(ctx, log, userID, email)
		if errors.Is(err, client.ErrAlreadyClaimed) {
			return "", alexa.NewErrorResponse(h, nil, alexa.ErrorAcceptGrantFailed, "Device group already claimed."), nil
		}
		if err != nil {
			return "", nil, err
		}
		if clientID != "" {
			return clientID, nil, nil
		}
	}

	log.WarnContext(ctx, "User has no client mapping")
	return "", alexa.NewErrorResponse(h, nil, alexa.ErrorAcceptGrantFailed, "No device group assigned to this account."), nil
}

// autoClaim binds userID to the client registered for email. It returns an
// empty client ID when no client carries the email.
func (e *Engine) autoClaim(ctx context.Context, log *slog.Logger, userID, email string) (string, error) {
	candidates, err := e.deps.Clients.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	clientID := candidates[0].ClientID

	err = e.deps.Clients.ClaimOwner(ctx, clientID, userID)
	switch {
	case errors.Is(err, client.ErrClientNotFound):
		return "", nil
	case errors.Is(err, client.ErrAlreadyClaimed):
		log.WarnContext(ctx, "Auto-claim lost", slog.String("client_id", clientID))
		return "", err
	case err != nil:
		return "", err
	}

	if err := e.deps.Accounts.Link(ctx, userID, clientID, client.NormalizeEmail(email)); err != nil {
		return "", err
	}
	log.InfoContext(ctx, "Auto-claim succeeded", slog.String("client_id", clientID))
	return clientID, nil
}

func (e *Engine) dispatch(ctx context.Context, log *slog.Logger, d *alexa.Directive, clientID string) (*alexa.Response, error) {
	h := d.Header
	switch {
	case h.Namespace == alexa.NamespaceDiscovery && h.Name == alexa.NameDiscover:
		return e.discover(ctx, log, d, clientID)
	case h.Namespace == alexa.NamespaceAlexa && h.Name == alexa.NameReportState:
		return e.reportState(ctx, log, d, clientID)
	case d.IsController():
		return e.control(ctx, log, d, clientID)
	default:
		log.WarnContext(ctx, "Unsupported directive")
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidDirective, "Unsupported directive: "+h.Namespace+"."+h.Name), nil
	}
}

func (e *Engine) discover(ctx context.Context, log *slog.Logger, d *alexa.Directive, clientID string) (*alexa.Response, error) {
	devices, err := e.deps.Devices.List(ctx, clientID)
	if err != nil {
		return nil, err
	}

	endpoints := make([]map[string]any, 0, len(devices))
	for _, dev := range devices {
		if len(dev.Endpoint) == 0 {
			continue
		}
		ep := dev.Descriptor()
		cookie := map[string]any{}
		if existing, ok := ep["cookie"].(map[string]any); ok {
			for k, v := range existing {
				cookie[k] = v
			}
		}
		cookie["clientId"] = clientID
		ep["cookie"] = cookie
		endpoints = append(endpoints, ep)
	}

	log.InfoContext(ctx, "Discovery answered", slog.Int("endpoint_count", len(endpoints)))
	return alexa.NewEvent(alexa.NamespaceDiscovery, alexa.NameDiscoverResponse, d.Header.MessageID, "", nil,
		alexa.DiscoveryPayload{Endpoints: endpoints}), nil
}

func (e *Engine) reportState(ctx context.Context, log *slog.Logger, d *alexa.Directive, clientID string) (*alexa.Response, error) {
	h := d.Header
	endpointID := d.EndpointID()
	if endpointID == "" {
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidDirective, "Missing endpointId"), nil
	}

	dev, err := e.liveDevice(ctx, clientID, endpointID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		log.WarnContext(ctx, "State report for unknown device", slog.String("endpoint_id", endpointID))
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorNoSuchEndpoint, "Device not found"), nil
	}
	if err != nil {
		return nil, err
	}

	sampledAt := dynamo.FormatTime(e.now())
	props := alexa.StateProperties(dev.State, sampledAt, storedUncertaintyMs)
	if len(props) == 0 {
		props = []alexa.Property{alexa.DefaultPowerState(sampledAt)}
	}

	endpoint := &alexa.Endpoint{EndpointID: endpointID}
	if d.Endpoint != nil {
		endpoint.Cookie = d.Endpoint.Cookie
	}
	return alexa.NewEvent(alexa.NamespaceAlexa, alexa.NameStateReport, h.MessageID, h.CorrelationToken, endpoint, nil).
		WithProperties(props), nil
}

func (e *Engine) control(ctx context.Context, log *slog.Logger, d *alexa.Directive, clientID string) (*alexa.Response, error) {
	h := d.Header
	endpointID := d.EndpointID()
	if endpointID == "" {
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorInvalidDirective, "Missing endpointId"), nil
	}

	_, err := e.liveDevice(ctx, clientID, endpointID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		log.WarnContext(ctx, "Control directive for unknown device", slog.String("endpoint_id", endpointID))
		return alexa.NewErrorResponse(h, d.Endpoint, alexa.ErrorNoSuchEndpoint, "Device not found"), nil
	}
	if err != nil {
		return nil, err
	}

	e.forward(ctx, log, d, clientID)
	return e.optimistic(d), nil
}

// liveDevice returns the device unless it is missing or soft-deleted.
func (e *Engine) liveDevice(ctx context.Context, clientID, endpointID string) (*device.Device, error) {
	dev, err := e.deps.Devices.Get(ctx, clientID, endpointID)
	if err != nil {
		return nil, err
	}
	if dev.Deleted() {
		return nil, device.ErrDeviceNotFound
	}
	return dev, nil
}

// forward pushes the raw directive to the client's relay connection. Delivery
// problems are logged only.
func (e *Engine) forward(ctx context.Context, log *slog.Logger, d *alexa.Directive, clientID string) {
	if e.deps.Pusher == nil {
		log.WarnContext(ctx, "Directive not forwarded: push endpoint not configured")
		return
	}

	connectionID, err := e.deps.Connections.ConnectionFor(ctx, clientID)
	if err != nil {
		if errors.Is(err, session.ErrNoConnection) {
			log.WarnContext(ctx, "Directive not forwarded: client has no live connection")
		} else {
			log.ErrorContext(ctx, "Failed to look up client connection", slog.String("error", err.Error()))
		}
		return
	}

	raw, err := d.Raw()
	if err != nil {
		log.ErrorContext(ctx, "Failed to encode directive", slog.String("error", err.Error()))
		return
	}
	data, err := json.Marshal(pushMessage{Type: "alexaDirective", Directive: raw})
	if err != nil {
		log.ErrorContext(ctx, "Failed to encode push message", slog.String("error", err.Error()))
		return
	}

	if err := e.deps.Pusher.Push(ctx, connectionID, data); err != nil {
		log.WarnContext(ctx, "Directive push failed",
			slog.String("connection_id", connectionID),
			slog.String("error", err.Error()),
		)
		return
	}
	log.InfoContext(ctx, "Directive forwarded", slog.String("connection_id", connectionID))
}

// optimistic answers a control directive with the state it asks for.
func (e *Engine) optimistic(d *alexa.Directive) *alexa.Response {
	h := d.Header
	sampledAt := dynamo.FormatTime(e.now())

	var props []alexa.Property
	add := func(name string, value any) {
		props = append(props, alexa.NewProperty(h.Namespace, name, value, sampledAt, optimisticUncertaintyMs))
	}
	switch {
	case h.Namespace == alexa.NamespacePowerController && h.Name == alexa.NameTurnOn:
		add("powerState", "ON")
	case h.Namespace == alexa.NamespacePowerController && h.Name == alexa.NameTurnOff:
		add("powerState", "OFF")
	case h.Namespace == alexa.NamespaceBrightnessController && h.Name == alexa.NameSetBrightness:
		add("brightness", d.PayloadField("brightness"))
	case h.Namespace == alexa.NamespaceColorController && h.Name == alexa.NameSetColor:
		add("color", d.PayloadField("color"))
	case h.Namespace == alexa.NamespaceColorTempController && h.Name == alexa.NameSetColorTemperature:
		add("colorTemperatureInKelvin", d.PayloadField("colorTemperatureInKelvin"))
	}

	return alexa.NewEvent(alexa.NamespaceAlexa, alexa.NameResponse, h.MessageID, h.CorrelationToken,
		&alexa.Endpoint{EndpointID: d.EndpointID()}, nil).WithProperties(props)
}

// acceptGrant stores the event gateway tokens for userID. The response is a
// success whatever happens; failures are logged.
func (e *Engine) acceptGrant(ctx context.Context, log *slog.Logger, userID string, d *alexa.Directive) *alexa.Response {
	messageID := d.Header.MessageID
	if messageID == "" {
		messageID = "grant"
	}
	success := alexa.NewEvent(alexa.NamespaceAuthorization, alexa.NameAcceptGrantResponse, messageID+"-rsp", "", nil, nil)

	code := d.GrantCode()
	if code == "" {
		log.ErrorContext(ctx, "AcceptGrant without authorization code")
		return success
	}

	tokens, err := e.deps.Tokens.Exchange(ctx, code)
	if err != nil {
		log.ErrorContext(ctx, "AcceptGrant code exchange failed", slog.String("error", err.Error()))
		return success
	}
	if err := e.deps.Accounts.StoreTokens(ctx, userID, tokens); err != nil {
		log.ErrorContext(ctx, "AcceptGrant token store failed", slog.String("error", err.Error()))
		return success
	}

	log.InfoContext(ctx, "AcceptGrant stored tokens")
	return success
}

func (e *Engine) internalError(ctx context.Context, log *slog.Logger, d *alexa.Directive, err error) *alexa.Response {
	log.ErrorContext(ctx, "Directive failed", slog.String("error", err.Error()))
	return alexa.NewErrorResponse(d.Header, d.Endpoint, alexa.ErrorInternal, "Internal error")
}
