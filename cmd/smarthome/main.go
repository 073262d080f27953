// Package main implements the Smart Home skill Lambda handler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/alexa"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/config"
	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/directive"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/oauth"
	"github.com/slidebolt/aws-alexa/internal/push"
	"github.com/slidebolt/aws-alexa/internal/session"
)

var logger = logging.New()

const httpTimeout = 10 * time.Second

// DirectiveEngine answers one directive.
type DirectiveEngine interface {
	Handle(ctx context.Context, req *alexa.Request) *alexa.Response
}

// handler implements the skill endpoint logic.
type handler struct {
	engine  DirectiveEngine
	initErr error
}

// newHandler creates a new handler.
func newHandler(engine DirectiveEngine) *handler {
	return &handler{engine: engine}
}

// handle processes one skill invocation.
func (h *handler) handle(ctx context.Context, payload json.RawMessage) (*alexa.Response, error) {
	tracer := tracing.Tracer("alexa-smarthome")
	ctx, span := tracer.Start(ctx, "SmartHomeHandler")
	defer span.End()

	req, err := alexa.ParseRequest(payload)
	if err != nil {
		logger.WarnContext(ctx, "Invalid skill request", slog.String("error", err.Error()))
	} else {
		hdr := req.Directive.Header
		span.SetAttributes(
			attribute.String("namespace", hdr.Namespace),
			attribute.String("name", hdr.Name),
			attribute.String("message_id", hdr.MessageID),
		)
	}

	if h.initErr != nil {
		logger.ErrorContext(ctx, "Skill handler not configured", slog.String("error", h.initErr.Error()))
		hdr := alexa.Header{MessageID: "missing"}
		if req != nil {
			hdr = req.Directive.Header
		}
		return alexa.NewErrorResponse(hdr, nil, alexa.ErrorInternal, "Internal error"), nil
	}

	resp := h.engine.Handle(ctx, req)
	if failure, failed := resp.Failure(); failed {
		span.SetAttributes(attribute.String("error_type", string(failure.Type)))
	}
	return resp, nil
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		result.Start((&handler{initErr: err}).handle)
		return
	}

	store := keyspace.NewDynamoDBStore(dynamodb.NewFromConfig(result.Config), cfg.DataTable)

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   httpTimeout,
	}

	var pusher directive.Pusher
	if cfg.WSManagementEndpoint != "" {
		mgmt := apigatewaymanagementapi.NewFromConfig(result.Config, func(o *apigatewaymanagementapi.Options) {
			o.BaseEndpoint = aws.String(cfg.WSManagementEndpoint)
		})
		pusher = push.NewAPIGatewayPusher(mgmt)
	} else {
		logger.Warn("WS_MGMT_ENDPOINT not set, control directives will not be forwarded")
	}

	engine := directive.NewEngine(directive.Dependencies{
		Devices:     device.NewRepository(store),
		Clients:     client.NewRepository(store),
		Accounts:    account.NewRepository(store),
		Connections: session.NewRepository(store),
		Pusher:      pusher,
		Profiles:    oauth.NewProfileClient(cfg.ProfileURL, httpClient),
		Tokens:      oauth.NewTokenClient(cfg.TokenURL, cfg.AlexaClientID, cfg.AlexaClientSecret, httpClient),
		Dedup:       directive.NewDedupCache(cfg.DedupWindow, directive.DefaultDedupCapacity),
		TestToken:   cfg.TestAlexaToken,
		Logger:      logger,
	})

	h := newHandler(engine)
	result.Start(h.handle)
}
