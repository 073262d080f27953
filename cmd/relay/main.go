// Package main implements the relay WebSocket Lambda handler.
// Relay clients connect here to register, publish devices and state, and
// receive forwarded directives.
package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/config"
	"github.com/slidebolt/aws-alexa/internal/device"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/ratelimit"
	"github.com/slidebolt/aws-alexa/internal/relay"
	"github.com/slidebolt/aws-alexa/internal/response"
	"github.com/slidebolt/aws-alexa/internal/session"
)

var logger = logging.New()

// RelayService handles one relay event.
type RelayService interface {
	Handle(ctx context.Context, req relay.Request) response.Response
}

// handler implements the relay WebSocket route logic.
type handler struct {
	service RelayService
	initErr error
}

// newHandler creates a new handler.
func newHandler(service RelayService) *handler {
	return &handler{service: service}
}

// handle processes a WebSocket route event.
func (h *handler) handle(ctx context.Context, event events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	tracer := tracing.Tracer("alexa-relay")
	ctx, span := tracer.Start(ctx, "RelayHandler")
	defer span.End()

	rc := event.RequestContext
	span.SetAttributes(
		attribute.String("route_key", rc.RouteKey),
		attribute.String("connection_id", rc.ConnectionID),
	)

	if h.initErr != nil {
		logger.ErrorContext(ctx, "Relay handler not configured", slog.String("error", h.initErr.Error()))
		return response.ProxyResponse(response.InternalError("Internal error")), nil
	}

	resp := h.service.Handle(ctx, relay.Request{
		ConnectionID: rc.ConnectionID,
		RouteKey:     rc.RouteKey,
		Body:         event.Body,
	})
	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	return response.ProxyResponse(resp), nil
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
	service := relay.NewService(
		client.NewRepository(store),
		device.NewRepository(store),
		session.NewRepository(store),
		ratelimit.NewLimiter(store, logger),
		cfg.DeviceRetention,
		logger,
	)

	h := newHandler(service)
	result.Start(h.handle)
}
