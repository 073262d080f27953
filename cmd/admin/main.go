// Package main implements the admin WebSocket Lambda handler.
// Operators manage relay clients and their user links through it.
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

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/admin"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/config"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/response"
)

var logger = logging.New()

// AdminService handles one admin event.
type AdminService interface {
	Handle(ctx context.Context, req admin.Request) response.Response
}

// handler implements the admin WebSocket route logic.
type handler struct {
	service AdminService
	initErr error
}

// newHandler creates a new handler.
func newHandler(service AdminService) *handler {
	return &handler{service: service}
}

// handle processes a WebSocket route event.
func (h *handler) handle(ctx context.Context, event events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	tracer := tracing.Tracer("alexa-admin")
	ctx, span := tracer.Start(ctx, "AdminHandler")
	defer span.End()

	rc := event.RequestContext
	span.SetAttributes(attribute.String("connection_id", rc.ConnectionID))

	if h.initErr != nil {
		logger.ErrorContext(ctx, "Admin handler not configured", slog.String("error", h.initErr.Error()))
		return response.ProxyResponse(response.InternalError("Internal error")), nil
	}

	resp := h.service.Handle(ctx, admin.Request{
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
	service := admin.NewService(client.NewRepository(store), account.NewRepository(store), cfg.AdminSecret, logger)

	h := newHandler(service)
	result.Start(h.handle)
}
