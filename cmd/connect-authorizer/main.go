// Package main implements the WebSocket $connect request authorizer.
// Relay clients must present the shared connect token as the connectToken
// query parameter.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/slidebolt/aws-alexa/internal/secret"
)

var logger = logging.New()

const (
	principalID    = "relay-client"
	tokenParameter = "connectToken"
	policyVersion  = "2012-10-17"
	invokeAction   = "execute-api:Invoke"
)

// handler implements the connect authorizer logic.
type handler struct {
	relayToken string
}

// newHandler creates a new handler. An empty relayToken denies every request.
func newHandler(relayToken string) *handler {
	return &handler{relayToken: relayToken}
}

// handle returns an Allow policy for requests carrying the relay token.
func (h *handler) handle(ctx context.Context, request events.APIGatewayCustomAuthorizerRequestTypeRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	tracer := tracing.Tracer("alexa-connect-authorizer")
	ctx, span := tracer.Start(ctx, "ConnectAuthorizerHandler")
	defer span.End()

	effect := "Deny"
	presented := request.QueryStringParameters[tokenParameter]
	if h.relayToken != "" && presented != "" && secret.Equal(presented, h.relayToken) {
		effect = "Allow"
	}

	span.SetAttributes(attribute.String("effect", effect))
	logger.InfoContext(ctx, "Connect authorized",
		slog.String("effect", effect),
		slog.String("request_id", request.RequestContext.RequestID),
	)

	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: principalID,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{invokeAction},
					Effect:   effect,
					Resource: []string{request.MethodArn},
				},
			},
		},
	}, nil
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	relayToken := os.Getenv("RELAY_TOKEN")
	if relayToken == "" {
		logger.Warn("RELAY_TOKEN not set, all connections will be denied")
	}

	h := newHandler(relayToken)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
