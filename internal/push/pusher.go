// Package push delivers messages to live relay connections through the
// API Gateway management API.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
)

// ErrGone is returned when the connection no longer exists.
var ErrGone = errors.New("connection gone")

// ConnectionPoster abstracts the management API for dependency inversion.
type ConnectionPoster interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// APIGatewayPusher posts data to WebSocket connections.
type APIGatewayPusher struct {
	client ConnectionPoster
}

// NewAPIGatewayPusher creates a new APIGatewayPusher.
func NewAPIGatewayPusher(client ConnectionPoster) *APIGatewayPusher {
	return &APIGatewayPusher{client: client}
}

// Push sends data to connectionID.
func (p *APIGatewayPusher) Push(ctx context.Context, connectionID string, data []byte) error {
	_, err := p.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *types.GoneException
		if errors.As(err, &gone) {
			return ErrGone
		}
		return fmt.Errorf("post to connection: %w", err)
	}
	return nil
}
