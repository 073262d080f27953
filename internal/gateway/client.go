// Package gateway posts proactive events to the Alexa event gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/slidebolt/aws-alexa/internal/alexa"
)

// Error types for gateway sends.
var (
	ErrUnauthorized = errors.New("event gateway rejected token")
	ErrServerFail   = errors.New("event gateway server error")
	ErrMissingToken = errors.New("report has no bearer token")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EventClient sends change and delete reports.
type EventClient struct {
	url        string
	httpClient HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	sleepFunc  func(context.Context, time.Duration) error
}

// NewEventClient creates a new EventClient with default retry settings.
func NewEventClient(url string, httpClient HTTPDoer) *EventClient {
	return &EventClient{
		url:        url,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		sleepFunc:  sleepContext,
	}
}

// Send posts report with its own bearer token. Server errors are retried;
// a rejected token is not.
func (c *EventClient) Send(ctx context.Context, report *alexa.Response) error {
	tracer := tracing.Tracer("alexa-event-gateway")
	ctx, span := tracer.Start(ctx, "gateway.Send",
		trace.WithAttributes(
			attribute.String("event_name", report.Event.Header.Name),
			attribute.String("message_id", report.Event.Header.MessageID),
		))
	defer span.End()

	if err := c.send(ctx, report); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

func (c *EventClient) send(ctx context.Context, report *alexa.Response) error {
	token := report.Token()
	if token == "" {
		return ErrMissingToken
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	maxAttempts := c.maxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 && c.sleepFunc != nil && c.baseDelay > 0 {
			if err := c.sleepFunc(ctx, c.baseDelay*time.Duration(1<<(attempt-1))); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrUnauthorized
		case resp.StatusCode >= 500:
			lastErr = ErrServerFail
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("event gateway: status %d", resp.StatusCode)
		}
		return nil
	}

	return lastErr
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
