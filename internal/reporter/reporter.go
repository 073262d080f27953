// Package reporter turns device row changes into proactive change and
// delete reports for the device owner's linked account.
package reporter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/slidebolt/aws-alexa/internal/alexa"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/reportqueue"
)

// Uncertainty of properties read back from stored state.
const reportUncertaintyMs = 1000

// ClientStore reads client metadata.
type ClientStore interface {
	Get(ctx context.Context, clientID string) (*client.Client, error)
}

// TokenSource resolves a user's event gateway token.
type TokenSource interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Sender delivers a report to the event gateway.
type Sender interface {
	Send(ctx context.Context, report *alexa.Response) error
}

// FailurePublisher parks reports the gateway did not accept.
type FailurePublisher interface {
	PublishFailedReport(ctx context.Context, msg reportqueue.FailedReport) error
}

// Result summarises one batch.
type Result struct {
	Processed int
	Changed   int
	Sent      int
	Failures  []events.DynamoDBBatchItemFailure
}

// Reporter processes device change batches.
type Reporter struct {
	clients      ClientStore
	tokens       TokenSource
	sender       Sender
	failures     FailurePublisher
	logger       *slog.Logger
	now          func() time.Time
	newMessageID func() string
}

// NewReporter creates a new Reporter. failures may be nil.
func NewReporter(clients ClientStore, tokens TokenSource, sender Sender, failures FailurePublisher, logger *slog.Logger) *Reporter {
	return &Reporter{
		clients:      clients,
		tokens:       tokens,
		sender:       sender,
		failures:     failures,
		logger:       logger,
		now:          time.Now,
		newMessageID: uuid.NewString,
	}
}

// Process reports every relevant record. Records that hit a store failure
// are returned for redelivery; gateway failures are logged and parked.
func (r *Reporter) Process(ctx context.Context, records []events.DynamoDBEventRecord) Result {
	result := Result{Processed: len(records)}

	for _, record := range records {
		change, err := Classify(record)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to decode stream record",
				slog.String("event_id", record.EventID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if change == nil {
			continue
		}
		result.Changed++

		sent, err := r.report(ctx, change)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to report device change",
				slog.String("client_id", change.ClientID),
				slog.String("endpoint_id", change.EndpointID),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, events.DynamoDBBatchItemFailure{ItemIdentifier: change.SequenceNumber})
			continue
		}
		if sent {
			result.Sent++
		}
	}

	return result
}

// report sends one change. It reports whether the gateway accepted it; an
// error means the record should be retried.
func (r *Reporter) report(ctx context.Context, change *Change) (bool, error) {
	log := r.logger.With(
		slog.String("kind", change.Kind.String()),
		slog.String("client_id", change.ClientID),
		slog.String("endpoint_id", change.EndpointID),
	)

	c, err := r.clients.Get(ctx, change.ClientID)
	if errors.Is(err, client.ErrClientNotFound) {
		log.WarnContext(ctx, "Report skipped: client not found")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.OwnerUserID == "" {
		log.WarnContext(ctx, "Report skipped: client has no owner")
		return false, nil
	}

	token, err := r.tokens.Resolve(ctx, c.OwnerUserID)
	if err != nil {
		return false, err
	}
	if token == "" {
		log.WarnContext(ctx, "Report skipped: no token", slog.String("user_id", c.OwnerUserID))
		return false, nil
	}

	report := r.build(change, token)
	if err := r.sender.Send(ctx, report); err != nil {
		log.ErrorContext(ctx, "Report send failed", slog.String("error", err.Error()))
		r.park(ctx, log, change, c.OwnerUserID, report, err)
		return false, nil
	}

	log.InfoContext(ctx, "Report sent")
	return true, nil
}

func (r *Reporter) build(change *Change, token string) *alexa.Response {
	messageID := r.newMessageID()
	if change.Kind == KindDelete {
		return alexa.NewDeleteReport(messageID, change.EndpointID, token)
	}

	sampledAt := dynamo.FormatTime(r.now())
	var state map[string]any
	if change.New != nil {
		state = change.New.State
		if change.New.UpdatedAt != "" {
			sampledAt = change.New.UpdatedAt
		}
	}
	return alexa.NewChangeReport(messageID, change.EndpointID, token,
		alexa.StateProperties(state, sampledAt, reportUncertaintyMs))
}

func (r *Reporter) park(ctx context.Context, log *slog.Logger, change *Change, userID string, report *alexa.Response, sendErr error) {
	if r.failures == nil {
		return
	}
	err := r.failures.PublishFailedReport(ctx, reportqueue.FailedReport{
		Kind:       change.Kind.String(),
		ClientID:   change.ClientID,
		EndpointID: change.EndpointID,
		UserID:     userID,
		Error:      sendErr.Error(),
		Report:     report,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to park report", slog.String("error", err.Error()))
	}
}
