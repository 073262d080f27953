// Package reportqueue parks change reports that could not be delivered on an
// SQS queue for later redrive.
package reportqueue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/slidebolt/aws-alexa/internal/alexa"
)

// FailedReport is the SQS message body for an undelivered report. The bearer
// token is stripped; redrive resolves a fresh one from UserID.
type FailedReport struct {
	Kind       string          `json:"kind"`
	ClientID   string          `json:"clientId"`
	EndpointID string          `json:"endpointId"`
	UserID     string          `json:"userId"`
	Error      string          `json:"error"`
	Report     *alexa.Response `json:"report"`
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes failed reports to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// PublishFailedReport sends one failed report to SQS.
func (p *SQSPublisher) PublishFailedReport(ctx context.Context, msg FailedReport) error {
	msg.Report = redact(msg.Report)

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	bodyStr := string(body)
	kind := msg.Kind
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: strPtr("String"), StringValue: &kind},
		},
	})
	return err
}

// redact returns a copy of report without its bearer token.
func redact(report *alexa.Response) *alexa.Response {
	if report == nil {
		return nil
	}
	out := *report
	if out.Event.Endpoint != nil && out.Event.Endpoint.Scope != nil {
		endpoint := *out.Event.Endpoint
		endpoint.Scope = nil
		out.Event.Endpoint = &endpoint
	}
	if p, ok := out.Event.Payload.(alexa.DeletePayload); ok {
		p.Scope.Token = ""
		out.Event.Payload = p
	}
	return &out
}

func strPtr(s string) *string {
	return &s
}
