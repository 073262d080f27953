// Package main implements the device change reporter DynamoDB Streams handler.
// It sends change and delete reports for device rows to the event gateway.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/logging"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/slidebolt/aws-alexa/internal/account"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/config"
	"github.com/slidebolt/aws-alexa/internal/gateway"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
	"github.com/slidebolt/aws-alexa/internal/oauth"
	"github.com/slidebolt/aws-alexa/internal/reporter"
	"github.com/slidebolt/aws-alexa/internal/reportqueue"
)

var logger = logging.New()

const httpTimeout = 10 * time.Second

// BatchProcessor reports the device changes in a batch of stream records.
type BatchProcessor interface {
	Process(ctx context.Context, records []events.DynamoDBEventRecord) reporter.Result
}

// handler implements the stream consumer logic.
type handler struct {
	processor BatchProcessor
}

// newHandler creates a new handler.
func newHandler(processor BatchProcessor) *handler {
	return &handler{processor: processor}
}

// handle processes a DynamoDB Streams event. Records that could not be
// reported because of a store failure are returned for redelivery.
func (h *handler) handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	tracer := tracing.Tracer("alexa-reporter")
	ctx, span := tracer.Start(ctx, "ReporterHandler")
	defer span.End()

	result := h.processor.Process(ctx, event.Records)

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("changed", result.Changed),
		attribute.Int("sent", result.Sent),
		attribute.Int("failed", len(result.Failures)),
	)
	logger.InfoContext(ctx, "Device change batch reported",
		slog.Bool("ok", len(result.Failures) == 0),
		slog.Int("processed", result.Processed),
		slog.Int("changed", result.Changed),
		slog.Int("sent", result.Sent),
		slog.Int("failed", len(result.Failures)),
	)

	return events.DynamoDBEventResponse{BatchItemFailures: result.Failures}, nil
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	store := keyspace.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.DataTable)
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   httpTimeout,
	}

	tokens := reporter.NewTokenResolver(
		account.NewRepository(store),
		oauth.NewTokenClient(cfg.TokenURL, cfg.AlexaClientID, cfg.AlexaClientSecret, httpClient),
		logger,
	)

	var failures reporter.FailurePublisher
	if cfg.ReportFailureQueueURL != "" {
		failures = reportqueue.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.ReportFailureQueueURL)
	}

	processor := reporter.NewReporter(
		client.NewRepository(store),
		tokens,
		gateway.NewEventClient(cfg.EventGatewayURL, httpClient),
		failures,
		logger,
	)

	h := newHandler(processor)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
