package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/slidebolt/aws-alexa/internal/alexa"
)

// fakeHTTPDoer implements HTTPDoer for testing.
type fakeHTTPDoer struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (f *fakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	if f.doFunc != nil {
		return f.doFunc(req)
	}
	return nil, nil
}

func status(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: http.NoBody}
}

func newClient(doer HTTPDoer) *EventClient {
	return &EventClient{
		url:        "https://events.example.com/v3/events",
		httpClient: doer,
		maxRetries: 2,
		baseDelay:  10 * time.Millisecond,
		sleepFunc:  func(context.Context, time.Duration) error { return nil },
	}
}

func TestSend_PostsReportWithBearer(t *testing.T) {
	var captured *http.Request
	var body []byte
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			captured = req
			body, _ = io.ReadAll(req.Body)
			return status(http.StatusAccepted), nil
		},
	})

	report := alexa.NewDeleteReport("m1", "lamp-1", "user-token")
	if err := client.Send(context.Background(), report); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if captured.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", captured.Method)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer user-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := captured.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if _, ok := decoded["event"]; !ok {
		t.Errorf("body = %s, want event envelope", body)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	calls := 0
	var delays []time.Duration
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return status(http.StatusServiceUnavailable), nil
			}
			return status(http.StatusAccepted), nil
		},
	})
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if err := client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "tok", nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Errorf("delays = %v, want [10ms 20ms]", delays)
	}
}

func TestSend_GivesUpAfterRetries(t *testing.T) {
	calls := 0
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return status(http.StatusInternalServerError), nil
		},
	})

	err := client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "tok", nil))
	if !errors.Is(err, ErrServerFail) {
		t.Errorf("Send() error = %v, want ErrServerFail", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSend_Unauthorized(t *testing.T) {
	calls := 0
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return status(http.StatusUnauthorized), nil
		},
	})

	err := client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "tok", nil))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Send() error = %v, want ErrUnauthorized", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no retry", calls)
	}
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return status(http.StatusBadRequest), nil
		},
	})

	if err := client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "tok", nil)); err == nil {
		t.Error("Send() error = nil, want status error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSend_MissingToken(t *testing.T) {
	client := newClient(&fakeHTTPDoer{})
	if err := client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "", nil)); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Send() error = %v, want ErrMissingToken", err)
	}
}

func TestSend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newClient(&fakeHTTPDoer{})
	if err := client.Send(ctx, alexa.NewChangeReport("m1", "lamp-1", "tok", nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
}

// setupTestTracer creates a test tracer provider and returns the span recorder.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func TestSend_BackoffStopsAtDeadline(t *testing.T) {
	calls := 0
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return status(http.StatusServiceUnavailable), nil
		},
	})
	client.baseDelay = time.Hour
	client.sleepFunc = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Send(ctx, alexa.NewDeleteReport("m1", "lamp-1", "user-token"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Send() took %v, want it to stop at the deadline", elapsed)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
}

func TestSend_Span(t *testing.T) {
	recorder := setupTestTracer(t)
	client := newClient(&fakeHTTPDoer{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return status(http.StatusForbidden), nil
		},
	})

	_ = client.Send(context.Background(), alexa.NewChangeReport("m1", "lamp-1", "tok", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "gateway.Send" {
		t.Errorf("Name = %q, want gateway.Send", span.Name())
	}
	if span.Status().Code == 0 {
		t.Error("expected span status to record the rejection")
	}
	var found bool
	for _, attr := range span.Attributes() {
		if string(attr.Key) == "event_name" && attr.Value.AsString() == alexa.NameChangeReport {
			found = true
		}
	}
	if !found {
		t.Error("span is missing event_name attribute")
	}
}
