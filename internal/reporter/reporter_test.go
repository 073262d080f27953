package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/slidebolt/aws-alexa/internal/alexa"
	"github.com/slidebolt/aws-alexa/internal/client"
	"github.com/slidebolt/aws-alexa/internal/reportqueue"
)

type mockClientStore struct {
	getFunc func(ctx context.Context, clientID string) (*client.Client, error)
}

func (m *mockClientStore) Get(ctx context.Context, clientID string) (*client.Client, error) {
	return m.getFunc(ctx, clientID)
}

type mockTokenSource struct {
	resolveFunc func(ctx context.Context, userID string) (string, error)
}

func (m *mockTokenSource) Resolve(ctx context.Context, userID string) (string, error) {
	return m.resolveFunc(ctx, userID)
}

type mockSender struct {
	sent     []*alexa.Response
	sendFunc func(ctx context.Context, report *alexa.Response) error
}

func (m *mockSender) Send(ctx context.Context, report *alexa.Response) error {
	m.sent = append(m.sent, report)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, report)
	}
	return nil
}

type mockFailurePublisher struct {
	published []reportqueue.FailedReport
}

func (m *mockFailurePublisher) PublishFailedReport(ctx context.Context, msg reportqueue.FailedReport) error {
	m.published = append(m.published, msg)
	return nil
}

func ownedClient() *mockClientStore {
	return &mockClientStore{
		getFunc: func(ctx context.Context, clientID string) (*client.Client, error) {
			return &client.Client{ClientID: clientID, OwnerUserID: "owner"}, nil
		},
	}
}

func tokenFor(token string) *mockTokenSource {
	return &mockTokenSource{
		resolveFunc: func(ctx context.Context, userID string) (string, error) {
			return token, nil
		},
	}
}

func newTestReporter(clients ClientStore, tokens TokenSource, sender Sender, failures FailurePublisher) *Reporter {
	r := NewReporter(clients, tokens, sender, failures, discard())
	r.now = func() time.Time { return testNow }
	r.newMessageID = func() string { return "msg-1" }
	return r
}

func withSequence(rec events.DynamoDBEventRecord, seq string) events.DynamoDBEventRecord {
	rec.Change.SequenceNumber = seq
	return rec
}

func TestProcess_SendsChangeReport(t *testing.T) {
	sender := &mockSender{}
	r := newTestReporter(ownedClient(), tokenFor("gateway-token"), sender, nil)

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		record("MODIFY", deviceImage("lamp-1", "active", power("OFF")), deviceImage("lamp-1", "active", power("ON"))),
	})

	if result.Processed != 1 || result.Changed != 1 || result.Sent != 1 || len(result.Failures) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}

	data, err := json.Marshal(sender.sent[0])
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Event struct {
			Header   alexa.Header `json:"header"`
			Endpoint struct {
				Scope      alexa.Scope `json:"scope"`
				EndpointID string      `json:"endpointId"`
			} `json:"endpoint"`
			Payload struct {
				Change struct {
					Properties []alexa.Property `json:"properties"`
				} `json:"change"`
			} `json:"payload"`
		} `json:"event"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Event.Header.Name != alexa.NameChangeReport || got.Event.Header.MessageID != "msg-1" {
		t.Errorf("header = %+v", got.Event.Header)
	}
	if got.Event.Endpoint.EndpointID != "lamp-1" || got.Event.Endpoint.Scope.Token != "gateway-token" {
		t.Errorf("endpoint = %+v", got.Event.Endpoint)
	}
	props := got.Event.Payload.Change.Properties
	if len(props) != 1 || props[0].Value != "ON" || props[0].TimeOfSample != "2024-05-01T12:00:00.000Z" {
		t.Errorf("properties = %+v", props)
	}
}

func TestProcess_SendsDeleteReport(t *testing.T) {
	sender := &mockSender{}
	r := newTestReporter(ownedClient(), tokenFor("gateway-token"), sender, nil)

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		record("REMOVE", deviceImage("lamp-1", "active", power("ON")), nil),
	})

	if result.Sent != 1 {
		t.Fatalf("result = %+v", result)
	}
	if name := sender.sent[0].Event.Header.Name; name != alexa.NameDeleteReport {
		t.Errorf("name = %q, want %q", name, alexa.NameDeleteReport)
	}
	if token := sender.sent[0].Token(); token != "gateway-token" {
		t.Errorf("token = %q, want gateway-token", token)
	}
}

func TestProcess_SkipsUnreportable(t *testing.T) {
	tests := []struct {
		name    string
		clients *mockClientStore
		tokens  *mockTokenSource
	}{
		{
			name: "client not found",
			clients: &mockClientStore{getFunc: func(ctx context.Context, clientID string) (*client.Client, error) {
				return nil, client.ErrClientNotFound
			}},
			tokens: tokenFor("t"),
		},
		{
			name: "no owner",
			clients: &mockClientStore{getFunc: func(ctx context.Context, clientID string) (*client.Client, error) {
				return &client.Client{ClientID: clientID}, nil
			}},
			tokens: tokenFor("t"),
		},
		{
			name:    "no token",
			clients: ownedClient(),
			tokens:  tokenFor(""),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			r := newTestReporter(tt.clients, tt.tokens, sender, nil)
			result := r.Process(context.Background(), []events.DynamoDBEventRecord{
				record("REMOVE", deviceImage("lamp-1", "active", nil), nil),
			})
			if result.Changed != 1 || result.Sent != 0 || len(result.Failures) != 0 {
				t.Errorf("result = %+v", result)
			}
			if len(sender.sent) != 0 {
				t.Errorf("sent = %d, want 0", len(sender.sent))
			}
		})
	}
}

// Test: store failures are returned for redelivery, other records continue.
func TestProcess_StoreFailureIsBatchItemFailure(t *testing.T) {
	clients := &mockClientStore{getFunc: func(ctx context.Context, clientID string) (*client.Client, error) {
		return nil, errors.New("throttled")
	}}
	tokens := &mockTokenSource{resolveFunc: func(ctx context.Context, userID string) (string, error) {
		return "", errors.New("unused")
	}}
	r := newTestReporter(clients, tokens, &mockSender{}, nil)

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		withSequence(record("REMOVE", deviceImage("lamp-1", "active", nil), nil), "seq-a"),
		withSequence(record("MODIFY", deviceImage("lamp-2", "active", power("ON")), deviceImage("lamp-2", "active", power("ON"))), "seq-b"),
		withSequence(record("REMOVE", deviceImage("lamp-3", "active", nil), nil), "seq-c"),
	})

	if result.Processed != 3 || result.Changed != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(result.Failures))
	}
	if result.Failures[0].ItemIdentifier != "seq-a" || result.Failures[1].ItemIdentifier != "seq-c" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

func TestProcess_TokenStoreFailureIsBatchItemFailure(t *testing.T) {
	tokens := &mockTokenSource{resolveFunc: func(ctx context.Context, userID string) (string, error) {
		return "", errors.New("store down")
	}}
	r := newTestReporter(ownedClient(), tokens, &mockSender{}, nil)

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		record("REMOVE", deviceImage("lamp-1", "active", nil), nil),
	})
	if len(result.Failures) != 1 || result.Failures[0].ItemIdentifier != "seq-1" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

// Test: gateway rejections are parked on the failure queue, not retried.
func TestProcess_SendFailureIsParked(t *testing.T) {
	sender := &mockSender{sendFunc: func(ctx context.Context, report *alexa.Response) error {
		return errors.New("gateway returned 400")
	}}
	failures := &mockFailurePublisher{}
	r := newTestReporter(ownedClient(), tokenFor("gateway-token"), sender, failures)

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		record("MODIFY", deviceImage("lamp-1", "active", power("OFF")), deviceImage("lamp-1", "active", power("ON"))),
	})

	if result.Sent != 0 || len(result.Failures) != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(failures.published) != 1 {
		t.Fatalf("published = %d, want 1", len(failures.published))
	}
	parked := failures.published[0]
	if parked.Kind != "change" || parked.ClientID != "c1" || parked.EndpointID != "lamp-1" || parked.UserID != "owner" {
		t.Errorf("parked = %+v", parked)
	}
	if parked.Error != "gateway returned 400" || parked.Report == nil {
		t.Errorf("parked error = %q, report = %v", parked.Error, parked.Report)
	}
}

func TestProcess_SkipsMalformedRecords(t *testing.T) {
	sender := &mockSender{}
	r := newTestReporter(ownedClient(), tokenFor("t"), sender, nil)

	bad := deviceImage("lamp-1", "active", power("ON"))
	bad["state"] = events.NewStringAttribute("not-a-map")

	result := r.Process(context.Background(), []events.DynamoDBEventRecord{
		record("INSERT", nil, bad),
		record("INSERT", nil, deviceImage("lamp-2", "active", power("ON"))),
	})
	if result.Processed != 2 || result.Changed != 1 || result.Sent != 1 || len(result.Failures) != 0 {
		t.Errorf("result = %+v", result)
	}
}
