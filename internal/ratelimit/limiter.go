// Package ratelimit enforces per-client, per-action request quotas in fixed
// one-minute windows.
//
// Each window is a counter row incremented with a conditional update, so
// concurrent handlers share one count without coordination. Condition
// failures deny the request; any other storage error lets it through.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/smithy-go"

	"github.com/slidebolt/aws-alexa/internal/dynamo"
	"github.com/slidebolt/aws-alexa/internal/keyspace"
)

const (
	// AttrCount holds the number of requests seen in the window.
	AttrCount = "cnt"

	// DefaultSoftLimit applies to actions without their own limit.
	DefaultSoftLimit = 20

	// HardMultiplier scales the soft limit to the enforced limit.
	HardMultiplier = 2

	// CounterTTL keeps a window row a minute past its end.
	CounterTTL = 120 * time.Second
)

// softLimits are requests per minute per client.
var softLimits = map[string]int{
	"state_update":  60,
	"device_upsert": 10,
	"list_devices":  6,
	"device_delete": 6,
	"keepalive":     5,
}

// SoftLimit returns the per-minute soft limit for action.
func SoftLimit(action string) int {
	if limit, ok := softLimits[action]; ok {
		return limit
	}
	return DefaultSoftLimit
}

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool
	SoftLimit int
	HardLimit int
}

// Limiter checks and consumes quota.
type Limiter struct {
	store  keyspace.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter creates a new Limiter.
func NewLimiter(store keyspace.Store, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to pick the minute window.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// CounterKey addresses the counter row for a client, action and minute bucket.
func CounterKey(clientID, action string, bucket int64) keyspace.Key {
	return keyspace.Key{
		PK: dynamo.PrefixClient + clientID,
		SK: fmt.Sprintf("%s%s#%d", dynamo.PrefixRate, action, bucket),
	}
}

// Check consumes one unit of the client's quota for action.
func (l *Limiter) Check(ctx context.Context, clientID, action string) Result {
	soft := SoftLimit(action)
	hard := soft * HardMultiplier
	result := Result{SoftLimit: soft, HardLimit: hard}

	now := l.now()
	bucket := now.Unix() / 60
	update := keyspace.Update{}.
		Add(AttrCount, 1).
		SetIfAbsent(dynamo.AttrTTL, now.Add(CounterTTL).Unix()).
		When(keyspace.Or(
			keyspace.NotExists(AttrCount),
			keyspace.LessThan(AttrCount, hard),
		))

	err := l.store.Update(ctx, CounterKey(clientID, action, bucket), update)
	switch {
	case err == nil:
		result.Allowed = true
	case errors.Is(err, keyspace.ErrConditionFailed):
		l.logger.WarnContext(ctx, "Rate limit exceeded",
			slog.String("client_id", clientID),
			slog.String("action", action),
			slog.Int("hard_limit", hard),
		)
	default:
		l.logger.ErrorContext(ctx, "Rate limit check failed, allowing request",
			slog.String("client_id", clientID),
			slog.String("action", action),
			slog.String("error_code", errorCode(err)),
			slog.String("error", err.Error()),
		)
		result.Allowed = true
	}
	return result
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "unknown"
}
