package reporter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/slidebolt/aws-alexa/internal/account"
)

// RefreshMargin is how close to expiry a cached token is still used.
const RefreshMargin = 60 * time.Second

// AccountStore reads and updates users' gateway tokens.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*account.Account, error)
	StoreTokens(ctx context.Context, userID string, tokens account.Tokens) error
}

// Refresher trades a refresh token for a new token grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (account.Tokens, error)
}

// TokenResolver returns a usable event gateway token for a user, refreshing
// it when it is missing or about to expire.
type TokenResolver struct {
	accounts  AccountStore
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTokenResolver creates a new TokenResolver.
func NewTokenResolver(accounts AccountStore, refresher Refresher, logger *slog.Logger) *TokenResolver {
	return &TokenResolver{
		accounts:  accounts,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve returns the user's access token. An empty token with a nil error
// means the user cannot be reported to; an error means the store failed.
func (r *TokenResolver) Resolve(ctx context.Context, userID string) (string, error) {
	acct, err := r.accounts.Get(ctx, userID)
	if errors.Is(err, account.ErrAccountNotFound) {
		r.logger.WarnContext(ctx, "No account for report owner", slog.String("user_id", userID))
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if acct.AlexaAccessToken != "" && acct.AlexaTokenExpiresAt != nil &&
		acct.AlexaTokenExpiresAt.Sub(r.now()) >= RefreshMargin {
		return acct.AlexaAccessToken, nil
	}

	if acct.AlexaRefreshToken == "" {
		r.logger.WarnContext(ctx, "No refresh token for report owner", slog.String("user_id", userID))
		return "", nil
	}

	tokens, err := r.refresher.Refresh(ctx, acct.AlexaRefreshToken)
	if err != nil {
		r.logger.ErrorContext(ctx, "Token refresh failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", nil
	}
	if err := r.accounts.StoreTokens(ctx, userID, tokens); err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "Token refreshed", slog.String("user_id", userID))
	return tokens.AccessToken, nil
}
