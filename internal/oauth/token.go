// Package oauth talks to the Login with Amazon token and profile endpoints.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/slidebolt/aws-alexa/internal/account"
)

// Error types for token and profile calls.
var (
	ErrNotConfigured = errors.New("oauth client credentials not configured")
	ErrUnauthorized  = errors.New("unauthorized")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenClient exchanges authorization codes and refresh tokens.
type TokenClient struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewTokenClient creates a TokenClient for the skill's client credentials.
func NewTokenClient(tokenURL, clientID, clientSecret string, httpClient *http.Client) *TokenClient {
	return &TokenClient{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// Exchange trades an authorization code for a token grant.
func (c *TokenClient) Exchange(ctx context.Context, code string) (account.Tokens, error) {
	if err := c.configured(); err != nil {
		return account.Tokens{}, err
	}
	tok, err := c.config.Exchange(c.withClient(ctx), code)
	if err != nil {
		return account.Tokens{}, translate("exchange authorization code", err)
	}
	return toTokens(tok), nil
}

// Refresh trades a refresh token for a new token grant. The returned refresh
// token is the rotated one, or refreshToken when the endpoint did not rotate it.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (account.Tokens, error) {
	if err := c.configured(); err != nil {
		return account.Tokens{}, err
	}
	src := c.config.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return account.Tokens{}, translate("refresh token", err)
	}
	return toTokens(tok), nil
}

func (c *TokenClient) configured() error {
	if c.config.ClientID == "" || c.config.ClientSecret == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c *TokenClient) withClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func toTokens(tok *oauth2.Token) account.Tokens {
	return account.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

// translate maps rejected grants to ErrUnauthorized.
func translate(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w (%s)", op, ErrUnauthorized, re.ErrorCode)
		}
		return fmt.Errorf("%s: status %d", op, re.Response.StatusCode)
	}
	return fmt.Errorf("%s: %w", op, err)
}
