package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Profile is the subset of the user profile the bridge needs.
type Profile struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ProfileClient resolves an access token to its user profile.
type ProfileClient struct {
	profileURL string
	httpClient HTTPDoer
}

// NewProfileClient creates a new ProfileClient.
func NewProfileClient(profileURL string, httpClient HTTPDoer) *ProfileClient {
	return &ProfileClient{profileURL: profileURL, httpClient: httpClient}
}

// Profile fetches the profile for accessToken. A rejected token yields
// ErrUnauthorized.
func (c *ProfileClient) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("profile request: status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.UserID == "" {
		return nil, ErrUnauthorized
	}
	return &p, nil
}
