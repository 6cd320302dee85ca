package discordrpc

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const defaultAPIBase = "https://discord.com/api"

// OAuth exchanges authorization codes and refresh tokens at the Discord
// token endpoint.
type OAuth struct {
	http *resty.Client
}

// NewOAuth creates an OAuth helper. apiBase overrides the Discord API
// root, which tests point at a local server.
func NewOAuth(apiBase string) *OAuth {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &OAuth{http: resty.New().SetBaseURL(apiBase)}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeCode trades an authorization code for an access token and a
// refresh token.
func (o *OAuth) ExchangeCode(ctx context.Context, clientID, clientSecret, redirectURI, code string) (string, string, error) {
	return o.exchange(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"redirect_uri":  redirectURI,
	})
}

// RefreshToken trades a stored refresh token for a new access token. The
// second return value is the rotated refresh token, empty when Discord
// did not issue one.
func (o *OAuth) RefreshToken(ctx context.Context, clientID, clientSecret, redirectURI, refreshToken string) (string, string, error) {
	return o.exchange(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"redirect_uri":  redirectURI,
	})
}

func (o *OAuth) exchange(ctx context.Context, form map[string]string) (string, string, error) {
	var result tokenResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		Post("/oauth2/token")
	if err != nil {
		return "", "", fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return "", "", fmt.Errorf("token exchange failed (%s): %s", resp.Status(), resp.String())
	}
	if result.AccessToken == "" {
		return "", "", fmt.Errorf("no access_token in token response")
	}
	return result.AccessToken, result.RefreshToken, nil
}
