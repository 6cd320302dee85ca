package discordrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeCodeSendsForm(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth2/token", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"acc","refresh_token":"ref"}`))
	}))
	defer server.Close()

	o := NewOAuth(server.URL)
	access, refresh, err := o.ExchangeCode(context.Background(), "cid", "secret", "https://localhost", "the-code")
	require.NoError(t, err)
	assert.Equal(t, "acc", access)
	assert.Equal(t, "ref", refresh)
	assert.Equal(t, map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"client_id":     "cid",
		"client_secret": "secret",
		"redirect_uri":  "https://localhost",
	}, form)
}

func TestRefreshTokenGrantType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"acc2"}`))
	}))
	defer server.Close()

	o := NewOAuth(server.URL)
	access, refresh, err := o.RefreshToken(context.Background(), "cid", "secret", "https://localhost", "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "acc2", access)
	assert.Empty(t, refresh, "no rotation when Discord omits the refresh token")
}

func TestExchangeSurfacesRemoteBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	o := NewOAuth(server.URL)
	_, _, err := o.ExchangeCode(context.Background(), "cid", "secret", "https://localhost", "bad-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestExchangeRejectsEmptyAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	o := NewOAuth(server.URL)
	_, _, err := o.ExchangeCode(context.Background(), "cid", "secret", "https://localhost", "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}
