package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxly/mailvault/internal/provider"
)

func testAdapter(t *testing.T, tokenHandler, userinfoHandler http.HandlerFunc) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	if userinfoHandler != nil {
		mux.HandleFunc("/userinfo", userinfoHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(Config{
		ClientID:         "cid",
		ClientSecret:     "csecret",
		RedirectURL:      "https://app.example.com/auth/google/callback",
		TokenEndpoint:    srv.URL + "/token",
		UserinfoEndpoint: srv.URL + "/userinfo",
		RevokeEndpoint:   srv.URL + "/revoke",
	})
}

func TestAuthURL_Params(t *testing.T) {
	t.Parallel()
	a := New(Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURL:  "https://app.example.com/cb",
	})

	raw, err := a.AuthURL(context.Background(), provider.AuthURLParams{
		State:         "opaque-state",
		PromptConsent: true,
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "cid", q.Get("client_id"))
	require.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	require.Equal(t, "opaque-state", q.Get("state"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Contains(t, q.Get("scope"), "gmail.readonly")
}

func TestExchangeCode_Success(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "auth-code-123", r.PostForm.Get("code"))
		require.Equal(t, "cid", r.PostForm.Get("client_id"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "openid email",
		})
	}, nil)

	g, err := a.ExchangeCode(context.Background(), "auth-code-123")
	require.NoError(t, err)
	require.Equal(t, "AT1", g.AccessToken)
	require.Equal(t, "RT1", g.RefreshToken)
	require.Equal(t, 3600, g.ExpiresIn)
	require.Equal(t, "openid email", g.Scope)
}

func TestExchangeCode_ProviderRejection(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}, nil)

	_, err := a.ExchangeCode(context.Background(), "stale-code")
	require.Error(t, err)
	require.ErrorIs(t, err, provider.ErrExchange)
	require.NotErrorIs(t, err, provider.ErrRefresh)

	var fe *provider.FlowError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusBadRequest, fe.StatusCode)
	require.Equal(t, "invalid_grant", fe.Code)
}

func TestRefresh_KindIsDistinct(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}, nil)

	_, err := a.Refresh(context.Background(), "RT-revoked")
	require.ErrorIs(t, err, provider.ErrRefresh)
	require.NotErrorIs(t, err, provider.ErrExchange)
}

func TestRefresh_NoRotation(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// Google omits refresh_token on refresh responses
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "AT2",
			"expires_in":   3599,
		})
	}, nil)

	g, err := a.Refresh(context.Background(), "RT1")
	require.NoError(t, err)
	require.Equal(t, "AT2", g.AccessToken)
	require.Empty(t, g.RefreshToken)
}

func TestFetchProfile(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":   "108followthesub",
			"email": "user@example.com",
		})
	})

	p, err := a.FetchProfile(context.Background(), "AT1")
	require.NoError(t, err)
	require.Equal(t, "108followthesub", p.ExternalAccountID)
	require.Equal(t, "user@example.com", p.Email)
	require.Empty(t, p.TenantID)
}

func TestMissingConfig(t *testing.T) {
	t.Parallel()
	a := New(Config{})

	_, err := a.AuthURL(context.Background(), provider.AuthURLParams{State: "s"})
	require.ErrorIs(t, err, provider.ErrMissingConfig)

	_, err = a.ExchangeCode(context.Background(), "code")
	require.ErrorIs(t, err, provider.ErrMissingConfig)
}
