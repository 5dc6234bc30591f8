package microsoft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxly/mailvault/internal/provider"
)

func testAdapter(t *testing.T, tokenHandler, profileHandler http.HandlerFunc) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	if profileHandler != nil {
		mux.HandleFunc("/me", profileHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(Config{
		ClientID:        "cid",
		ClientSecret:    "csecret",
		RedirectURL:     "https://app.example.com/auth/microsoft/callback",
		Tenant:          "tenant-guid",
		TokenEndpoint:   srv.URL + "/token",
		ProfileEndpoint: srv.URL + "/me",
	})
}

func TestAuthURL_RequiresOfflineAccessScope(t *testing.T) {
	t.Parallel()
	a := New(Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURL:  "https://app.example.com/cb",
		Tenant:       "common",
	})

	raw, err := a.AuthURL(context.Background(), provider.AuthURLParams{State: "st"})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Contains(t, u.Host, "login.microsoftonline.com")
	require.Contains(t, u.Path, "/common/")
	require.Contains(t, u.Query().Get("scope"), "offline_access")
	require.Equal(t, "st", u.Query().Get("state"))
}

func TestExchangeAndRotatedRefresh(t *testing.T) {
	t.Parallel()
	calls := 0
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "AT1",
				"refresh_token": "RT1",
				"expires_in":    3600,
			})
		case "refresh_token":
			require.Equal(t, "RT1", r.PostForm.Get("refresh_token"))
			// Microsoft rotates the refresh token every time
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "AT2",
				"refresh_token": "RT2",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}, nil)

	g, err := a.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "RT1", g.RefreshToken)

	g2, err := a.Refresh(context.Background(), g.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "AT2", g2.AccessToken)
	require.Equal(t, "RT2", g2.RefreshToken)
	require.Equal(t, 2, calls)
}

func TestRefresh_Rejection(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "AADSTS70000: refresh token expired",
		})
	}, nil)

	_, err := a.Refresh(context.Background(), "RT-old")
	require.ErrorIs(t, err, provider.ErrRefresh)
}

func TestFetchProfile_UPNFallback(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                "obj-id-1",
			"mail":              "",
			"userPrincipalName": "user@corp.onmicrosoft.com",
		})
	})

	p, err := a.FetchProfile(context.Background(), "AT1")
	require.NoError(t, err)
	require.Equal(t, "obj-id-1", p.ExternalAccountID)
	require.Equal(t, "user@corp.onmicrosoft.com", p.Email)
	require.Equal(t, "tenant-guid", p.TenantID)
}

func TestMissingTenant(t *testing.T) {
	t.Parallel()
	a := New(Config{ClientID: "cid", ClientSecret: "cs", RedirectURL: "https://cb"})
	_, err := a.AuthURL(context.Background(), provider.AuthURLParams{State: "s"})
	require.ErrorIs(t, err, provider.ErrMissingConfig)
}

func TestRevoke_NoOp(t *testing.T) {
	t.Parallel()
	a := New(Config{})
	require.NoError(t, a.Revoke(context.Background(), "anything"))
}
