// Package microsoft implements the provider adapter for Microsoft identity
// platform (v2.0 endpoints), targeting Outlook/Graph mail access.
//
// Unlike Google, Microsoft requires the tenant segment in every endpoint URL
// and grants refresh tokens through the offline_access scope rather than an
// access_type parameter. Microsoft also rotates the refresh token on every
// refresh, so Grant.RefreshToken is normally populated after Refresh.
package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inboxly/mailvault/internal/provider"
)

const (
	authEndpointFmt  = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	tokenEndpointFmt = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	profileEndpoint  = "https://graph.microsoft.com/v1.0/me"
)

// DefaultScopes grant identity plus read-only mailbox access via Graph.
// offline_access is what makes Microsoft issue a refresh token.
var DefaultScopes = []string{
	"openid",
	"email",
	"offline_access",
	"https://graph.microsoft.com/Mail.Read",
}

// Adapter is the Microsoft identity platform client.
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURL  string
	tenant       string // directory id or "common"
	scopes       []string

	http *http.Client

	authURL    string
	tokenURL   string
	profileURL string
}

// Config configures the adapter. Tenant is required ("common" for
// multi-tenant apps). Endpoint fields exist for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Tenant       string
	Scopes       []string

	HTTPClient *http.Client

	AuthEndpoint    string
	TokenEndpoint   string
	ProfileEndpoint string
}

// New creates a Microsoft adapter. Configuration completeness is checked on
// first real use.
func New(cfg Config) *Adapter {
	a := &Adapter{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		tenant:       cfg.Tenant,
		scopes:       cfg.Scopes,
		http:         cfg.HTTPClient,
		authURL:      cfg.AuthEndpoint,
		tokenURL:     cfg.TokenEndpoint,
		profileURL:   cfg.ProfileEndpoint,
	}
	if len(a.scopes) == 0 {
		a.scopes = DefaultScopes
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: 10 * time.Second}
	}
	if a.authURL == "" && a.tenant != "" {
		a.authURL = fmt.Sprintf(authEndpointFmt, a.tenant)
	}
	if a.tokenURL == "" && a.tenant != "" {
		a.tokenURL = fmt.Sprintf(tokenEndpointFmt, a.tenant)
	}
	if a.profileURL == "" {
		a.profileURL = profileEndpoint
	}
	return a
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return provider.Microsoft }

func (a *Adapter) checkConfig() error {
	if a.clientID == "" || a.clientSecret == "" || a.redirectURL == "" || a.tenant == "" {
		return provider.ErrMissingConfig
	}
	return nil
}

// AuthURL builds the consent-screen URL. The offline_access scope present in
// the scope list is what requests refresh-token issuance.
func (a *Adapter) AuthURL(_ context.Context, p provider.AuthURLParams) (string, error) {
	if err := a.checkConfig(); err != nil {
		return "", err
	}
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = a.scopes
	}

	u, err := url.Parse(a.authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", a.clientID)
	q.Set("redirect_uri", a.redirectURL)
	q.Set("response_mode", "query")
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", p.State)
	if p.PromptConsent {
		q.Set("prompt", "consent")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode exchanges an authorization code for tokens.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*provider.Grant, error) {
	if err := a.checkConfig(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("redirect_uri", a.redirectURL)
	form.Set("scope", strings.Join(a.scopes, " "))

	return a.tokenGrant(ctx, provider.ErrExchange, form)
}

// Refresh performs the refresh-token grant. Microsoft reissues the refresh
// token with every refresh; the caller must persist the new one.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	if err := a.checkConfig(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("scope", strings.Join(a.scopes, " "))

	return a.tokenGrant(ctx, provider.ErrRefresh, form)
}

func (a *Adapter) tokenGrant(ctx context.Context, kind error, form url.Values) (*provider.Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Microsoft, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Microsoft, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var te tokenError
		_ = json.NewDecoder(resp.Body).Decode(&te)
		return nil, &provider.FlowError{
			Kind:       kind,
			Provider:   provider.Microsoft,
			StatusCode: resp.StatusCode,
			Code:       te.Error,
			Desc:       te.ErrorDescription,
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Microsoft, StatusCode: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Microsoft, StatusCode: resp.StatusCode, Desc: "no access_token in response"}
	}

	return &provider.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
		Scope:        tr.Scope,
		IDToken:      tr.IDToken,
	}, nil
}

type meResponse struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// FetchProfile resolves the account behind accessToken via Graph /me. Some
// accounts have no mail attribute; userPrincipalName is the fallback.
func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*provider.Profile, error) {
	if err := a.checkConfig(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.profileURL, nil)
	if err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Microsoft, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Microsoft, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Microsoft, StatusCode: resp.StatusCode}
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Microsoft, StatusCode: resp.StatusCode, Err: err}
	}
	if me.ID == "" {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Microsoft, StatusCode: resp.StatusCode, Desc: "no id in /me response"}
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return &provider.Profile{
		ExternalAccountID: me.ID,
		Email:             email,
		TenantID:          a.tenant,
	}, nil
}

// Revoke is a no-op: the Microsoft identity platform has no self-service
// token revocation endpoint for confidential clients. Deleting the stored
// credential is the effective disconnect.
func (a *Adapter) Revoke(context.Context, string) error { return nil }
