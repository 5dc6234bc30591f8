// Package google implements the provider adapter for Google OAuth 2.0,
// targeting Gmail access. Endpoints are the fixed Google OAuth2/OIDC URLs;
// the userinfo call resolves the account identity after an exchange.
package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inboxly/mailvault/internal/provider"
)

const (
	authEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	tokenEndpoint    = "https://oauth2.googleapis.com/token"
	userinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"
	revokeEndpoint   = "https://oauth2.googleapis.com/revoke"
)

// DefaultScopes grant identity plus read-only Gmail access.
var DefaultScopes = []string{
	"openid",
	"email",
	"https://www.googleapis.com/auth/gmail.readonly",
}

// Adapter is the Google OAuth 2.0 client.
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string

	http *http.Client

	// endpoint overrides, primarily for tests
	authURL     string
	tokenURL    string
	userinfoURL string
	revokeURL   string
}

// Config configures the adapter. Endpoint fields default to Google's
// production URLs and exist for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	HTTPClient *http.Client

	AuthEndpoint     string
	TokenEndpoint    string
	UserinfoEndpoint string
	RevokeEndpoint   string
}

// New creates a Google adapter. Configuration completeness is checked on
// first real use, not here.
func New(cfg Config) *Adapter {
	a := &Adapter{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       cfg.Scopes,
		http:         cfg.HTTPClient,
		authURL:      cfg.AuthEndpoint,
		tokenURL:     cfg.TokenEndpoint,
		userinfoURL:  cfg.UserinfoEndpoint,
		revokeURL:    cfg.RevokeEndpoint,
	}
	if len(a.scopes) == 0 {
		a.scopes = DefaultScopes
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: 10 * time.Second}
	}
	if a.authURL == "" {
		a.authURL = authEndpoint
	}
	if a.tokenURL == "" {
		a.tokenURL = tokenEndpoint
	}
	if a.userinfoURL == "" {
		a.userinfoURL = userinfoEndpoint
	}
	if a.revokeURL == "" {
		a.revokeURL = revokeEndpoint
	}
	return a
}

// Name returns the provider tag.
func (a *Adapter) Name() string { return provider.Google }

func (a *Adapter) checkConfig() error {
	if a.clientID == "" || a.clientSecret == "" || a.redirectURL == "" {
		return provider.ErrMissingConfig
	}
	return nil
}

// AuthURL builds the consent-screen URL. access_type=offline asks for a
// refresh token; prompt=consent forces reissue on repeat authorizations.
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
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", p.State)
	q.Set("access_type", "offline")
	q.Set("include_granted_scopes", "true")
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

	return a.tokenGrant(ctx, provider.ErrExchange, form)
}

// Refresh performs the refresh-token grant. Google usually keeps the refresh
// token unrotated, so Grant.RefreshToken is typically empty here.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*provider.Grant, error) {
	if err := a.checkConfig(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)

	return a.tokenGrant(ctx, provider.ErrRefresh, form)
}

func (a *Adapter) tokenGrant(ctx context.Context, kind error, form url.Values) (*provider.Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Google, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Google, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var te tokenError
		_ = json.NewDecoder(resp.Body).Decode(&te)
		return nil, &provider.FlowError{
			Kind:       kind,
			Provider:   provider.Google,
			StatusCode: resp.StatusCode,
			Code:       te.Error,
			Desc:       te.ErrorDescription,
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Google, StatusCode: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &provider.FlowError{Kind: kind, Provider: provider.Google, StatusCode: resp.StatusCode, Desc: "no access_token in response"}
	}

	return &provider.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
		Scope:        tr.Scope,
		IDToken:      tr.IDToken,
	}, nil
}

type userinfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// FetchProfile resolves the Google account behind accessToken via the OIDC
// userinfo endpoint.
func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*provider.Profile, error) {
	if err := a.checkConfig(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userinfoURL, nil)
	if err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Google, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Google, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Google, StatusCode: resp.StatusCode}
	}

	var ui userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Google, StatusCode: resp.StatusCode, Err: err}
	}
	if ui.Sub == "" {
		return nil, &provider.FlowError{Kind: provider.ErrProfile, Provider: provider.Google, StatusCode: resp.StatusCode, Desc: "no sub in userinfo"}
	}

	return &provider.Profile{
		ExternalAccountID: ui.Sub,
		Email:             ui.Email,
	}, nil
}

// Revoke invalidates a token at Google's revocation endpoint. Revoking a
// refresh token also revokes the access tokens minted from it.
func (a *Adapter) Revoke(ctx context.Context, token string) error {
	if err := a.checkConfig(); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &provider.FlowError{Kind: provider.ErrRevoke, Provider: provider.Google, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return &provider.FlowError{Kind: provider.ErrRevoke, Provider: provider.Google, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &provider.FlowError{Kind: provider.ErrRevoke, Provider: provider.Google, StatusCode: resp.StatusCode}
	}
	return nil
}
