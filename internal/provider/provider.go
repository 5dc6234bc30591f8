// Package provider defines the contract every mail provider adapter
// implements: building the consent URL, exchanging an authorization code,
// refreshing an access token and resolving the provider-side identity.
//
// Adapters are dumb wire clients. They never retry, never persist, never
// decide user-facing outcomes; they fail with a typed FlowError and leave the
// policy to the lifecycle engine.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Known provider tags.
const (
	Google    = "google"
	Microsoft = "microsoft"
)

// Failure kinds. A FlowError unwraps to exactly one of these so callers can
// branch with errors.Is without knowing provider-specific shapes.
var (
	ErrExchange = errors.New("provider: code exchange failed")
	ErrRefresh  = errors.New("provider: token refresh failed")
	ErrProfile  = errors.New("provider: profile fetch failed")
	ErrRevoke   = errors.New("provider: token revocation failed")

	// ErrMissingConfig means client id/secret/redirect URI (or the
	// Microsoft tenant) were never configured. Raised on first real use.
	ErrMissingConfig = errors.New("provider: missing client configuration")
)

// FlowError carries the provider's raw rejection for one OAuth step.
type FlowError struct {
	Kind       error  // one of ErrExchange, ErrRefresh, ErrProfile, ErrRevoke
	Provider   string // provider tag
	StatusCode int    // HTTP status, 0 on transport errors
	Code       string // provider "error" field when present
	Desc       string // provider "error_description" when present
	Err        error  // underlying transport/decode error
}

func (e *FlowError) Error() string {
	msg := fmt.Sprintf("%v (%s", e.Kind, e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", http %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ", " + e.Code
	}
	if e.Desc != "" {
		msg += ": " + e.Desc
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// AuthURLParams parameterizes the consent URL.
type AuthURLParams struct {
	State  string
	Scopes []string

	// PromptConsent forces the provider's consent screen so a refresh
	// token is guaranteed to be issued even on repeat authorizations.
	PromptConsent bool
}

// Grant is the normalized result of a code exchange or refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not (re)issue one
	ExpiresIn    int    // seconds, from the token issuer
	Scope        string // space-joined scopes actually granted
	IDToken      string // OIDC id_token when present, informational
}

// Profile is the provider-side identity behind an access token.
type Profile struct {
	ExternalAccountID string
	Email             string
	TenantID          string // Microsoft directory id, empty elsewhere
}

// Adapter is the per-provider contract the lifecycle engine composes.
type Adapter interface {
	// Name returns the provider tag (google, microsoft).
	Name() string

	// AuthURL deterministically builds the authorization endpoint URL.
	AuthURL(ctx context.Context, p AuthURLParams) (string, error)

	// ExchangeCode performs the authorization-code grant.
	ExchangeCode(ctx context.Context, code string) (*Grant, error)

	// Refresh performs the refresh-token grant.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)

	// FetchProfile resolves the identity behind accessToken.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// Revoke invalidates a token provider-side. Best effort; providers
	// without a revocation endpoint return nil.
	Revoke(ctx context.Context, token string) error
}
