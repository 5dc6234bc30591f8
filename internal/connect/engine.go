// Package connect implements the token lifecycle engine: the orchestrator
// driving authorize → callback → store and the ensure-fresh-token pipeline.
//
// The engine composes four collaborators it never reaches around: the state
// signer (anti-forgery), the provider adapters (wire protocol), the
// secretbox (tokens at rest) and the credential store (persistence). It
// holds no credential state of its own beyond a single operation's scope.
package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inboxly/mailvault/internal/metrics"
	"github.com/inboxly/mailvault/internal/observability/logger"
	"github.com/inboxly/mailvault/internal/provider"
	"github.com/inboxly/mailvault/internal/security/oauthstate"
	"github.com/inboxly/mailvault/internal/security/secretbox"
	"github.com/inboxly/mailvault/internal/store"
)

// DefaultSafetyBuffer is subtracted from a token's nominal expiry before the
// freshness check, absorbing clock skew and in-flight latency. A token
// within the buffer is treated as stale and refreshed early.
const DefaultSafetyBuffer = 2 * time.Minute

var (
	// ErrInvalidState: forged, stale or corrupted redirect state. The
	// caller responds unauthorized and must not proceed to the exchange.
	ErrInvalidState = errors.New("connect: invalid authorization state")

	// ErrUnknownProvider: no adapter is registered under that tag.
	ErrUnknownProvider = errors.New("connect: unknown provider")
)

// Notifier delivers the "reconnect your account" nudge when a credential
// escalates to reauth-required. Implementations are best-effort; the engine
// logs and swallows their errors.
type Notifier interface {
	NotifyReauthRequired(ctx context.Context, principalID, provider, email string) error
}

// Connection is the public view of a stored credential. It never carries
// ciphertext or plaintext tokens.
type Connection struct {
	PrincipalID       string    `json:"principal_id"`
	Provider          string    `json:"provider"`
	Status            Status    `json:"status"`
	Email             string    `json:"email,omitempty"`
	ExternalAccountID string    `json:"external_account_id,omitempty"`
	TenantID          string    `json:"tenant_id,omitempty"`
	ExpiresAt         time.Time `json:"expires_at,omitempty"`
	GrantedScopes     []string  `json:"granted_scopes,omitempty"`
}

// FreshToken is the result of EnsureFreshAccessToken. AccessToken is set
// only when Status is StatusConnected.
type FreshToken struct {
	Status      Status
	AccessToken string
}

// Engine drives the credential lifecycle for all providers.
type Engine struct {
	store    store.CredentialStore
	box      *secretbox.Box
	signer   *oauthstate.Signer
	adapters map[string]provider.Adapter

	buffer   time.Duration
	now      func() time.Time
	notifier Notifier

	// sf collapses concurrent ensure-fresh calls per (principal, provider)
	// so at most one refresh is in flight and the rest share its result.
	sf singleflight.Group
}

// Option customizes the engine.
type Option func(*Engine)

// WithSafetyBuffer overrides DefaultSafetyBuffer.
func WithSafetyBuffer(d time.Duration) Option {
	return func(e *Engine) { e.buffer = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier enables reconnect notifications.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New builds an engine over the given collaborators.
func New(st store.CredentialStore, box *secretbox.Box, signer *oauthstate.Signer, adapters []provider.Adapter, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		box:      box,
		signer:   signer,
		adapters: make(map[string]provider.Adapter, len(adapters)),
		buffer:   DefaultSafetyBuffer,
		now:      time.Now,
	}
	for _, a := range adapters {
		e.adapters[a.Name()] = a
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Providers lists the registered provider tags.
func (e *Engine) Providers() []string {
	out := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		out = append(out, name)
	}
	return out
}

func (e *Engine) adapter(name string) (provider.Adapter, error) {
	a, ok := e.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return a, nil
}

// StartAuthorization signs a state token for principalID and returns the
// provider's consent URL. Nothing is persisted.
func (e *Engine) StartAuthorization(ctx context.Context, principalID, providerName string) (string, error) {
	a, err := e.adapter(providerName)
	if err != nil {
		return "", err
	}
	state, err := e.signer.Create(principalID)
	if err != nil {
		return "", fmt.Errorf("connect: sign state: %w", err)
	}
	return a.AuthURL(ctx, provider.AuthURLParams{
		State:         state,
		PromptConsent: true,
	})
}

// CompleteAuthorization verifies state, exchanges the code, resolves the
// provider identity, encrypts the tokens and upserts the credential. On
// success it returns the stored record's public view.
func (e *Engine) CompleteAuthorization(ctx context.Context, providerName, code, state string) (*Connection, error) {
	log := logger.From(ctx).With(logger.Layer("engine"), logger.Op("CompleteAuthorization"), logger.Provider(providerName))

	a, err := e.adapter(providerName)
	if err != nil {
		return nil, err
	}

	payload, err := e.signer.Parse(state)
	if err != nil {
		metrics.CodeExchanges.WithLabelValues(providerName, "invalid_state").Inc()
		log.Warn("state verification failed", logger.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	log = log.With(logger.PrincipalID(payload.PrincipalID))

	grant, err := a.ExchangeCode(ctx, code)
	if err != nil {
		metrics.CodeExchanges.WithLabelValues(providerName, "exchange_failed").Inc()
		log.Error("code exchange failed", logger.Err(err))
		return nil, err
	}

	profile, err := a.FetchProfile(ctx, grant.AccessToken)
	if err != nil {
		metrics.CodeExchanges.WithLabelValues(providerName, "profile_failed").Inc()
		log.Error("profile fetch failed", logger.Err(err))
		return nil, err
	}

	now := e.now().UTC()
	encAccess, err := e.box.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connect: encrypt access token: %w", err)
	}
	encRefresh := ""
	if grant.RefreshToken != "" {
		if encRefresh, err = e.box.Encrypt(grant.RefreshToken); err != nil {
			return nil, fmt.Errorf("connect: encrypt refresh token: %w", err)
		}
	}

	rec := &store.Credential{
		PrincipalID:           payload.PrincipalID,
		Provider:              providerName,
		ExternalAccountID:     profile.ExternalAccountID,
		Email:                 profile.Email,
		TenantID:              profile.TenantID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             now.Add(time.Duration(grant.ExpiresIn) * time.Second),
		GrantedScopes:         splitScopes(grant.Scope),
	}
	stored, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("connect: persist credential: %w", err)
	}

	metrics.CodeExchanges.WithLabelValues(providerName, "ok").Inc()
	log.Info("mailbox connected",
		logger.Email(stored.Email),
		logger.Bool("offline_access", stored.HasRefreshToken()),
	)
	return publicView(stored, StatusConnected), nil
}

// EnsureFreshAccessToken returns a live plaintext access token for the pair,
// refreshing lazily when the stored one is inside the safety buffer.
// Lifecycle outcomes (not connected, terminal expiry, reauth required) are
// statuses, not errors; the error path is reserved for store I/O and
// configuration problems.
func (e *Engine) EnsureFreshAccessToken(ctx context.Context, principalID, providerName string) (*FreshToken, error) {
	if _, err := e.adapter(providerName); err != nil {
		return nil, err
	}

	v, err, _ := e.sf.Do(principalID+"\x00"+providerName, func() (any, error) {
		return e.ensureFresh(ctx, principalID, providerName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FreshToken), nil
}

func (e *Engine) ensureFresh(ctx context.Context, principalID, providerName string) (*FreshToken, error) {
	log := logger.From(ctx).With(
		logger.Layer("engine"), logger.Op("EnsureFreshAccessToken"),
		logger.PrincipalID(principalID), logger.Provider(providerName),
	)

	rec, err := e.store.Get(ctx, principalID, providerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &FreshToken{Status: StatusNotConnected}, nil
		}
		return nil, fmt.Errorf("connect: load credential: %w", err)
	}

	accessToken, err := e.box.Decrypt(rec.EncryptedAccessToken)
	if err != nil {
		// key rotation or storage corruption: the credential cannot be
		// trusted, force re-consent instead of guessing
		metrics.TokenRefreshes.WithLabelValues(providerName, "decrypt_failed").Inc()
		log.Warn("stored access token no longer decrypts", logger.Err(err))
		e.notifyReauth(ctx, rec)
		return &FreshToken{Status: StatusReauthRequired}, nil
	}

	now := e.now()
	if now.Before(rec.ExpiresAt.Add(-e.buffer)) {
		return &FreshToken{Status: StatusConnected, AccessToken: accessToken}, nil
	}

	if !rec.HasRefreshToken() {
		log.Info("access token stale and no refresh token granted")
		return &FreshToken{Status: StatusTokenExpiredNoRefresh}, nil
	}

	refreshToken, err := e.box.Decrypt(rec.EncryptedRefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(providerName, "decrypt_failed").Inc()
		log.Warn("stored refresh token no longer decrypts", logger.Err(err))
		e.notifyReauth(ctx, rec)
		return &FreshToken{Status: StatusReauthRequired}, nil
	}

	a, err := e.adapter(providerName)
	if err != nil {
		return nil, err
	}
	grant, err := a.Refresh(ctx, refreshToken)
	if err != nil {
		// the record stays so status and metadata remain visible, but
		// the connection is unusable until the user re-consents
		metrics.TokenRefreshes.WithLabelValues(providerName, "refresh_failed").Inc()
		log.Warn("refresh rejected, escalating to reauth", logger.Err(err))
		e.notifyReauth(ctx, rec)
		return &FreshToken{Status: StatusReauthRequired}, nil
	}

	now = e.now().UTC()
	encAccess, err := e.box.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connect: encrypt access token: %w", err)
	}
	rec.EncryptedAccessToken = encAccess
	rec.ExpiresAt = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	if grant.RefreshToken != "" {
		// provider rotated the refresh token; absence means keep the
		// previous ciphertext untouched
		encRefresh, err := e.box.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("connect: encrypt refresh token: %w", err)
		}
		rec.EncryptedRefreshToken = encRefresh
	}
	if grant.Scope != "" {
		rec.GrantedScopes = splitScopes(grant.Scope)
	}

	if _, err := e.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("connect: persist refreshed credential: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues(providerName, "ok").Inc()
	log.Info("access token refreshed", logger.String("expires_at", rec.ExpiresAt.Format(time.RFC3339)))
	return &FreshToken{Status: StatusConnected, AccessToken: grant.AccessToken}, nil
}

// Status reports the connection state and non-secret metadata for the pair.
// It performs no network calls: a stale-but-refreshable credential still
// reads as connected until the next ensure-fresh attempt decides otherwise.
func (e *Engine) Status(ctx context.Context, principalID, providerName string) (*Connection, error) {
	if _, err := e.adapter(providerName); err != nil {
		return nil, err
	}

	rec, err := e.store.Get(ctx, principalID, providerName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Connection{
				PrincipalID: principalID,
				Provider:    providerName,
				Status:      StatusNotConnected,
			}, nil
		}
		return nil, fmt.Errorf("connect: load credential: %w", err)
	}

	status := StatusConnected
	switch {
	case !e.decryptable(rec.EncryptedAccessToken):
		status = StatusReauthRequired
	case !e.now().Before(rec.ExpiresAt.Add(-e.buffer)) && !rec.HasRefreshToken():
		status = StatusTokenExpiredNoRefresh
	}
	return publicView(rec, status), nil
}

// Disconnect revokes the tokens provider-side (best effort) and deletes the
// credential. Idempotent: a second call finds nothing and succeeds.
func (e *Engine) Disconnect(ctx context.Context, principalID, providerName string) error {
	log := logger.From(ctx).With(
		logger.Layer("engine"), logger.Op("Disconnect"),
		logger.PrincipalID(principalID), logger.Provider(providerName),
	)

	a, err := e.adapter(providerName)
	if err != nil {
		return err
	}

	rec, err := e.store.Get(ctx, principalID, providerName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("connect: load credential: %w", err)
	}

	if rec != nil {
		// revoke with the refresh token when we have one (it cascades to
		// access tokens); failures are logged, never propagated
		if token := e.revocableToken(rec); token != "" {
			if err := a.Revoke(ctx, token); err != nil {
				log.Warn("provider revocation failed", logger.Err(err))
			}
		}
	}

	if err := e.store.Delete(ctx, principalID, providerName); err != nil {
		return fmt.Errorf("connect: delete credential: %w", err)
	}
	metrics.Disconnects.WithLabelValues(providerName).Inc()
	log.Info("mailbox disconnected")
	return nil
}

func (e *Engine) revocableToken(rec *store.Credential) string {
	if rec.HasRefreshToken() {
		if t, err := e.box.Decrypt(rec.EncryptedRefreshToken); err == nil {
			return t
		}
	}
	if t, err := e.box.Decrypt(rec.EncryptedAccessToken); err == nil {
		return t
	}
	return ""
}

func (e *Engine) decryptable(cipherText string) bool {
	_, err := e.box.Decrypt(cipherText)
	return err == nil
}

func (e *Engine) notifyReauth(ctx context.Context, rec *store.Credential) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyReauthRequired(ctx, rec.PrincipalID, rec.Provider, rec.Email); err != nil {
		logger.From(ctx).Warn("reauth notification failed",
			logger.PrincipalID(rec.PrincipalID),
			logger.Provider(rec.Provider),
			logger.Err(err),
		)
	}
}

func publicView(rec *store.Credential, status Status) *Connection {
	return &Connection{
		PrincipalID:       rec.PrincipalID,
		Provider:          rec.Provider,
		Status:            status,
		Email:             rec.Email,
		ExternalAccountID: rec.ExternalAccountID,
		TenantID:          rec.TenantID,
		ExpiresAt:         rec.ExpiresAt,
		GrantedScopes:     rec.GrantedScopes,
	}
}

func splitScopes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
