package connect

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inboxly/mailvault/internal/provider"
	"github.com/inboxly/mailvault/internal/security/oauthstate"
	"github.com/inboxly/mailvault/internal/security/secretbox"
	"github.com/inboxly/mailvault/internal/store"
	"github.com/inboxly/mailvault/internal/store/memory"
)

// fakeAdapter scripts provider behavior and counts calls.
type fakeAdapter struct {
	name string

	exchangeGrant *provider.Grant
	exchangeErr   error
	refreshGrant  *provider.Grant
	refreshErr    error
	profile       *provider.Profile
	refreshDelay  time.Duration

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	revokeCalls   atomic.Int32
	revokeErr     error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) AuthURL(_ context.Context, p provider.AuthURLParams) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(p.State), nil
}

func (f *fakeAdapter) ExchangeCode(context.Context, string) (*provider.Grant, error) {
	f.exchangeCalls.Add(1)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeGrant, nil
}

func (f *fakeAdapter) Refresh(context.Context, string) (*provider.Grant, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshGrant, nil
}

func (f *fakeAdapter) FetchProfile(context.Context, string) (*provider.Profile, error) {
	if f.profile != nil {
		return f.profile, nil
	}
	return &provider.Profile{ExternalAccountID: "ext-1", Email: "user@example.com"}, nil
}

func (f *fakeAdapter) Revoke(context.Context, string) error {
	f.revokeCalls.Add(1)
	return f.revokeErr
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) NotifyReauthRequired(_ context.Context, principalID, providerName, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, principalID+"/"+providerName)
	return nil
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	box      *secretbox.Box
	signer   *oauthstate.Signer
	adapter  *fakeAdapter
	notifier *fakeNotifier
	now      time.Time
	setNow   func(time.Time)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	box, err := secretbox.New("engine-test-master-secret")
	require.NoError(t, err)
	signer, err := oauthstate.New("engine-test-state-secret")
	require.NoError(t, err)

	f := &fixture{
		store:    memory.New(),
		box:      box,
		signer:   signer,
		adapter:  &fakeAdapter{name: "google"},
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.setNow = func(tm time.Time) { f.now = tm }

	all := append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithNotifier(f.notifier),
	}, opts...)
	f.engine = New(f.store, box, signer, []provider.Adapter{f.adapter}, all...)
	return f
}

// seed persists an encrypted credential directly through the store.
func (f *fixture) seed(t *testing.T, accessToken, refreshToken string, expiresAt time.Time) *store.Credential {
	t.Helper()
	encAccess, err := f.box.Encrypt(accessToken)
	require.NoError(t, err)
	encRefresh := ""
	if refreshToken != "" {
		encRefresh, err = f.box.Encrypt(refreshToken)
		require.NoError(t, err)
	}
	rec, err := f.store.Upsert(context.Background(), &store.Credential{
		PrincipalID:           "user-42",
		Provider:              "google",
		Email:                 "user@example.com",
		ExternalAccountID:     "ext-1",
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             expiresAt,
		GrantedScopes:         []string{"openid", "email"},
	})
	require.NoError(t, err)
	return rec
}

func TestStartAuthorization_SignsStateForPrincipal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	raw, err := f.engine.StartAuthorization(context.Background(), "user-42", "google")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	payload, err := f.signer.Parse(u.Query().Get("state"))
	require.NoError(t, err)
	require.Equal(t, "user-42", payload.PrincipalID)
}

func TestStartAuthorization_UnknownProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.StartAuthorization(context.Background(), "user-42", "yahoo")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCompleteAuthorization_StoresEncryptedGrant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.exchangeGrant = &provider.Grant{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresIn:    3600,
		Scope:        "openid email gmail.readonly",
	}

	// state produced five seconds before the callback arrives
	state, err := f.signer.Create("user-42")
	require.NoError(t, err)
	f.setNow(f.now.Add(5 * time.Second))

	conn, err := f.engine.CompleteAuthorization(context.Background(), "google", "auth-code-123", state)
	require.NoError(t, err)
	require.Equal(t, StatusConnected, conn.Status)
	require.Equal(t, "user-42", conn.PrincipalID)
	require.Equal(t, "user@example.com", conn.Email)
	require.Equal(t, []string{"openid", "email", "gmail.readonly"}, conn.GrantedScopes)

	rec, err := f.store.Get(context.Background(), "user-42", "google")
	require.NoError(t, err)

	at, err := f.box.Decrypt(rec.EncryptedAccessToken)
	require.NoError(t, err)
	require.Equal(t, "AT1", at)
	rt, err := f.box.Decrypt(rec.EncryptedRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "RT1", rt)

	require.WithinDuration(t, f.now.Add(3600*time.Second), rec.ExpiresAt, time.Second)

	// ciphertext, not plaintext, went to the store
	require.NotContains(t, rec.EncryptedAccessToken, "AT1")
	require.NotContains(t, rec.EncryptedRefreshToken, "RT1")
}

func TestCompleteAuthorization_ForeignStateNeverReachesProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.exchangeGrant = &provider.Grant{AccessToken: "AT1", ExpiresIn: 3600}

	foreign, err := oauthstate.New("some-other-secret")
	require.NoError(t, err)
	state, err := foreign.Create("user-42")
	require.NoError(t, err)

	_, err = f.engine.CompleteAuthorization(context.Background(), "google", "auth-code-123", state)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Zero(t, f.adapter.exchangeCalls.Load(), "exchangeCode must not be invoked on invalid state")
}

func TestCompleteAuthorization_ExchangeFailurePropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.exchangeErr = &provider.FlowError{Kind: provider.ErrExchange, Provider: "google", StatusCode: 400, Code: "invalid_grant"}

	state, err := f.signer.Create("user-42")
	require.NoError(t, err)

	_, err = f.engine.CompleteAuthorization(context.Background(), "google", "bad-code", state)
	require.ErrorIs(t, err, provider.ErrExchange)
	require.Equal(t, 0, f.store.Len())
}

func TestEnsureFresh_NotConnected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusNotConnected, tok.Status)
	require.Empty(t, tok.AccessToken)
}

func TestEnsureFresh_CachedWhenComfortablyFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "AT-cached", "RT1", f.now.Add(DefaultSafetyBuffer+time.Hour))

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusConnected, tok.Status)
	require.Equal(t, "AT-cached", tok.AccessToken)
	require.Zero(t, f.adapter.refreshCalls.Load(), "no refresh expected for a fresh token")
}

func TestEnsureFresh_BoundaryJustInsideBufferRefreshes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.refreshGrant = &provider.Grant{AccessToken: "AT2", ExpiresIn: 3600}
	// one millisecond short of the edge of the buffer: stale
	f.seed(t, "AT1", "RT1", f.now.Add(DefaultSafetyBuffer-time.Millisecond))

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusConnected, tok.Status)
	require.Equal(t, "AT2", tok.AccessToken)
	require.Equal(t, int32(1), f.adapter.refreshCalls.Load())
}

func TestEnsureFresh_RefreshPreservesUnrotatedRefreshToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Google-style refresh: no new refresh token in the response
	f.adapter.refreshGrant = &provider.Grant{AccessToken: "AT2", ExpiresIn: 3600}
	seeded := f.seed(t, "AT1", "RT1", f.now.Add(-time.Minute))

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusConnected, tok.Status)

	rec, err := f.store.Get(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, seeded.EncryptedRefreshToken, rec.EncryptedRefreshToken,
		"refresh token ciphertext must be untouched when the provider does not rotate")

	at, err := f.box.Decrypt(rec.EncryptedAccessToken)
	require.NoError(t, err)
	require.Equal(t, "AT2", at)
	require.WithinDuration(t, f.now.Add(time.Hour), rec.ExpiresAt, time.Second)
}

func TestEnsureFresh_RefreshRotationPersistsNewToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Microsoft-style refresh: rotated refresh token
	f.adapter.refreshGrant = &provider.Grant{AccessToken: "AT2", RefreshToken: "RT2", ExpiresIn: 3600}
	f.seed(t, "AT1", "RT1", f.now.Add(-time.Minute))

	_, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "user-42", "google")
	require.NoError(t, err)
	rt, err := f.box.Decrypt(rec.EncryptedRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "RT2", rt)
}

func TestEnsureFresh_ExpiredWithoutRefreshTokenIsTerminal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "AT1", "", f.now.Add(-time.Minute))

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusTokenExpiredNoRefresh, tok.Status)
	require.Empty(t, tok.AccessToken)
	require.Zero(t, f.adapter.refreshCalls.Load(), "no network call expected in the terminal state")
}

func TestEnsureFresh_RefreshRejectionEscalatesToReauth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.refreshErr = &provider.FlowError{Kind: provider.ErrRefresh, Provider: "google", StatusCode: 400, Code: "invalid_grant"}
	f.seed(t, "AT1", "RT-revoked", f.now.Add(-time.Minute))

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusReauthRequired, tok.Status)

	// record stays for status visibility
	_, err = f.store.Get(context.Background(), "user-42", "google")
	require.NoError(t, err)

	// the reconnect nudge went out
	require.Equal(t, []string{"user-42/google"}, f.notifier.calls)
}

func TestEnsureFresh_UndecryptableCiphertextForcesReauth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// credential written under a rotated-away key
	oldBox, err := secretbox.New("the-previous-master-secret")
	require.NoError(t, err)
	encAccess, err := oldBox.Encrypt("AT1")
	require.NoError(t, err)
	_, err = f.store.Upsert(context.Background(), &store.Credential{
		PrincipalID:          "user-42",
		Provider:             "google",
		EncryptedAccessToken: encAccess,
		ExpiresAt:            f.now.Add(time.Hour),
	})
	require.NoError(t, err)

	tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
	require.NoError(t, err)
	require.Equal(t, StatusReauthRequired, tok.Status)
	require.Zero(t, f.adapter.refreshCalls.Load())
}

func TestEnsureFresh_SingleFlightCollapsesConcurrentRefreshes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.refreshGrant = &provider.Grant{AccessToken: "AT2", ExpiresIn: 3600}
	f.adapter.refreshDelay = 50 * time.Millisecond
	f.seed(t, "AT1", "RT1", f.now.Add(-time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*FreshToken, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := f.engine.EnsureFreshAccessToken(context.Background(), "user-42", "google")
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range results {
		require.Equal(t, StatusConnected, tok.Status)
		require.Equal(t, "AT2", tok.AccessToken)
	}
	require.Equal(t, int32(1), f.adapter.refreshCalls.Load(), "concurrent callers must share one refresh")
}

func TestStatus_Vocabulary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)
		conn, err := f.engine.Status(ctx, "user-42", "google")
		require.NoError(t, err)
		require.Equal(t, StatusNotConnected, conn.Status)
	})

	t.Run("connected with metadata", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "AT1", "RT1", f.now.Add(time.Hour))
		conn, err := f.engine.Status(ctx, "user-42", "google")
		require.NoError(t, err)
		require.Equal(t, StatusConnected, conn.Status)
		require.Equal(t, "user@example.com", conn.Email)
		require.Equal(t, []string{"openid", "email"}, conn.GrantedScopes)
	})

	t.Run("expired without refresh", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "AT1", "", f.now.Add(-time.Minute))
		conn, err := f.engine.Status(ctx, "user-42", "google")
		require.NoError(t, err)
		require.Equal(t, StatusTokenExpiredNoRefresh, conn.Status)
	})

	t.Run("undecryptable reads as reauth required", func(t *testing.T) {
		f := newFixture(t)
		oldBox, err := secretbox.New("rotated-away")
		require.NoError(t, err)
		enc, err := oldBox.Encrypt("AT1")
		require.NoError(t, err)
		_, err = f.store.Upsert(ctx, &store.Credential{
			PrincipalID:          "user-42",
			Provider:             "google",
			EncryptedAccessToken: enc,
			ExpiresAt:            f.now.Add(time.Hour),
		})
		require.NoError(t, err)

		conn, err := f.engine.Status(ctx, "user-42", "google")
		require.NoError(t, err)
		require.Equal(t, StatusReauthRequired, conn.Status)
	})
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, "AT1", "RT1", f.now.Add(time.Hour))

	require.NoError(t, f.engine.Disconnect(context.Background(), "user-42", "google"))
	require.Equal(t, 0, f.store.Len())
	require.Equal(t, int32(1), f.adapter.revokeCalls.Load())

	// second call: nothing to revoke, nothing to delete, still no error
	require.NoError(t, f.engine.Disconnect(context.Background(), "user-42", "google"))
	require.Equal(t, 0, f.store.Len())
	require.Equal(t, int32(1), f.adapter.revokeCalls.Load())
}

func TestDisconnect_RevocationFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.adapter.revokeErr = errors.New("idp outage")
	f.seed(t, "AT1", "RT1", f.now.Add(time.Hour))

	require.NoError(t, f.engine.Disconnect(context.Background(), "user-42", "google"))
	require.Equal(t, 0, f.store.Len())
}
