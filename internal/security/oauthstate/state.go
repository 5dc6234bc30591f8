// Package oauthstate issues and verifies the signed state parameter that
// binds an OAuth redirect to the principal who started it.
//
// A state token is a compact HS256 JWT: URL-safe, unpadded, carrying
// {principal id, random nonce, issued-at} and an HMAC-SHA256 signature under
// a server-held secret. Nothing is persisted server-side; the signature plus
// an optional issued-at age bound and one-time-use ledger provide the
// anti-forgery guarantee.
package oauthstate

import (
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Audience distinguishes connect-state tokens from any other JWT this
// service might ever mint.
const Audience = "mailvault-connect-state"

// Verification failures. Parse never panics on attacker-supplied garbage; it
// returns one of these.
var (
	ErrInvalid  = errors.New("oauthstate: invalid state token")
	ErrExpired  = errors.New("oauthstate: state token too old")
	ErrReplayed = errors.New("oauthstate: state token already used")
	ErrNoSecret = errors.New("oauthstate: signing secret not configured")
)

// Payload is what a valid state token decodes to.
type Payload struct {
	PrincipalID string
	Nonce       string
	IssuedAt    time.Time
}

// Signer creates and verifies state tokens. Immutable configuration plus an
// optional nonce ledger; safe for concurrent use.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time

	// used marks consumed nonces for single-use enforcement. Nil disables
	// the ledger (signature + age check only).
	used *gocache.Cache
}

// Option customizes a Signer.
type Option func(*Signer)

// WithMaxAge rejects tokens whose issued-at is older than d. Zero disables
// the age check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) { s.maxAge = d }
}

// WithSingleUse enables the one-time-use ledger. Consumed nonces are
// remembered for ttl; a second Parse of the same state fails with
// ErrReplayed. In-process only: a multi-replica deployment trades this for
// the age bound.
func WithSingleUse(ttl time.Duration) Option {
	return func(s *Signer) { s.used = gocache.New(ttl, 2*ttl) }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// New builds a Signer. An empty secret is a fatal configuration error.
func New(secret string, opts ...Option) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	s := &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create signs a state token for principalID. The nonce is a fresh UUID
// (128-bit random), globally unique per start of the flow.
func (s *Signer) Create(principalID string) (string, error) {
	now := s.now().UTC()
	claims := jwtv5.MapClaims{
		"aud":   Audience,
		"sub":   principalID,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"iatms": now.UnixMilli(),
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Parse verifies the signature (constant-time HMAC comparison inside the JWT
// library) and decodes the payload. Any malformed, tampered, stale or
// replayed token yields a typed error; callers treat all of them as an
// unauthorized redirect.
func (s *Signer) Parse(state string) (*Payload, error) {
	tk, err := jwtv5.Parse(state,
		func(t *jwtv5.Token) (any, error) { return s.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
	)
	if err != nil || !tk.Valid {
		return nil, ErrInvalid
	}

	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalid
	}
	if aud, _ := claims["aud"].(string); aud != Audience {
		return nil, ErrInvalid
	}

	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" || jti == "" {
		return nil, ErrInvalid
	}

	issuedAt := time.Time{}
	if ms, ok := claims["iatms"].(float64); ok {
		issuedAt = time.UnixMilli(int64(ms)).UTC()
	} else if sec, ok := claims["iat"].(float64); ok {
		issuedAt = time.Unix(int64(sec), 0).UTC()
	}
	if issuedAt.IsZero() {
		return nil, ErrInvalid
	}

	if s.maxAge > 0 && s.now().Sub(issuedAt) > s.maxAge {
		return nil, ErrExpired
	}

	if s.used != nil {
		if err := s.used.Add(jti, struct{}{}, gocache.DefaultExpiration); err != nil {
			return nil, ErrReplayed
		}
	}

	return &Payload{
		PrincipalID: sub,
		Nonce:       jti,
		IssuedAt:    issuedAt,
	}, nil
}
