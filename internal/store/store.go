// Package store defines the persistence boundary for mailbox credentials:
// one record per (principal, provider), upsert semantics, no business logic.
// The store never decrypts, never checks expiry, never talks to providers.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no credential exists for the pair.
var ErrNotFound = errors.New("store: credential not found")

// Credential is the persisted record for one mailbox connection. Token
// fields hold secretbox ciphertext; plaintext never reaches this layer.
type Credential struct {
	PrincipalID string
	Provider    string

	// Provider-side identity, informational.
	ExternalAccountID string
	Email             string
	TenantID          string

	EncryptedAccessToken  string
	EncryptedRefreshToken string // empty when offline access was not granted

	// ExpiresAt is computed from the issuer's expires_in at exchange or
	// refresh time, never taken from client input.
	ExpiresAt time.Time

	GrantedScopes []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRefreshToken reports whether offline access was granted.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.EncryptedRefreshToken != ""
}

// CredentialStore is the interface the lifecycle engine depends on.
type CredentialStore interface {
	// Get loads the credential for (principalID, provider) or ErrNotFound.
	Get(ctx context.Context, principalID, provider string) (*Credential, error)

	// Upsert inserts or atomically replaces the record keyed by
	// (principalID, provider). Last write wins; each write is
	// individually self-consistent. Returns the stored record with
	// bookkeeping timestamps filled in.
	Upsert(ctx context.Context, c *Credential) (*Credential, error)

	// Delete removes the record. Idempotent: deleting a missing record
	// is not an error.
	Delete(ctx context.Context, principalID, provider string) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
