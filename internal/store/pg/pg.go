// Package pg implements the credential store on PostgreSQL via pgxpool.
// The account_credential table is unique-keyed on (principal_id, provider);
// upserts ride on ON CONFLICT DO UPDATE so each write is atomic at the row
// level.
package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxly/mailvault/internal/store"
)

// Store is the PostgreSQL credential store.
type Store struct{ pool *pgxpool.Pool }

// Config tunes the connection pool.
type Config struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// New parses dsn, applies pool tuning and connects.
func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations and metrics.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close closes the pool. Idempotent.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get implements store.CredentialStore.
func (s *Store) Get(ctx context.Context, principalID, provider string) (*store.Credential, error) {
	const q = `
SELECT principal_id, provider, external_account_id, email, tenant_id,
       encrypted_access_token, encrypted_refresh_token,
       expires_at, granted_scopes, created_at, updated_at
  FROM account_credential
 WHERE principal_id = $1 AND provider = $2`

	var c store.Credential
	err := s.pool.QueryRow(ctx, q, principalID, provider).Scan(
		&c.PrincipalID, &c.Provider, &c.ExternalAccountID, &c.Email, &c.TenantID,
		&c.EncryptedAccessToken, &c.EncryptedRefreshToken,
		&c.ExpiresAt, &c.GrantedScopes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert implements store.CredentialStore. The whole row is replaced in one
// statement so a concurrent refresh racing this write can interleave whole
// records but never partial ones.
func (s *Store) Upsert(ctx context.Context, c *store.Credential) (*store.Credential, error) {
	const q = `
INSERT INTO account_credential
    (principal_id, provider, external_account_id, email, tenant_id,
     encrypted_access_token, encrypted_refresh_token, expires_at, granted_scopes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (principal_id, provider) DO UPDATE SET
    external_account_id     = EXCLUDED.external_account_id,
    email                   = EXCLUDED.email,
    tenant_id               = EXCLUDED.tenant_id,
    encrypted_access_token  = EXCLUDED.encrypted_access_token,
    encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
    expires_at              = EXCLUDED.expires_at,
    granted_scopes          = EXCLUDED.granted_scopes,
    updated_at              = now()
RETURNING created_at, updated_at`

	out := *c
	err := s.pool.QueryRow(ctx, q,
		c.PrincipalID, c.Provider, c.ExternalAccountID, c.Email, c.TenantID,
		c.EncryptedAccessToken, c.EncryptedRefreshToken, c.ExpiresAt, c.GrantedScopes,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete implements store.CredentialStore. Deleting a missing row succeeds.
func (s *Store) Delete(ctx context.Context, principalID, provider string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM account_credential WHERE principal_id = $1 AND provider = $2`,
		principalID, provider,
	)
	return err
}
