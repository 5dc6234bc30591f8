// Package secretbox encrypts OAuth tokens at rest with AES-256-GCM.
//
// Payload format: base64(nonce) + "|" + base64(ciphertext). The GCM tag is
// part of the ciphertext blob, so a payload is fully self-describing and
// reversible with the same key.
//
// Key policy: the configured master secret may be material of any non-empty
// length; the 32-byte AES key is derived from it with HKDF-SHA256 and a fixed
// info string. An empty secret is rejected at construction, never silently
// replaced by a default.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSizeGCM = 12 // 96-bit nonce, fresh per Encrypt
	keyLength    = 32 // AES-256
	sep          = "|"

	hkdfInfo = "mailvault/token-secretbox/v1"
)

var (
	// ErrNoKey indicates missing master secret. Fatal configuration error.
	ErrNoKey = errors.New("secretbox: master secret not configured")

	// ErrDecryptFailed covers malformed payloads and GCM authentication
	// failures. Callers map it to a forced re-consent, never to a retry.
	ErrDecryptFailed = errors.New("secretbox: decrypt failed")
)

// Box seals and opens token payloads under one derived key. Immutable after
// construction, safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New derives the AES key from secret and builds the AEAD once.
func New(secret string) (*Box, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoKey
	}

	key := make([]byte, keyLength)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: cipher.NewGCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plainText and returns base64(nonce)|base64(ciphertext).
// Every call draws a fresh random nonce, so equal inputs produce distinct
// payloads.
func (b *Box) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}

	ct := b.aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt parses base64(nonce)|base64(ciphertext), verifies the tag and
// returns the plaintext. Any parse or authentication problem comes back as
// ErrDecryptFailed; no partial plaintext is ever returned.
func (b *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected base64(nonce)|base64(ciphertext)", ErrDecryptFailed)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce: %v", ErrDecryptFailed, err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecryptFailed, err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecryptFailed, nonceSizeGCM, len(nonce))
	}

	pt, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm auth", ErrDecryptFailed)
	}
	return string(pt), nil
}
