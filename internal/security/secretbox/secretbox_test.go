package secretbox

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	b, err := New("unit-test-master-secret")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return b
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	box := newTestBox(t)

	msg := "ya29.a0AfB_byDEADBEEF ✓ — token"
	ct, err := box.Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	pt, err := box.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestEncrypt_NonceFreshness(t *testing.T) {
	t.Parallel()
	box := newTestBox(t)

	ct1, err := box.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	ct2, err := box.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	if ct1 == ct2 {
		t.Fatalf("two encryptions of the same input produced identical payloads")
	}
	for _, ct := range []string{ct1, ct2} {
		pt, err := box.Decrypt(ct)
		if err != nil || pt != "same input" {
			t.Fatalf("Decrypt(%q) = %q, %v", ct, pt, err)
		}
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()
	box := newTestBox(t)

	ct, err := box.Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}

	// flip every byte in turn; each corruption must fail authentication
	for i := range bs {
		mutated := make([]byte, len(bs))
		copy(mutated, bs)
		mutated[i] ^= 0x01
		corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(mutated)

		pt, err := box.Decrypt(corrupted)
		if err == nil {
			t.Fatalf("byte %d: expected auth error, got plaintext %q", i, pt)
		}
		if !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("byte %d: expected ErrDecryptFailed, got %v", i, err)
		}
	}
}

func TestDecrypt_MalformedPayloads(t *testing.T) {
	t.Parallel()
	box := newTestBox(t)

	for _, payload := range []string{
		"",
		"no separator",
		"a|b|c",
		"!!!|AAAA",
		"AAAA|!!!",
		base64.StdEncoding.EncodeToString([]byte("short")) + "|AAAA", // bad nonce length
	} {
		if _, err := box.Decrypt(payload); !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("Decrypt(%q): expected ErrDecryptFailed, got %v", payload, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	t.Parallel()
	box := newTestBox(t)
	other, err := New("a different master secret")
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	ct, err := box.Encrypt("rotated away")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	if _, err := other.Decrypt(ct); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed under wrong key, got %v", err)
	}
}

func TestNew_ErrorWhenNoKey(t *testing.T) {
	t.Parallel()
	for _, secret := range []string{"", "   "} {
		if _, err := New(secret); !errors.Is(err, ErrNoKey) {
			t.Fatalf("New(%q): expected ErrNoKey, got %v", secret, err)
		}
	}
}
