package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHashRefreshTokenHexModes(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := HashRefreshTokenHex("refresh-1")
	if plain != HashSHA256Hex("refresh-1") {
		t.Fatalf("expected SHA-256 mode without key")
	}
	if len(plain) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(plain))
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	keyed := HashRefreshTokenHex("refresh-1")
	if keyed == plain {
		t.Fatalf("expected HMAC mode to differ from SHA-256")
	}
	if !HMACEnabled() {
		t.Fatalf("expected HMACEnabled")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}

func TestPairDigest(t *testing.T) {
	t.Parallel()

	d, err := NewDigester([]byte(strings.Repeat("d", 32)))
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}

	a := d.PairDigest("access", "refresh")
	if a != d.PairDigest("access", "refresh") {
		t.Fatalf("digest must be deterministic")
	}
	if a == d.PairDigest("refresh", "access") {
		t.Fatalf("digest must depend on field order")
	}
	if d.PairDigest("ab", "c") == d.PairDigest("a", "bc") {
		t.Fatalf("digest must not collide on shifted boundaries")
	}

	other, _ := NewDigester([]byte(strings.Repeat("e", 32)))
	if a == other.PairDigest("access", "refresh") {
		t.Fatalf("digest must depend on key")
	}

	if _, err := NewDigester([]byte("short")); !errors.Is(err, ErrDigestKey) {
		t.Fatalf("expected ErrDigestKey, got %v", err)
	}
}
