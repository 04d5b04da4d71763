package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"os"
	"strings"
)

// HMACEnvKey names the refresh-token HMAC secret.
// #nosec G101 -- env var name.
const HMACEnvKey = "TETHER_TOKEN_HMAC_KEY"

func hexSum(h hash.Hash, s string) string {
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func envKey() string {
	return strings.TrimSpace(os.Getenv(HMACEnvKey))
}

// HashSHA256Hex is the unkeyed refresh-token hash.
func HashSHA256Hex(s string) string {
	return hexSum(sha256.New(), s)
}

// HashHMACSHA256Hex is the keyed refresh-token hash.
func HashHMACSHA256Hex(s string, key []byte) string {
	return hexSum(hmac.New(sha256.New, key), s)
}

// HMACKeyFromEnv returns HMACEnvKey as bytes. It fails when unset or shorter than minBytes.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	k := envKey()
	switch {
	case k == "":
		return nil, ErrHMACKeyMissing
	case len(k) < minBytes:
		return nil, ErrHMACKeyTooShort
	}
	return []byte(k), nil
}

func HMACEnabled() bool { return envKey() != "" }

// HashRefreshTokenHex is the default storage hash for refresh tokens.
func HashRefreshTokenHex(token string) string {
	if k := envKey(); k != "" {
		return HashHMACSHA256Hex(token, []byte(k))
	}
	return HashSHA256Hex(token)
}
