// Package token holds the hashing primitives used for refresh tokens and rotation keys.
//
// Refresh tokens are never stored in plaintext: the store keeps HashRefreshTokenHex(token),
// which is HMAC-SHA256 when TETHER_TOKEN_HMAC_KEY is set and SHA-256 otherwise.
//
// Rotation requests are keyed by a Digester: a keyed BLAKE3 digest over the exact
// (access, refresh) pair, so the idempotency cache never holds raw credentials.
package token
