// Package tokens issues, rotates and revokes tether credentials.
//
// A credential pair is a short-lived PASETO v4.public access token and a longer-lived HS256 JWT
// refresh token. Access tokens are stateless. Refresh tokens are backed by a Record whose hash is
// replaced in place on every rotation, so a refresh token is usable exactly once.
//
// Rotation is idempotent per pair: retries of the same (access, refresh) pair, concurrent or not,
// share one rotation and one result for the lifetime of the rotation cache.
package tokens
