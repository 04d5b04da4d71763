package token

import "errors"

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
	ErrDigestKey       = errors.New("digest key must be 32 bytes hex")
)
