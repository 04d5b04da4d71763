package tokens

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature, claim or expiry checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRecordNotFound is returned by stores for unknown refresh hashes.
	ErrRecordNotFound = errors.New("refresh token not found")

	// ErrStaleRecord is returned by Store.Rotate when the stored hash changed underneath.
	ErrStaleRecord = errors.New("refresh token already rotated")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")
)
