package app

import (
	"errors"
	"fmt"

	"tether/cmd/security/token"
)

const minTokenHMACKeyBytes = 32

// ValidateSecurityConfig fails startup when TETHER_REQUIRE_TOKEN_HMAC is set without a usable
// TETHER_TOKEN_HMAC_KEY.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	_, err := token.HMACKeyFromEnv(minTokenHMACKeyBytes)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return fmt.Errorf("security: %s is required when TETHER_REQUIRE_TOKEN_HMAC=true", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return fmt.Errorf("security: %s must be at least %d bytes", token.HMACEnvKey, minTokenHMACKeyBytes)
	default:
		return err
	}
	if !token.HMACEnabled() {
		return errors.New("security: refresh token hashing is not in HMAC mode")
	}
	return nil
}
