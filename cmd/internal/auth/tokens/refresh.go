package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tether/cmd/identity/ids"
)

// refreshManager signs and verifies HS256 refresh JWTs.
type refreshManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

func newRefreshManager(cfg Config) *refreshManager {
	secret := make([]byte, len(cfg.RefreshSecret))
	copy(secret, cfg.RefreshSecret)
	return &refreshManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.RefreshTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
	}
}

func (m *refreshManager) issue(userID string, now time.Time) (string, time.Time, error) {
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(m.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        jti,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// errRefreshExpired marks a well-signed refresh token that is past exp.
var errRefreshExpired = errors.New("refresh token expired")

func (m *refreshManager) verify(token string, now time.Time) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, errRefreshExpired
	default:
		return jwt.RegisteredClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return jwt.RegisteredClaims{}, ErrInvalidToken
	}
	return claims, nil
}
