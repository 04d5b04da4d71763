package tokens

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"tether/cmd/identity/ids"
)

// AccessClaims is the identity carried by an access token.
type AccessClaims struct {
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// accessManager signs and parses PASETO v4.public access tokens.
type accessManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newAccessManager(cfg Config) (*accessManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &accessManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *accessManager) issue(userID string, now time.Time) (string, time.Time, error) {
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetJti(jti)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", userID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// parse checks signature and issuer only. Expiry is left to the caller so rotation can accept an
// expired access token while the handshake cannot.
func (m *accessManager) parse(token string) (AccessClaims, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	return AccessClaims{UserID: uid, ExpiresAt: exp, IssuedAt: iat, Issuer: iss}, nil
}

func (m *accessManager) verify(token string, now time.Time) (AccessClaims, error) {
	c, err := m.parse(token)
	if err != nil {
		return AccessClaims{}, err
	}
	if now.After(c.ExpiresAt.Add(m.clockSkew)) {
		return AccessClaims{}, ErrInvalidToken
	}
	if !c.IssuedAt.IsZero() && c.IssuedAt.After(now.Add(m.clockSkew)) {
		return AccessClaims{}, ErrInvalidToken
	}
	return c, nil
}
