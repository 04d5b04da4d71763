package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tether/cmd/identity/ids"
	"tether/cmd/internal/errs"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/pairlock"
	"tether/cmd/security/token"
)

// maxTokenLen rejects pathological inputs before any crypto runs.
const maxTokenLen = 4096

// Pair is an issued credential pair.
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Service issues, verifies, rotates and revokes credential pairs.
type Service struct {
	log      *slog.Logger
	access   *accessManager
	refresh  *refreshManager
	store    Store
	digester *token.Digester
	hash     func(string) string
	locks    *pairlock.Locker
	cache    *expirable.LRU[string, Pair]
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTokenHasher overrides how refresh tokens are hashed for storage.
func WithTokenHasher(h func(string) string) Option {
	return func(s *Service) { s.hash = h }
}

// NewService validates cfg and builds a Service. The rotation Locker is private to the Service.
func NewService(log *slog.Logger, cfg Config, store Store, digester *token.Digester, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || digester == nil {
		return nil, errors.New("tokens: store and digester are required")
	}
	access, err := newAccessManager(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	s := &Service{
		log:      log,
		access:   access,
		refresh:  newRefreshManager(cfg),
		store:    store,
		digester: digester,
		hash:     token.HashRefreshTokenHex,
		locks:    pairlock.New(),
		cache:    expirable.NewLRU[string, Pair](cfg.RotationCacheSize, nil, cfg.RotationCacheTTL),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// PublicKeyHex exports the access-token verification key.
func (s *Service) PublicKeyHex() string {
	return s.access.public.ExportHex()
}

// Issue mints a fresh pair for userID and persists its refresh record.
func (s *Service) Issue(ctx context.Context, userID string) (Pair, error) {
	const op = "tokens.Issue"

	if strings.TrimSpace(userID) == "" {
		return Pair{}, errs.E(op, errs.ErrValidation, "user id is required")
	}
	now := s.now().UTC()

	p, err := s.mint(userID, now)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	rec := Record{
		ID:        id,
		UserID:    userID,
		TokenHash: s.hash(p.RefreshToken),
		ExpiresAt: p.RefreshExpiresAt,
		Status:    StatusValid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// VerifyAccess checks an access token's signature, issuer and expiry.
func (s *Service) VerifyAccess(accessToken string) (AccessClaims, error) {
	const op = "tokens.VerifyAccess"

	if accessToken == "" || len(accessToken) > maxTokenLen {
		return AccessClaims{}, errs.E(op, errs.ErrAuthentication, "invalid access token")
	}
	c, err := s.access.verify(accessToken, s.now().UTC())
	if err != nil {
		return AccessClaims{}, errs.E(op, errs.ErrAuthentication, "invalid access token")
	}
	return c, nil
}

// Rotate exchanges a pair for a new one. Retries of the same pair get the same result.
func (s *Service) Rotate(ctx context.Context, accessToken, refreshToken string) (Pair, error) {
	const op = "tokens.Rotate"

	if !plausible(accessToken) || !plausible(refreshToken) {
		return Pair{}, errs.E(op, errs.ErrAuthentication, "invalid credentials")
	}
	key := s.digester.PairDigest(accessToken, refreshToken)

	if p, ok := s.cache.Get(key); ok {
		s.metrics.Rotation("cached")
		s.log.Debug("tokens.rotate.cached")
		return p, nil
	}

	var (
		out    Pair
		shared bool
	)
	err := s.locks.Run(ctx, key, func(ctx context.Context) error {
		if p, ok := s.cache.Get(key); ok {
			out, shared = p, true
			return nil
		}

		p, err := s.rotateLocked(ctx, op, accessToken, refreshToken)
		if err != nil {
			return err
		}
		s.cache.Add(key, p)
		out = p
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrAuthentication) {
			s.metrics.Rotation("rejected")
			return Pair{}, err
		}
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	if shared {
		s.metrics.Rotation("cached")
		s.log.Debug("tokens.rotate.cached")
	} else {
		s.metrics.Rotation("rotated")
	}
	return out, nil
}

func (s *Service) rotateLocked(ctx context.Context, op, accessToken, refreshToken string) (Pair, error) {
	denied := errs.E(op, errs.ErrAuthentication, "invalid credentials")
	now := s.now().UTC()

	ac, err := s.access.parse(accessToken)
	if err != nil {
		return Pair{}, denied
	}

	oldHash := s.hash(refreshToken)
	rc, err := s.refresh.verify(refreshToken, now)
	if errors.Is(err, errRefreshExpired) {
		s.expireByHash(ctx, oldHash, now)
		return Pair{}, errs.E(op, errs.ErrAuthentication, "refresh token expired")
	}
	if err != nil || rc.Subject != ac.UserID {
		return Pair{}, denied
	}

	rec, err := s.store.GetByTokenHash(ctx, oldHash)
	if errors.Is(err, ErrRecordNotFound) {
		return Pair{}, denied
	}
	if err != nil {
		return Pair{}, err
	}
	if rec.Status != StatusValid || rec.UserID != ac.UserID {
		return Pair{}, denied
	}
	if !rec.ExpiresAt.After(now) {
		if err := s.store.SetStatus(ctx, rec.ID, StatusExpired, now); err != nil {
			return Pair{}, err
		}
		return Pair{}, errs.E(op, errs.ErrAuthentication, "refresh token expired")
	}

	p, err := s.mint(rec.UserID, now)
	if err != nil {
		return Pair{}, err
	}
	err = s.store.Rotate(ctx, rec.ID, oldHash, s.hash(p.RefreshToken), p.RefreshExpiresAt, now)
	if errors.Is(err, ErrStaleRecord) {
		return Pair{}, denied
	}
	if err != nil {
		return Pair{}, err
	}

	s.log.Info("tokens.rotate", "user_id", rec.UserID, "record_id", rec.ID)
	return p, nil
}

// Revoke marks the refresh token of a pair revoked. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, accessToken, refreshToken string) error {
	const op = "tokens.Revoke"

	if !plausible(refreshToken) || len(accessToken) > maxTokenLen {
		return errs.E(op, errs.ErrAuthentication, "invalid credentials")
	}
	key := s.digester.PairDigest(accessToken, refreshToken)

	err := s.locks.Run(ctx, key, func(ctx context.Context) error {
		denied := errs.E(op, errs.ErrAuthentication, "invalid credentials")
		now := s.now().UTC()

		rc, err := s.refresh.verify(refreshToken, now)
		if err != nil && !errors.Is(err, errRefreshExpired) {
			return denied
		}
		if accessToken != "" {
			ac, err := s.access.parse(accessToken)
			if err != nil || ac.UserID != rc.Subject {
				return denied
			}
		}

		rec, err := s.store.GetByTokenHash(ctx, s.hash(refreshToken))
		if errors.Is(err, ErrRecordNotFound) {
			return denied
		}
		if err != nil {
			return err
		}
		if rec.UserID != rc.Subject {
			return denied
		}
		if rec.Status == StatusRevoked {
			return nil
		}
		if err := s.store.SetStatus(ctx, rec.ID, StatusRevoked, now); err != nil {
			return err
		}
		s.log.Info("tokens.revoke", "user_id", rec.UserID, "record_id", rec.ID)
		return nil
	})
	if err != nil && !errors.Is(err, errs.ErrAuthentication) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func (s *Service) mint(userID string, now time.Time) (Pair, error) {
	at, aexp, err := s.access.issue(userID, now)
	if err != nil {
		return Pair{}, err
	}
	rt, rexp, err := s.refresh.issue(userID, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: at, AccessExpiresAt: aexp, RefreshToken: rt, RefreshExpiresAt: rexp}, nil
}

func (s *Service) expireByHash(ctx context.Context, hash string, now time.Time) {
	rec, err := s.store.GetByTokenHash(ctx, hash)
	if err != nil || rec.Status != StatusValid {
		return
	}
	if err := s.store.SetStatus(ctx, rec.ID, StatusExpired, now); err != nil {
		s.log.Warn("tokens.expire.fail", "record_id", rec.ID, "err", err)
	}
}

func plausible(tok string) bool {
	return tok != "" && len(tok) <= maxTokenLen
}
