// Package keys stores small client-encrypted values (wrapped symmetric keys) per user.
//
// Entries are write-once: a second Set for an existing name is ignored. Names are global, so a
// lookup of another user's name is indistinguishable from a missing one.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"tether/cmd/identity/ids"
	"tether/cmd/internal/errs"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/ratelimit"
)

const (
	maxKeyLen   = 256
	maxValueLen = 64 << 10

	// DefaultLimit and DefaultWindow bound key-store calls per user.
	DefaultLimit  = 50
	DefaultWindow = 10 * time.Second
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
)

// Record is a decrypted key-store entry.
type Record struct {
	ID        string
	UserID    string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredRecord is the persisted shape; timestamps are ciphertexts.
type StoredRecord struct {
	ID           string
	UserID       string
	Key          string
	Value        string
	CreatedAtEnc string
	UpdatedAtEnc string
}

// Store persists key-store entries.
type Store interface {
	Get(ctx context.Context, key string) (StoredRecord, error)
	// Create returns ErrKeyExists when key is taken.
	Create(ctx context.Context, rec StoredRecord) error
}

// Cipher encrypts timestamp columns at rest.
type Cipher interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// Service implements get-key and set-key.
type Service struct {
	log     *slog.Logger
	store   Store
	cipher  Cipher
	limiter *ratelimit.Limiter
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLimiter replaces the default 50-per-10s limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func NewService(log *slog.Logger, store Store, cipher Cipher, opts ...Option) *Service {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	s := &Service{
		log:    log,
		store:  store,
		cipher: cipher,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(DefaultLimit, DefaultWindow, ratelimit.WithClock(s.now))
	}
	return s
}

// Get returns userID's entry for key.
func (s *Service) Get(ctx context.Context, userID, key string) (Record, error) {
	const op = "keys.Get"

	key = strings.TrimSpace(key)
	if userID == "" || key == "" || len(key) > maxKeyLen {
		return Record{}, errs.E(op, errs.ErrValidation, "invalid key")
	}
	if s.limiter.IsRateLimited(userID) {
		s.metrics.RateLimited("keys")
		return Record{}, errs.E(op, errs.ErrRateLimited, "too many requests")
	}

	st, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) || (err == nil && st.UserID != userID) {
		return Record{}, errs.E(op, errs.ErrNotFound, "invalid key")
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	rec := Record{ID: st.ID, UserID: st.UserID, Key: st.Key, Value: st.Value}
	if rec.CreatedAt, err = s.openTime(st.CreatedAtEnc); err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	if rec.UpdatedAt, err = s.openTime(st.UpdatedAtEnc); err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// Set stores value under key for userID unless key already exists.
func (s *Service) Set(ctx context.Context, userID, key, value string) error {
	const op = "keys.Set"

	key = strings.TrimSpace(key)
	switch {
	case userID == "" || key == "" || len(key) > maxKeyLen:
		return errs.E(op, errs.ErrValidation, "invalid key")
	case value == "" || len(value) > maxValueLen:
		return errs.E(op, errs.ErrValidation, "invalid value")
	}

	_, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, ErrKeyNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.limiter.IsRateLimited(userID) {
		s.metrics.RateLimited("keys")
		return errs.E(op, errs.ErrRateLimited, "too many requests")
	}

	now := s.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	stamp, err := s.cipher.Seal(now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	updated, err := s.cipher.Seal(now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.store.Create(ctx, StoredRecord{
		ID:           id,
		UserID:       userID,
		Key:          key,
		Value:        value,
		CreatedAtEnc: stamp,
		UpdatedAtEnc: updated,
	})
	if errors.Is(err, ErrKeyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("keys.set", "user_id", userID)
	return nil
}

func (s *Service) openTime(v string) (time.Time, error) {
	pt, err := s.cipher.Open(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, pt)
}
