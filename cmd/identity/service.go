package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tether/cmd/identity/ids"
	"tether/cmd/internal/errs"
	"tether/cmd/security/password"
)

const maxPublicKeyBytes = 8 << 10

// Service registers and authenticates users.
type Service struct {
	log    *slog.Logger
	store  Store
	hasher password.Hasher
	now    func() time.Time

	// dummyHash keeps Authenticate timing flat for unknown usernames.
	dummyHash string
}

// NewService wires a Service. A zero hasher falls back to password.Default().
func NewService(log *slog.Logger, store Store, hasher password.Hasher) *Service {
	if log == nil {
		log = slog.Default()
	}
	if hasher.Params.KeyLength == 0 {
		hasher = password.Default()
	}
	s := &Service{log: log, store: store, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
	s.dummyHash, _ = hasher.Hash(strings.Repeat("x", hasher.MinLength))
	return s
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, pw, publicKey string) (User, error) {
	const op = "identity.Register"

	norm := NormalizeUsername(username)
	if !ValidUsername(norm) {
		return User{}, errs.E(op, errs.ErrValidation, "username must be 3-32 characters of a-z, 0-9, _ . -")
	}
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" || len(publicKey) > maxPublicKeyBytes {
		return User{}, errs.E(op, errs.ErrValidation, "public key is required")
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return User{}, errs.E(op, errs.ErrValidation, err.Error())
		}
		return User{}, err
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{ID: id, Username: norm, PublicKey: publicKey, PasswordHash: hash, CreatedAt: now}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return User{}, errs.E(op, errs.ErrConflict, "username already taken")
		}
		return User{}, err
	}

	s.log.Info("identity.user.registered", "user_id", u.ID)
	return u, nil
}

// Authenticate checks username/password. Unknown users and wrong passwords are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, username, pw string) (User, error) {
	const op = "identity.Authenticate"

	u, err := s.store.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash := u.PasswordHash
	if err != nil {
		hash = s.dummyHash
	}

	ok, verr := s.hasher.Verify(hash, pw)
	if err != nil || verr != nil || !ok {
		return User{}, errs.E(op, errs.ErrAuthentication, "invalid username or password")
	}
	return u, nil
}

// Lookup resolves a username to a user.
func (s *Service) Lookup(ctx context.Context, username string) (User, error) {
	u, err := s.store.GetByUsername(ctx, NormalizeUsername(username))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, errs.E("identity.Lookup", errs.ErrNotFound, "user not found")
	}
	return u, err
}

// Get resolves a user id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, errs.E("identity.Get", errs.ErrNotFound, "user not found")
	}
	return u, err
}

// Directory returns the users for ids; unknown ids are skipped.
func (s *Service) Directory(ctx context.Context, userIDs []string) (map[string]User, error) {
	list, err := s.store.ListByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]User, len(list))
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}
