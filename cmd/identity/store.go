package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned by stores for unknown ids or usernames.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned when the normalized username already exists.
	ErrUsernameTaken = errors.New("username taken")
)

// User is a registered account.
// PasswordHash never leaves the server; API layers must project it away.
type User struct {
	ID           string
	Username     string
	PublicKey    string
	PasswordHash string
	CreatedAt    time.Time
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, usernameNorm string) (User, error)
	ListByIDs(ctx context.Context, ids []string) ([]User, error)
}
