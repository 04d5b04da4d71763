package tokens

import (
	"context"
	"time"
)

// Status is the lifecycle state of a refresh token record.
type Status string

const (
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Record is a persisted refresh token. Only the hash of the token is stored.
type Record struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists refresh token records.
type Store interface {
	Create(ctx context.Context, rec Record) error
	GetByTokenHash(ctx context.Context, hash string) (Record, error)

	// Rotate replaces the hash and expiry of a valid record only while its hash is still oldHash.
	// A record that moved on returns ErrStaleRecord.
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error

	SetStatus(ctx context.Context, id string, status Status, now time.Time) error

	// ExpireAll marks every valid record with expiresAt <= now as expired.
	ExpireAll(ctx context.Context, now time.Time) (int64, error)

	// DeleteInactive removes expired and revoked records.
	DeleteInactive(ctx context.Context) (int64, error)
}
