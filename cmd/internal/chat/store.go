package chat

import (
	"context"
	"errors"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionNotFound = errors.New("chat session not found")
	ErrSessionExists   = errors.New("chat session already exists for pair")
)

// MessageStore is CRUD over message records. It holds no business rules.
type MessageStore interface {
	// CreateMessage persists rec and returns the store-assigned id.
	CreateMessage(ctx context.Context, rec MessageRecord) (string, error)
	GetMessage(ctx context.Context, id string) (MessageRecord, error)
	// MarkDeleted ORs the given flags into the stored deletion flags and stamps updatedAtEnc.
	// Once both flags are set, content is cleared and status becomes deleted. No other field
	// is written, so a concurrent MarkRead is never undone.
	MarkDeleted(ctx context.Context, id string, bySender, byRecipient bool, updatedAtEnc string) error
	DeleteMessage(ctx context.Context, id string) error

	// MarkRead flips every message from senderID to recipientID that is neither read nor
	// deleted to read, stamping updatedAtEnc. It returns the number of rows changed.
	MarkRead(ctx context.Context, recipientID, senderID, updatedAtEnc string) (int64, error)
}

// SessionStore is CRUD over session records.
type SessionStore interface {
	// CreateSession persists rec and returns the store-assigned id.
	// A second session for the same PairKey returns ErrSessionExists.
	CreateSession(ctx context.Context, rec SessionRecord) (string, error)
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	FindSessionByPair(ctx context.Context, pairKey string) (SessionRecord, error)
	UpdateSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error

	// ListSessionsForUser returns every session where userID is a party.
	ListSessionsForUser(ctx context.Context, userID string) ([]SessionRecord, error)
}
