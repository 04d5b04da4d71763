package social

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRequestNotFound   = errors.New("friend request not found")
	ErrRequestExists     = errors.New("friend request already exists")
	ErrRequestNotPending = errors.New("friend request already answered")
	ErrBlockNotFound     = errors.New("block not found")
	ErrBlockExists       = errors.New("user already blocked")
)

// Store persists friend requests and blocks.
type Store interface {
	// CreateRequest returns ErrRequestExists when the pair already has a request.
	CreateRequest(ctx context.Context, fr FriendRequest) error
	GetRequest(ctx context.Context, id string) (FriendRequest, error)
	FindRequestBetween(ctx context.Context, a, b string) (FriendRequest, error)

	// AnswerRequest moves a pending request to status. Anything but pending returns
	// ErrRequestNotPending.
	AnswerRequest(ctx context.Context, id string, status RequestStatus, now time.Time) error
	ListRequestsForUser(ctx context.Context, userID string) ([]FriendRequest, error)

	CreateBlock(ctx context.Context, b Block) error
	DeleteBlock(ctx context.Context, blockerID, blockedID string) error
	ListBlocksInvolving(ctx context.Context, userID string) ([]Block, error)

	// Blocked reports whether either user blocked the other.
	Blocked(ctx context.Context, a, b string) (bool, error)
}
