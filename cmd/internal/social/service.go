// Package social manages friend requests, blocks and the aggregated contact list.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"tether/cmd/identity"
	"tether/cmd/identity/ids"
	"tether/cmd/internal/errs"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/ratelimit"
)

// DefaultRequestLimit and DefaultRequestWindow bound friend requests per sender.
const (
	DefaultRequestLimit  = 5
	DefaultRequestWindow = 10 * time.Second
)

// Directory resolves users.
type Directory interface {
	Lookup(ctx context.Context, username string) (identity.User, error)
	Get(ctx context.Context, id string) (identity.User, error)
	Directory(ctx context.Context, ids []string) (map[string]identity.User, error)
}

type Service struct {
	log     *slog.Logger
	store   Store
	users   Directory
	limiter *ratelimit.Limiter
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLimiter replaces the default friend request limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func NewService(log *slog.Logger, store Store, users Directory, opts ...Option) *Service {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	s := &Service{log: log, store: store, users: users, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(DefaultRequestLimit, DefaultRequestWindow, ratelimit.WithClock(s.now))
	}
	return s
}

// SendRequest creates a pending request from senderID to the user named username and returns
// the request together with the recipient.
func (s *Service) SendRequest(ctx context.Context, senderID, username string) (FriendRequest, identity.User, error) {
	const op = "social.SendRequest"

	if senderID == "" || strings.TrimSpace(username) == "" {
		return FriendRequest{}, identity.User{}, errs.E(op, errs.ErrValidation, "username required")
	}
	if s.limiter.IsRateLimited(senderID) {
		s.metrics.RateLimited("friend_request")
		return FriendRequest{}, identity.User{}, errs.E(op, errs.ErrRateLimited, "too many friend requests")
	}

	to, err := s.users.Lookup(ctx, username)
	if err != nil {
		return FriendRequest{}, identity.User{}, wrap(op, err)
	}
	if to.ID == senderID {
		return FriendRequest{}, identity.User{}, errs.E(op, errs.ErrValidation, "cannot send a friend request to yourself")
	}

	blocked, err := s.store.Blocked(ctx, senderID, to.ID)
	if err != nil {
		return FriendRequest{}, identity.User{}, wrap(op, err)
	}
	if blocked {
		return FriendRequest{}, identity.User{}, errs.E(op, errs.ErrAuthorization, "user unavailable")
	}

	now := s.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return FriendRequest{}, identity.User{}, wrap(op, err)
	}
	fr := FriendRequest{
		ID:          id,
		SenderID:    senderID,
		RecipientID: to.ID,
		Status:      RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRequest(ctx, fr); err != nil {
		return FriendRequest{}, identity.User{}, wrap(op, err)
	}
	s.log.Info("social.request.sent", "request_id", fr.ID, "sender_id", senderID, "recipient_id", to.ID)
	return fr, to, nil
}

// AcceptRequest accepts a pending request addressed to recipientID.
func (s *Service) AcceptRequest(ctx context.Context, recipientID, requestID string) (FriendRequest, error) {
	return s.answer(ctx, "social.AcceptRequest", recipientID, requestID, RequestAccepted)
}

// RejectRequest rejects a pending request addressed to recipientID.
func (s *Service) RejectRequest(ctx context.Context, recipientID, requestID string) (FriendRequest, error) {
	return s.answer(ctx, "social.RejectRequest", recipientID, requestID, RequestRejected)
}

func (s *Service) answer(ctx context.Context, op, recipientID, requestID string, status RequestStatus) (FriendRequest, error) {
	if recipientID == "" || requestID == "" {
		return FriendRequest{}, errs.E(op, errs.ErrValidation, "request id required")
	}

	fr, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return FriendRequest{}, wrap(op, err)
	}
	if fr.RecipientID != recipientID {
		return FriendRequest{}, errs.E(op, errs.ErrAuthorization, "not the recipient of this request")
	}
	if fr.Status != RequestPending {
		return FriendRequest{}, errs.E(op, errs.ErrConflict, ErrRequestNotPending.Error())
	}

	now := s.now().UTC()
	if err := s.store.AnswerRequest(ctx, fr.ID, status, now); err != nil {
		return FriendRequest{}, wrap(op, err)
	}
	fr.Status, fr.UpdatedAt = status, now
	s.log.Info("social.request.answered", "request_id", fr.ID, "status", string(status))
	return fr, nil
}

// Block records that blockerID blocks blockedID.
func (s *Service) Block(ctx context.Context, blockerID, blockedID string) (Block, error) {
	const op = "social.Block"

	if blockerID == "" || blockedID == "" {
		return Block{}, errs.E(op, errs.ErrValidation, "user id required")
	}
	if blockerID == blockedID {
		return Block{}, errs.E(op, errs.ErrValidation, "cannot block yourself")
	}
	if _, err := s.users.Get(ctx, blockedID); err != nil {
		return Block{}, wrap(op, err)
	}

	b := Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: s.now().UTC()}
	if err := s.store.CreateBlock(ctx, b); err != nil {
		return Block{}, wrap(op, err)
	}
	s.log.Info("social.block", "blocker_id", blockerID, "blocked_id", blockedID)
	return b, nil
}

// Unblock removes a block created by blockerID.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID string) error {
	const op = "social.Unblock"

	if blockerID == "" || blockedID == "" {
		return errs.E(op, errs.ErrValidation, "user id required")
	}
	if err := s.store.DeleteBlock(ctx, blockerID, blockedID); err != nil {
		return wrap(op, err)
	}
	s.log.Info("social.unblock", "blocker_id", blockerID, "blocked_id", blockedID)
	return nil
}

// Blocked reports whether either user blocked the other.
func (s *Service) Blocked(ctx context.Context, a, b string) (bool, error) {
	ok, err := s.store.Blocked(ctx, a, b)
	if err != nil {
		return false, wrap("social.Blocked", err)
	}
	return ok, nil
}

// Contacts returns every user userID exchanged a friend request with, newest request first.
func (s *Service) Contacts(ctx context.Context, userID string) ([]Contact, error) {
	const op = "social.Contacts"

	if userID == "" {
		return nil, errs.E(op, errs.ErrValidation, "user id required")
	}

	reqs, err := s.store.ListRequestsForUser(ctx, userID)
	if err != nil {
		return nil, wrap(op, err)
	}
	blocks, err := s.store.ListBlocksInvolving(ctx, userID)
	if err != nil {
		return nil, wrap(op, err)
	}

	others := make([]string, 0, len(reqs))
	for _, fr := range reqs {
		others = append(others, fr.Other(userID))
	}
	dir, err := s.users.Directory(ctx, others)
	if err != nil {
		return nil, wrap(op, err)
	}

	blockedByMe := make(map[string]bool)
	blockedMe := make(map[string]bool)
	for _, b := range blocks {
		if b.BlockerID == userID {
			blockedByMe[b.BlockedID] = true
		} else {
			blockedMe[b.BlockerID] = true
		}
	}

	out := make([]Contact, 0, len(reqs))
	for _, fr := range reqs {
		other := fr.Other(userID)
		u, ok := dir[other]
		if !ok {
			continue
		}

		c := Contact{
			User: ContactUser{Username: u.Username},
			FriendRequest: ContactRequest{
				ID:        fr.ID,
				Direction: DirectionReceived,
				Status:    fr.Status,
				SentAt:    fr.CreatedAt,
			},
			BlockedContact:   blockedByMe[other],
			BlockedByContact: blockedMe[other],
		}
		if fr.SenderID == userID {
			c.FriendRequest.Direction = DirectionSent
		}
		if fr.Status == RequestAccepted {
			c.User.ID, c.User.PublicKey = u.ID, u.PublicKey
		}
		if !fr.UpdatedAt.Equal(fr.CreatedAt) {
			replied := fr.UpdatedAt
			c.FriendRequest.RepliedAt = &replied
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FriendRequest.SentAt.After(out[j].FriendRequest.SentAt)
	})
	return out, nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil || errs.Known(err):
		return err
	case errors.Is(err, ErrRequestNotFound):
		return errs.E(op, errs.ErrNotFound, "friend request not found")
	case errors.Is(err, ErrRequestExists):
		return errs.E(op, errs.ErrConflict, "friend request already exists")
	case errors.Is(err, ErrRequestNotPending):
		return errs.E(op, errs.ErrConflict, "friend request already answered")
	case errors.Is(err, ErrBlockNotFound):
		return errs.E(op, errs.ErrNotFound, "user is not blocked")
	case errors.Is(err, ErrBlockExists):
		return errs.E(op, errs.ErrConflict, "user already blocked")
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
