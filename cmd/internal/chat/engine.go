package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"tether/cmd/internal/errs"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/pairlock"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// FieldCipher encrypts pointer and timestamp columns at rest.
type FieldCipher interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// Engine implements thread operations over a MessageStore and a SessionStore.
type Engine struct {
	log      *slog.Logger
	messages MessageStore
	sessions SessionStore
	cipher   FieldCipher
	locks    *pairlock.Locker
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocker shares a Locker with the caller. It must not be the rotation locker.
func WithLocker(l *pairlock.Locker) Option {
	return func(e *Engine) { e.locks = l }
}

func NewEngine(log *slog.Logger, messages MessageStore, sessions SessionStore, cipher FieldCipher, opts ...Option) (*Engine, error) {
	if messages == nil || sessions == nil {
		return nil, errors.New("chat: stores are required")
	}
	if cipher == nil {
		return nil, errors.New("chat: field cipher is required")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	e := &Engine{
		log:      log,
		messages: messages,
		sessions: sessions,
		cipher:   cipher,
		locks:    pairlock.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Send appends a message to the sender/recipient thread, creating the session on first use.
func (e *Engine) Send(ctx context.Context, senderID, recipientID, content string) (SendResult, error) {
	const op = "chat.Send"

	senderID, recipientID = strings.TrimSpace(senderID), strings.TrimSpace(recipientID)
	if senderID == "" || recipientID == "" {
		return SendResult{}, errs.E(op, errs.ErrValidation, "sender and recipient are required")
	}
	if senderID == recipientID {
		return SendResult{}, errs.E(op, errs.ErrValidation, "cannot send a message to yourself")
	}
	if strings.TrimSpace(content) == "" {
		return SendResult{}, errs.E(op, errs.ErrValidation, "message content is required")
	}

	pair := pairlock.Key(senderID, recipientID)

	var res SendResult
	err := e.locks.Run(ctx, pair, func(ctx context.Context) error {
		sess, found, err := e.findSession(ctx, pair)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		if found && sess.Head != "" {
			head, err := e.loadMessage(ctx, sess.Head)
			switch {
			case errors.Is(err, ErrMessageNotFound):
			case err != nil:
				return err
			case !now.After(head.CreatedAt):
				now = head.CreatedAt.Add(time.Nanosecond)
			}
		}

		msg := Message{
			SenderID:    senderID,
			RecipientID: recipientID,
			Content:     content,
			Status:      StatusSent,
			Previous:    sess.Head,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		rec, err := e.sealMessage(msg)
		if err != nil {
			return err
		}
		if msg.ID, err = e.messages.CreateMessage(ctx, rec); err != nil {
			return err
		}

		sess.Head = msg.ID
		sess.User1Status, sess.User2Status = SessionActive, SessionActive
		if !found {
			sess.PairKey, sess.User1, sess.User2 = pair, senderID, recipientID
		}
		srec, err := e.sealSession(sess)
		if err != nil {
			return err
		}
		if found {
			err = e.sessions.UpdateSession(ctx, srec)
		} else {
			sess.ID, err = e.sessions.CreateSession(ctx, srec)
		}
		if err != nil {
			return err
		}

		res = SendResult{Message: msg, Session: sess}
		return nil
	})
	if err != nil {
		return SendResult{}, wrap(op, err)
	}

	e.metrics.MessageSent()
	e.log.Debug("chat.message.sent", "session_id", res.Session.ID, "message_id", res.Message.ID)
	return res, nil
}

// MessagesFrom returns up to count messages of a session, newest first, starting at fromID and
// walking towards older messages. Messages at or before the requester's tail are never returned.
func (e *Engine) MessagesFrom(ctx context.Context, requesterID, fromID, sessionID string, count int) ([]Message, error) {
	const op = "chat.MessagesFrom"

	if requesterID == "" || fromID == "" || sessionID == "" {
		return nil, errs.E(op, errs.ErrValidation, "from and session are required")
	}
	if count <= 0 {
		return nil, errs.E(op, errs.ErrValidation, "count must be positive")
	}
	count = min(count, MaxPageSize)

	from, err := e.loadMessage(ctx, fromID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if !from.Involves(requesterID) {
		return nil, errs.E(op, errs.ErrAuthorization, "not a party to this message")
	}

	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, wrap(op, err)
	}
	if !sess.Has(requesterID) {
		return nil, errs.E(op, errs.ErrAuthorization, "not a party to this session")
	}
	if pairlock.Key(from.SenderID, from.RecipientID) != sess.PairKey {
		return nil, errs.E(op, errs.ErrValidation, "message does not belong to session")
	}

	tail := sess.TailFor(requesterID)
	var (
		tailAt  time.Time
		hasTail bool
	)
	if tail != "" {
		t, err := e.loadMessage(ctx, tail)
		switch {
		case err == nil:
			tailAt, hasTail = t.CreatedAt, true
		case !errors.Is(err, ErrMessageNotFound):
			return nil, wrap(op, err)
		}
	}

	out := make([]Message, 0, min(count, 16))
	cur := from
	for {
		if cur.ID == tail || (hasTail && !cur.CreatedAt.After(tailAt)) {
			break
		}
		if cur.DeletedBy(requesterID) {
			cur.Content = ""
		}
		out = append(out, cur)
		if len(out) >= count || cur.Previous == "" {
			break
		}

		next, err := e.loadMessage(ctx, cur.Previous)
		if errors.Is(err, ErrMessageNotFound) {
			break
		}
		if err != nil {
			return nil, wrap(op, err)
		}
		cur = next
	}
	return out, nil
}

// DeleteMessage hides a message for userID, or for both parties when both is set (sender only).
// It returns the counterpart id for fan-out.
func (e *Engine) DeleteMessage(ctx context.Context, userID, messageID string, both bool) (string, error) {
	const op = "chat.DeleteMessage"

	if userID == "" || messageID == "" {
		return "", errs.E(op, errs.ErrValidation, "message id is required")
	}

	msg, err := e.loadMessage(ctx, messageID)
	if err != nil {
		return "", wrap(op, err)
	}
	if !msg.Involves(userID) {
		return "", errs.E(op, errs.ErrAuthorization, "not a party to this message")
	}
	if both && msg.SenderID != userID {
		return "", errs.E(op, errs.ErrAuthorization, "only the sender can delete a message for both parties")
	}

	bySender := both || msg.SenderID == userID
	byRecipient := both || msg.RecipientID == userID

	err = e.locks.Run(ctx, pairlock.Key(msg.SenderID, msg.RecipientID), func(ctx context.Context) error {
		stamp, err := e.sealTime(e.now())
		if err != nil {
			return err
		}
		return e.messages.MarkDeleted(ctx, messageID, bySender, byRecipient, stamp)
	})
	if err != nil {
		return "", wrap(op, err)
	}
	return msg.Counterpart(userID), nil
}

// ReadMessages marks every unread message from senderID to userID as read.
func (e *Engine) ReadMessages(ctx context.Context, userID, senderID string) (int64, error) {
	const op = "chat.ReadMessages"

	if userID == "" || senderID == "" {
		return 0, errs.E(op, errs.ErrValidation, "sender id is required")
	}
	stamp, err := e.sealTime(e.now())
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := e.messages.MarkRead(ctx, userID, senderID, stamp)
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func (e *Engine) findSession(ctx context.Context, pair string) (Session, bool, error) {
	rec, err := e.sessions.FindSessionByPair(ctx, pair)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	s, err := e.openSession(rec)
	return s, err == nil, err
}

func (e *Engine) loadSession(ctx context.Context, id string) (Session, error) {
	rec, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return e.openSession(rec)
}

func (e *Engine) loadMessage(ctx context.Context, id string) (Message, error) {
	rec, err := e.messages.GetMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	return e.openMessage(rec)
}

// wrap maps store sentinels onto the error taxonomy.
func wrap(op string, err error) error {
	switch {
	case err == nil, errs.Known(err):
		return err
	case errors.Is(err, ErrMessageNotFound):
		return errs.E(op, errs.ErrNotFound, "message not found")
	case errors.Is(err, ErrSessionNotFound):
		return errs.E(op, errs.ErrNotFound, "chat session not found")
	case errors.Is(err, ErrSessionExists):
		return errs.E(op, errs.ErrConflict, "chat session already exists")
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
