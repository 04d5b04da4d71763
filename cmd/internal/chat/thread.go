package chat

import (
	"context"
	"errors"
	"sort"

	"tether/cmd/internal/errs"
)

// unreadWalkLimit bounds the head walk done per session when listing.
const unreadWalkLimit = 500

// MarkThreadDeleted clears the thread from userID's view by moving their tail to the head.
// When the counterpart already did the same, the thread is torn down and tornDown is true.
func (e *Engine) MarkThreadDeleted(ctx context.Context, userID, sessionID string) (tornDown bool, err error) {
	const op = "chat.MarkThreadDeleted"

	if userID == "" || sessionID == "" {
		return false, errs.E(op, errs.ErrValidation, "session id is required")
	}
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return false, wrap(op, err)
	}
	if !sess.Has(userID) {
		return false, errs.E(op, errs.ErrAuthorization, "not a party to this session")
	}

	err = e.locks.Run(ctx, sess.PairKey, func(ctx context.Context) error {
		s, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		s.clearFor(userID)

		rec, err := e.sealSession(s)
		if err != nil {
			return err
		}
		if err := e.sessions.UpdateSession(ctx, rec); err != nil {
			return err
		}
		if !s.bothDeleted() {
			return nil
		}
		tornDown = true
		return e.teardownLocked(ctx, s)
	})
	if err != nil {
		return tornDown, wrap(op, err)
	}
	return tornDown, nil
}

// TeardownThread deletes a session and its whole chain. Both parties must have deleted it.
func (e *Engine) TeardownThread(ctx context.Context, sessionID string) error {
	const op = "chat.TeardownThread"

	if sessionID == "" {
		return errs.E(op, errs.ErrValidation, "session id is required")
	}
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return wrap(op, err)
	}

	err = e.locks.Run(ctx, sess.PairKey, func(ctx context.Context) error {
		s, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.bothDeleted() {
			return errs.E(op, errs.ErrValidation, "thread is still active for a party")
		}
		return e.teardownLocked(ctx, s)
	})
	return wrap(op, err)
}

// teardownLocked must run under the pair lock. Messages are removed oldest first so a failure
// midway leaves a shorter chain still reachable from the head.
func (e *Engine) teardownLocked(ctx context.Context, sess Session) error {
	var (
		chain []string
		seen  = make(map[string]struct{})
	)
	for id := sess.Head; id != ""; {
		if _, dup := seen[id]; dup {
			break
		}
		seen[id] = struct{}{}

		m, err := e.loadMessage(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			break
		}
		if err != nil {
			e.log.Error("chat.teardown.fail", "session_id", sess.ID, "message_id", id, "stage", "walk", "err", err)
			return err
		}
		chain = append(chain, id)
		id = m.Previous
	}

	for i := len(chain) - 1; i >= 0; i-- {
		err := e.messages.DeleteMessage(ctx, chain[i])
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			e.log.Error("chat.teardown.fail", "session_id", sess.ID, "message_id", chain[i], "stage", "messages", "err", err)
			return err
		}
	}
	if err := e.sessions.DeleteSession(ctx, sess.ID); err != nil {
		e.log.Error("chat.teardown.fail", "session_id", sess.ID, "stage", "session", "err", err)
		return err
	}

	e.metrics.ThreadTornDown()
	e.log.Info("chat.teardown", "session_id", sess.ID, "messages", len(chain))
	return nil
}

// UserSessions lists userID's visible sessions, most recent activity first.
func (e *Engine) UserSessions(ctx context.Context, userID string) ([]SessionView, error) {
	const op = "chat.UserSessions"

	if userID == "" {
		return nil, errs.E(op, errs.ErrValidation, "user id is required")
	}
	recs, err := e.sessions.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, wrap(op, err)
	}

	views := make([]SessionView, 0, len(recs))
	for _, rec := range recs {
		sess, err := e.openSession(rec)
		if err != nil {
			return nil, wrap(op, err)
		}
		if sess.StatusFor(userID) == SessionDeleted {
			continue
		}
		v, err := e.summarize(ctx, sess, userID)
		if err != nil {
			return nil, wrap(op, err)
		}
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].LastMessageDate.After(views[j].LastMessageDate)
	})
	return views, nil
}

// summarize counts the unread run at the head of the chain that is addressed to userID.
func (e *Engine) summarize(ctx context.Context, sess Session, userID string) (SessionView, error) {
	v := SessionView{Session: sess}
	tail := sess.TailFor(userID)

	for id, steps := sess.Head, 0; id != "" && steps < unreadWalkLimit; steps++ {
		m, err := e.loadMessage(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			break
		}
		if err != nil {
			return SessionView{}, err
		}
		if steps == 0 {
			v.LastMessageDate = m.CreatedAt
		}
		if id == tail || m.RecipientID != userID || m.Status == StatusRead {
			break
		}
		if m.Status != StatusDeleted {
			v.UnreadCount++
		}
		id = m.Previous
	}
	return v, nil
}
