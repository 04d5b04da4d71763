package chat

import (
	"fmt"
	"time"
)

// Empty pointers stay empty on disk: "no previous message" and "no tail" are not secrets.

func (e *Engine) sealOpt(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return e.cipher.Seal(v)
}

func (e *Engine) openOpt(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return e.cipher.Open(v)
}

func (e *Engine) sealTime(t time.Time) (string, error) {
	return e.cipher.Seal(t.UTC().Format(time.RFC3339Nano))
}

func (e *Engine) openTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	s, err := e.cipher.Open(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (e *Engine) sealMessage(m Message) (MessageRecord, error) {
	prev, err := e.sealOpt(m.Previous)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("seal previous: %w", err)
	}
	created, err := e.sealTime(m.CreatedAt)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("seal created_at: %w", err)
	}
	updated, err := e.sealTime(m.UpdatedAt)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("seal updated_at: %w", err)
	}
	return MessageRecord{
		ID:                 m.ID,
		SenderID:           m.SenderID,
		RecipientID:        m.RecipientID,
		Content:            m.Content,
		Status:             m.Status,
		DeletedBySender:    m.DeletedBySender,
		DeletedByRecipient: m.DeletedByRecipient,
		PreviousEnc:        prev,
		CreatedAtEnc:       created,
		UpdatedAtEnc:       updated,
	}, nil
}

func (e *Engine) openMessage(r MessageRecord) (Message, error) {
	prev, err := e.openOpt(r.PreviousEnc)
	if err != nil {
		return Message{}, fmt.Errorf("open previous of %s: %w", r.ID, err)
	}
	created, err := e.openTime(r.CreatedAtEnc)
	if err != nil {
		return Message{}, fmt.Errorf("open created_at of %s: %w", r.ID, err)
	}
	updated, err := e.openTime(r.UpdatedAtEnc)
	if err != nil {
		return Message{}, fmt.Errorf("open updated_at of %s: %w", r.ID, err)
	}
	return Message{
		ID:                 r.ID,
		SenderID:           r.SenderID,
		RecipientID:        r.RecipientID,
		Content:            r.Content,
		Status:             r.Status,
		DeletedBySender:    r.DeletedBySender,
		DeletedByRecipient: r.DeletedByRecipient,
		Previous:           prev,
		CreatedAt:          created,
		UpdatedAt:          updated,
	}, nil
}

func (e *Engine) sealSession(s Session) (SessionRecord, error) {
	var (
		rec = SessionRecord{
			ID:          s.ID,
			PairKey:     s.PairKey,
			User1:       s.User1,
			User2:       s.User2,
			User1Status: s.User1Status,
			User2Status: s.User2Status,
		}
		err error
	)
	if rec.HeadEnc, err = e.sealOpt(s.Head); err != nil {
		return SessionRecord{}, fmt.Errorf("seal head: %w", err)
	}
	if rec.User1TailEnc, err = e.sealOpt(s.User1Tail); err != nil {
		return SessionRecord{}, fmt.Errorf("seal tail: %w", err)
	}
	if rec.User2TailEnc, err = e.sealOpt(s.User2Tail); err != nil {
		return SessionRecord{}, fmt.Errorf("seal tail: %w", err)
	}
	return rec, nil
}

func (e *Engine) openSession(r SessionRecord) (Session, error) {
	var (
		s = Session{
			ID:          r.ID,
			PairKey:     r.PairKey,
			User1:       r.User1,
			User2:       r.User2,
			User1Status: r.User1Status,
			User2Status: r.User2Status,
		}
		err error
	)
	if s.Head, err = e.openOpt(r.HeadEnc); err != nil {
		return Session{}, fmt.Errorf("open head of %s: %w", r.ID, err)
	}
	if s.User1Tail, err = e.openOpt(r.User1TailEnc); err != nil {
		return Session{}, fmt.Errorf("open tail of %s: %w", r.ID, err)
	}
	if s.User2Tail, err = e.openOpt(r.User2TailEnc); err != nil {
		return Session{}, fmt.Errorf("open tail of %s: %w", r.ID, err)
	}
	return s, nil
}
