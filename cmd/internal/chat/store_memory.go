package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"tether/cmd/identity/ids"
)

// MemoryStore is the in-process MessageStore and SessionStore used when no database is
// configured, and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]MessageRecord
	sessions map[string]SessionRecord
	byPair   map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]MessageRecord),
		sessions: make(map[string]SessionRecord),
		byPair:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateMessage(ctx context.Context, rec MessageRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return "", err
	}
	rec.ID = id

	s.mu.Lock()
	s.messages[id] = rec
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return MessageRecord{}, ErrMessageNotFound
	}
	return rec, nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, id string, bySender, byRecipient bool, updatedAtEnc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	rec.DeletedBySender = rec.DeletedBySender || bySender
	rec.DeletedByRecipient = rec.DeletedByRecipient || byRecipient
	rec.settleDeletion()
	rec.UpdatedAtEnc = updatedAtEnc
	s.messages[id] = rec
	return nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, recipientID, senderID, updatedAtEnc string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if m.RecipientID != recipientID || m.SenderID != senderID {
			continue
		}
		if m.Status == StatusRead || m.Status == StatusDeleted {
			continue
		}
		m.Status = StatusRead
		m.UpdatedAtEnc = updatedAtEnc
		s.messages[id] = m
		n++
	}
	return n, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, rec SessionRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPair[rec.PairKey]; ok {
		return "", ErrSessionExists
	}
	rec.ID = id
	s.sessions[id] = rec
	s.byPair[rec.PairKey] = id
	return id, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *MemoryStore) FindSessionByPair(_ context.Context, pairKey string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[pairKey]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return s.sessions[id], nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[rec.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[rec.ID] = rec
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.byPair, rec.PairKey)
	return nil
}

func (s *MemoryStore) ListSessionsForUser(_ context.Context, userID string) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionRecord, 0, 8)
	for _, rec := range s.sessions {
		if rec.User1 == userID || rec.User2 == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MessageCount reports how many messages are stored.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
