package social

import (
	"context"
	"sort"
	"sync"
	"time"

	"tether/cmd/internal/pairlock"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]FriendRequest
	byPair   map[string]string
	blocks   map[[2]string]Block
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]FriendRequest),
		byPair:   make(map[string]string),
		blocks:   make(map[[2]string]Block),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, fr FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPair[fr.PairKey()]; ok {
		return ErrRequestExists
	}
	s.requests[fr.ID] = fr
	s.byPair[fr.PairKey()] = fr.ID
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fr, ok := s.requests[id]
	if !ok {
		return FriendRequest{}, ErrRequestNotFound
	}
	return fr, nil
}

func (s *MemoryStore) FindRequestBetween(_ context.Context, a, b string) (FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[pairlock.Key(a, b)]
	if !ok {
		return FriendRequest{}, ErrRequestNotFound
	}
	return s.requests[id], nil
}

func (s *MemoryStore) AnswerRequest(_ context.Context, id string, status RequestStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fr, ok := s.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if fr.Status != RequestPending {
		return ErrRequestNotPending
	}
	fr.Status, fr.UpdatedAt = status, now
	s.requests[id] = fr
	return nil
}

func (s *MemoryStore) ListRequestsForUser(_ context.Context, userID string) ([]FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []FriendRequest
	for _, fr := range s.requests {
		if fr.SenderID == userID || fr.RecipientID == userID {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateBlock(_ context.Context, b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := [2]string{b.BlockerID, b.BlockedID}
	if _, ok := s.blocks[k]; ok {
		return ErrBlockExists
	}
	s.blocks[k] = b
	return nil
}

func (s *MemoryStore) DeleteBlock(_ context.Context, blockerID, blockedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := [2]string{blockerID, blockedID}
	if _, ok := s.blocks[k]; !ok {
		return ErrBlockNotFound
	}
	delete(s.blocks, k)
	return nil
}

func (s *MemoryStore) ListBlocksInvolving(_ context.Context, userID string) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Block
	for _, b := range s.blocks {
		if b.BlockerID == userID || b.BlockedID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) Blocked(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ab := s.blocks[[2]string{a, b}]
	_, ba := s.blocks[[2]string{b, a}]
	return ab || ba, nil
}
