package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Record
	byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Record),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[rec.ID] = rec
	s.byHash[rec.TokenHash] = rec.ID
	return nil
}

func (s *MemoryStore) GetByTokenHash(_ context.Context, hash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) Rotate(_ context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || rec.TokenHash != oldHash || rec.Status != StatusValid {
		return ErrStaleRecord
	}
	delete(s.byHash, oldHash)
	rec.TokenHash, rec.ExpiresAt, rec.UpdatedAt = newHash, expiresAt, now
	s.byID[id] = rec
	s.byHash[newHash] = id
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status, rec.UpdatedAt = status, now
	s.byID[id] = rec
	return nil
}

func (s *MemoryStore) ExpireAll(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.byID {
		if rec.Status == StatusValid && !rec.ExpiresAt.After(now) {
			rec.Status, rec.UpdatedAt = StatusExpired, now
			s.byID[id] = rec
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteInactive(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.byID {
		if rec.Status == StatusValid {
			continue
		}
		delete(s.byID, id)
		delete(s.byHash, rec.TokenHash)
		n++
	}
	return n, nil
}
