package idempotency

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	result    []byte
	done      bool
	expiresAt time.Time
}

// InMemory is a process-local Store.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]entry), now: time.Now}
}

func (s *InMemory) Reserve(_ context.Context, key string, ttl time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return nil, ErrInFlight
		}
		return append([]byte(nil), e.result...), nil
	}
	s.entries[key] = entry{expiresAt: now.Add(ttl)}
	return nil, nil
}

func (s *InMemory) Complete(_ context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{
		result:    append([]byte(nil), result...),
		done:      true,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *InMemory) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.done {
		delete(s.entries, key)
	}
	return nil
}
