package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps tokens for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ PairStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetPair(_ context.Context, accessToken string, refreshToken string) error {
	s.mu.Lock()
	s.data[KeyAccessToken] = accessToken
	s.data[KeyRefreshToken] = refreshToken
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearPair(_ context.Context) error {
	s.mu.Lock()
	delete(s.data, KeyAccessToken)
	delete(s.data, KeyRefreshToken)
	s.mu.Unlock()
	return nil
}

// Has reports whether key is present, even with an empty value.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}
