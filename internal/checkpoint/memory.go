package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. It is the default
// store; state does not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, state []byte) error {
	cp := make([]byte, len(state))
	copy(cp, state)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = cp
	return nil
}

func (s *MemoryStore) Close() error { return nil }
