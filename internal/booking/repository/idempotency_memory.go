package repository

import (
	"context"
	"sync"
)

// MemoryIdempotencyRepo stores create responses keyed by Idempotency-Key.
type MemoryIdempotencyRepo struct {
	mu        sync.RWMutex
	responses map[string][]byte
	claims    map[string]struct{}
}

func NewMemoryIdempotencyRepo() *MemoryIdempotencyRepo {
	return &MemoryIdempotencyRepo{
		responses: make(map[string][]byte),
		claims:    make(map[string]struct{}),
	}
}

// GetResponse returns a copy of the cached payload.
func (m *MemoryIdempotencyRepo) GetResponse(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.responses[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// PutResponse keeps the first payload written for a key and drops its claim.
func (m *MemoryIdempotencyRepo) PutResponse(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	if _, exists := m.responses[key]; exists {
		return nil
	}
	m.responses[key] = append([]byte(nil), payload...)
	return nil
}

func (m *MemoryIdempotencyRepo) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.responses[key]; done {
		return false, nil
	}
	if _, held := m.claims[key]; held {
		return false, nil
	}
	m.claims[key] = struct{}{}
	return true, nil
}

func (m *MemoryIdempotencyRepo) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}
