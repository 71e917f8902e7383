package cache

import (
	"context"
	"sync"

	"sentiment-pipeline/internal/domain"
)

// Memory is an in-memory implementation of OHLCCache.
// Thread-safe via RWMutex.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*domain.OHLCResponse
}

// NewMemory creates a new in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*domain.OHLCResponse)}
}

// Get returns a copy of the stored response.
func (m *Memory) Get(_ context.Context, symbol string) (*domain.OHLCResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.entries[symbol]
	if !ok {
		return nil, ErrMiss
	}
	return cloneResponse(r), nil
}

// Set stores a copy of resp.
func (m *Memory) Set(_ context.Context, resp *domain.OHLCResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[resp.Symbol] = cloneResponse(resp)
	return nil
}

var _ OHLCCache = (*Memory)(nil)
