package idempotency

import (
	"context"
	"sync"

	"restaurant-ops/internal/effects/app/core"
)

const (
	statePending = "pending"
	stateDone    = "done"
)

// Memory keeps keys for the life of the process.
type Memory struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]string)}
}

func (m *Memory) Begin(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.keys[key] {
	case stateDone:
		return false, nil
	case statePending:
		return false, core.ErrInProgress
	}
	m.keys[key] = statePending
	return true, nil
}

func (m *Memory) Complete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = stateDone
	return nil
}

func (m *Memory) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == statePending {
		delete(m.keys, key)
	}
	return nil
}

func (m *Memory) Done(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key] == stateDone, nil
}
