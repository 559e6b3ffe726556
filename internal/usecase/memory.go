package usecase

import (
	"context"
	"sync"

	"trackify/internal/domain"
)

// MemoryThreadStore is an in-process ThreadStore for tests and single-node
// deployments without a DynamoDB table. Only the last completed turn per
// thread is retained; that is all continuity needs.
type MemoryThreadStore struct {
	mu    sync.RWMutex
	turns map[string]domain.TurnRecord
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{turns: make(map[string]domain.TurnRecord)}
}

func (m *MemoryThreadStore) LastTurn(_ context.Context, threadID string) (domain.TurnRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turn, ok := m.turns[threadID]
	return turn, ok, nil
}

func (m *MemoryThreadStore) SaveTurn(_ context.Context, threadID string, turn domain.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[threadID] = turn
	return nil
}
