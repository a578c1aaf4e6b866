package callers

import (
	"context"
	"sync"
)

// Memory is a map-backed Lookup for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	byPhone map[string]Identity
}

func NewMemory() *Memory {
	return &Memory{byPhone: map[string]Identity{}}
}

func (m *Memory) Put(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id.Phone = NormalizePhone(id.Phone)
	m.byPhone[id.Phone] = id
}

func (m *Memory) Lightweight(ctx context.Context, phone string) (Identity, bool, error) {
	id, ok := m.get(phone)
	if !ok {
		return Identity{}, false, nil
	}
	return Identity{CallerID: id.CallerID, Name: id.Name, Phone: id.Phone}, true, nil
}

func (m *Memory) Enhanced(ctx context.Context, phone string) (Identity, bool, error) {
	id, ok := m.get(phone)
	if !ok {
		return Identity{}, false, nil
	}
	id.Enhanced = true
	return id, true, nil
}

func (m *Memory) get(phone string) (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPhone[NormalizePhone(phone)]
	return id, ok
}
