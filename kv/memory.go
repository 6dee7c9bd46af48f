package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with TTL support. Test fake; safe for
// concurrent use.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryKV() *Memory {
	return &Memory{items: make(map[string]memoryItem), clock: time.Now}
}

// SetClock overrides the time source so TTL behavior is testable.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.getLocked(key)
	return val, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.getLocked(key)
	if !ok || current != value {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *Memory) getLocked(key string) (string, bool) {
	item, ok := m.items[key]
	if !ok {
		return "", false
	}
	if !item.expiresAt.IsZero() && !item.expiresAt.After(m.clock()) {
		delete(m.items, key)
		return "", false
	}
	return item.value, true
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.clock().Add(ttl)
	}
	m.items[key] = item
}
