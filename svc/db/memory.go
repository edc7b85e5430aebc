package db

import (
	"context"
	"sync"
	"time"

	"upldis/pkg/domain"
)

// Memory is a process-local Store. It honours TTLs and generations like the
// durable backends and is used for development and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	value []byte
	gen   int64
	exp   int64
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for TTL checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
func (m *Memory) live(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.exp != 0 && e.exp <= m.now().UnixNano() {
		return nil
	}
	return e
}
func (m *Memory) Lookup(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.live(key)
	if e == nil {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}
func (m *Memory) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var gen int64 = 1
	if e := m.live(key); e != nil {
		gen = e.gen + 1
	}
	m.entries[key] = &memEntry{
		value: append([]byte(nil), value...),
		gen:   gen,
		exp:   expiry(m.now(), ttl),
	}
	return nil
}
func (m *Memory) Append(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		m.entries[key] = &memEntry{value: append([]byte(nil), value...), gen: 1}
		return nil
	}
	e.value = append(e.value, value...)
	e.gen++
	return nil
}
func (m *Memory) Generation(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.live(key); e != nil {
		return e.gen, nil
	}
	return 0, nil
}
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
func (m *Memory) Close() error {
	return nil
}
