package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process backend with the same expiry semantics as Redis.
// It is meant for development setups without a Redis server.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	entry  Entry
	expiry int64
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		records: make(map[string]memoryRecord),
	}
}

func (m *Memory) lookup(key string) (memoryRecord, bool) {
	rec, ok := m.records[key]
	if !ok {
		return memoryRecord{}, false
	}
	if rec.expiry <= m.now().Unix() {
		delete(m.records, key)
		return memoryRecord{}, false
	}
	return rec, true
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(key)
	return rec.entry, ok
}

func (m *Memory) Expiry(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrGone, key)
	}
	return rec.expiry, nil
}

func (m *Memory) Set(_ context.Context, key string, e Entry) (int64, error) {
	expiry, err := e.Expiry()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryRecord{entry: e, expiry: expiry}
	return expiry, nil
}
