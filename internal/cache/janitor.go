package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often RunJanitor drops expired entries.
const DefaultSweepInterval = 10 * time.Minute

// Sweep removes every expired entry and returns how many were removed.
// Lookups already ignore expired entries; sweeping bounds memory use for
// tokens that are never redeemed again.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	removed := 0
	for key, rec := range m.records {
		if rec.expiry <= now {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// RunJanitor sweeps the cache every interval. It blocks until ctx is
// cancelled.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Debug("memory cache janitor started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("memory cache swept", "removed", n, "remaining", m.Len())
			}
		}
	}
}
