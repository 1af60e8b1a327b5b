package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
)

const shardCount = 32

// MemoryCounter is an in-process Counter. Keys are spread over mutex-guarded
// shards so unrelated clients do not contend on one lock.
type MemoryCounter struct {
	clock        clockwork.Clock
	cleanupEvery time.Duration
	shards       [shardCount]counterShard
}

type counterShard struct {
	mu      sync.Mutex
	entries map[string]*window
}

type window struct {
	count     int64
	expiresAt time.Time
}

type MemoryOption func(*MemoryCounter)

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(m *MemoryCounter) { m.cleanupEvery = d }
}

func NewMemoryCounter(clock clockwork.Clock, opts ...MemoryOption) *MemoryCounter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &MemoryCounter{
		clock:        clock,
		cleanupEvery: Window,
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*window)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := m.clock.Now()
	sh := m.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.entries[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(ttl)}
		sh.entries[key] = w
	}
	w.count++
	return w.count, nil
}

// Sweep drops expired windows and returns how many were removed.
func (m *MemoryCounter) Sweep() int {
	now := m.clock.Now()
	var removed int
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for k, w := range sh.entries {
			if !now.Before(w.expiresAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len is the number of live and not yet swept windows.
func (m *MemoryCounter) Len() int {
	var n int
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Run sweeps expired windows every cleanup interval until ctx is done.
func (m *MemoryCounter) Run(ctx context.Context) error {
	if m.cleanupEvery <= 0 {
		<-ctx.Done()
		return nil
	}
	t := m.clock.NewTicker(m.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			m.Sweep()
		}
	}
}

func (m *MemoryCounter) shard(key string) *counterShard {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}
