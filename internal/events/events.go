// Package events fans captured request summaries out to live subscribers of
// a tenant.
package events

import (
	"sync"

	"echohook/internal/types"
)

const subscriberBuffer = 32

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan types.RequestSummary]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan types.RequestSummary]struct{})}
}

// Subscribe registers a feed for tenantID. The returned cancel func must be
// called once the subscriber is done; it closes the channel.
func (b *Broker) Subscribe(tenantID string) (<-chan types.RequestSummary, func()) {
	ch := make(chan types.RequestSummary, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[tenantID]
	if !ok {
		set = make(map[chan types.RequestSummary]struct{})
		b.subs[tenantID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(set, ch)
			if len(b.subs[tenantID]) == 0 {
				delete(b.subs, tenantID)
			}
			close(ch)
		})
	}
}

// Publish delivers s to every subscriber of tenantID. Slow subscribers miss
// events instead of blocking the publisher; the number dropped is returned.
func (b *Broker) Publish(tenantID string, s types.RequestSummary) (dropped int) {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[tenantID] {
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribers reports how many feeds are open for tenantID.
func (b *Broker) Subscribers(tenantID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tenantID])
}
