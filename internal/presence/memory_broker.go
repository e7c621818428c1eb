package presence

import (
	"context"
	"sync"
)

// MemoryBroker is a process-local Broker for single-node deployments that
// run without redis. The roster it holds is not shared across processes.
type MemoryBroker struct {
	mu          sync.Mutex
	entries     map[string][]byte
	subscribers map[int]chan struct{}
	nextSub     int
}

// NewMemoryBroker constructs an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		entries:     make(map[string][]byte),
		subscribers: make(map[int]chan struct{}),
	}
}

// Track upserts an entry and signals subscribers.
func (b *MemoryBroker) Track(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	b.entries[key] = stored
	b.mu.Unlock()
	b.notify()
	return nil
}

// Untrack removes an entry and signals subscribers.
func (b *MemoryBroker) Untrack(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	b.notify()
	return nil
}

// Roster returns a copy of all tracked entries.
func (b *MemoryBroker) Roster(_ context.Context) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(b.entries))
	for key, value := range b.entries {
		copied := make([]byte, len(value))
		copy(copied, value)
		out[key] = copied
	}
	return out, nil
}

// Subscribe registers a change-signal channel. Signals coalesce: a slow
// reader sees at least one signal for any burst of changes.
func (b *MemoryBroker) Subscribe(_ context.Context) (<-chan struct{}, func(), error) {
	signals := make(chan struct{}, 1)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = signals
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(signals)
		})
	}
	return signals, stop, nil
}

// notify signals every subscriber without blocking on full channels.
func (b *MemoryBroker) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, signals := range b.subscribers {
		select {
		case signals <- struct{}{}:
		default:
		}
	}
}
