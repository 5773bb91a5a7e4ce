// Package notify provides a small mutex-guarded broadcaster used for
// "stats changed" and "reconstruction updated" notifications.
package notify

import "sync"

// Broadcaster fans out empty signal events to subscribers. Sends never
// block: a subscriber that has not drained its channel misses the signal
// rather than stalling the writer.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// New returns an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan struct{})}
}

// Subscribe registers a listener. The returned cancel func removes the
// subscription; calling it more than once is harmless.
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Notify signals all current subscribers.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
