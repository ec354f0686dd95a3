package engine

import "sync"

// Change reports that feature definitions moved. Keys lists the affected
// features when known. A non-nil Err means the engine failed to refresh.
type Change struct {
	Keys []string
	Err  error
}

// Broadcaster fans changes out to subscribers. Publishing never blocks: a
// subscriber that has not drained its previous notification misses the new one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

// Subscribe registers a listener and returns its channel and an unsubscribe func.
func (b *Broadcaster) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 1)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Change]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish notifies all listeners (non-blocking).
func (b *Broadcaster) Publish(c Change) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default: // slow subscriber, skip instead of blocking
		}
	}
	b.mu.Unlock()
}
