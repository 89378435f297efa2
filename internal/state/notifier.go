package state

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 16

type subscription struct {
	ch     chan Change
	cancel context.CancelFunc
}

// Notifier fans changes out to subscribers. The zero value is not usable;
// create one with NewNotifier.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*subscription
	buffer int
	closed bool
}

// NewNotifier returns a Notifier with the given per-subscriber buffer.
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Notifier{subs: make(map[uuid.UUID]*subscription), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed when cancel is
// called, ctx ends, or the notifier closes.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}

	subCtx, cancel := context.WithCancel(ctx)
	id := uuid.New()
	sub := &subscription{ch: make(chan Change, n.buffer), cancel: cancel}
	n.subs[id] = sub

	go func() {
		<-subCtx.Done()
		n.remove(id)
	}()

	return sub.ch, cancel
}

func (n *Notifier) remove(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subs[id]; ok {
		close(sub.ch)
		delete(n.subs, id)
	}
}

// Publish delivers c to every subscriber with room in its buffer.
func (n *Notifier) Publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.ch <- c:
		default:
		}
	}
}

// Count returns the number of live subscribers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		sub.cancel()
		close(sub.ch)
		delete(n.subs, id)
	}
}
