package bridge

import (
	"sync"
)

// Envelope is one message on a Channel. Origin is set by the poster and is
// the only thing a listener can learn about who sent it.
type Envelope struct {
	Origin string
	Data   []byte
}

// Channel is an in-process broadcast medium: every listener sees every
// posted envelope, including its own. Delivery is asynchronous and
// unordered across listeners.
type Channel struct {
	mu        sync.RWMutex
	listeners map[uint64]func(Envelope)
	next      uint64
}

// NewChannel returns an empty Channel.
func NewChannel() *Channel {
	return &Channel{listeners: make(map[uint64]func(Envelope))}
}

// Listen registers fn and returns a function that removes it. fn may be
// called from several goroutines at once.
func (c *Channel) Listen(fn func(Envelope)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
		})
	}
}

// Post delivers a copy of data to every current listener.
func (c *Channel) Post(origin string, data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, fn := range c.listeners {
		env := Envelope{Origin: origin, Data: append([]byte(nil), data...)}
		go fn(env)
	}
}

// Listeners returns the number of registered listeners.
func (c *Channel) Listeners() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}
