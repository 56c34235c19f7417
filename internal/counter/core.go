package counter

import (
	"sync"

	"go.uber.org/atomic"
)

// core is the saturating count register and limit notification logic shared
// by every unit implementation.
type core struct {
	guard     sync.Locker
	low, high int32

	count   atomic.Int32
	status  atomic.Int32
	pending atomic.Bool
	running atomic.Bool

	// handler is guarded by guard.
	handler  func()
	spurious atomic.Int64
}

func newCore(cfg Config) *core {
	g := cfg.Guard
	if g == nil {
		g = &sync.Mutex{}
	}
	return &core{guard: g, low: cfg.Low, high: cfg.High}
}

// Count returns the current count.
func (c *core) Count() int32 {
	return c.count.Load()
}

// Clear resets the count to zero. Safe to call with the guard held.
func (c *core) Clear() {
	c.count.Store(0)
}

// OnLimit registers the limit handler.
func (c *core) OnLimit(handler func()) {
	c.guard.Lock()
	c.handler = handler
	c.guard.Unlock()
}

// Status returns the latched limit event.
func (c *core) Status() Event {
	return Event(c.status.Load())
}

// Acknowledge clears the pending notification.
func (c *core) Acknowledge() {
	c.pending.Store(false)
}

// step applies one decoded edge. It is a no-op until the unit is started.
func (c *core) step(delta int32) {
	if !c.running.Load() {
		return
	}

	c.guard.Lock()
	defer c.guard.Unlock()

	// Level triggered: an unacknowledged notification fires again.
	if c.pending.Load() {
		c.spurious.Inc()
		c.notify()
	}

	n := c.count.Load() + delta
	switch {
	case n >= c.high:
		c.count.Store(0)
		c.raise(EventHighLimit)
	case n <= c.low:
		c.count.Store(0)
		c.raise(EventLowLimit)
	default:
		c.count.Store(n)
	}
}

// raise latches ev and notifies. Guard must be held.
func (c *core) raise(ev Event) {
	c.status.Store(int32(ev))
	c.pending.Store(true)
	c.notify()
}

func (c *core) notify() {
	if c.handler != nil {
		c.handler()
	}
}
