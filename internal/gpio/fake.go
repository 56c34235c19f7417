package gpio

import (
	"fmt"
	"sync"
)

// FakeInterrupts is a test double that records attached handlers and lets a
// test fire edges on demand.
type FakeInterrupts struct {
	mu       sync.Mutex
	handlers map[int]func()

	// Pulls records the bias requested for each attached pin.
	Pulls map[int]Pull

	// AttachError, if set, will be returned by AttachRising.
	AttachError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeInterrupts creates an empty FakeInterrupts.
func NewFakeInterrupts() *FakeInterrupts {
	return &FakeInterrupts{
		handlers: make(map[int]func()),
		Pulls:    make(map[int]Pull),
	}
}

// AttachRising records handler for pin.
func (f *FakeInterrupts) AttachRising(pin int, pull Pull, handler func()) error {
	if f.AttachError != nil {
		return f.AttachError
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[pin]; ok {
		return fmt.Errorf("pin %d already attached", pin)
	}
	f.handlers[pin] = handler
	f.Pulls[pin] = pull
	return nil
}

// Attached reports whether a handler is registered for pin.
func (f *FakeInterrupts) Attached(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[pin]
	return ok
}

// Fire simulates a rising edge on pin, calling its handler synchronously.
// Returns false if nothing is attached to pin.
func (f *FakeInterrupts) Fire(pin int) bool {
	f.mu.Lock()
	h, ok := f.handlers[pin]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h()
	return true
}

// Close marks the fake as closed and drops all handlers.
func (f *FakeInterrupts) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = make(map[int]func())
	f.Closed = true
	return nil
}
