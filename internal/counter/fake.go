package counter

import (
	"errors"
	"sync"
)

// FakePool is a test double that hands out in-memory counting units.
type FakePool struct {
	mu       sync.Mutex
	capacity int
	inUse    int

	// Units contains every unit acquired from the pool, in order.
	Units []*FakeUnit

	// StartError, if set, will be returned by Start on acquired units.
	StartError error
}

// NewFakePool creates a pool with the given number of units.
func NewFakePool(capacity int) *FakePool {
	return &FakePool{capacity: capacity}
}

// Acquire returns a FakeUnit, or ErrNoFreeUnit when the pool is exhausted.
func (p *FakePool) Acquire(cfg Config) (Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.capacity {
		return nil, ErrNoFreeUnit
	}
	p.inUse++

	u := &FakeUnit{core: newCore(cfg), pool: p, Config: cfg}
	p.Units = append(p.Units, u)
	return u, nil
}

// InUse returns the number of units currently acquired.
func (p *FakePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func (p *FakePool) release() {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
}

// FakeUnit is an in-memory counting unit driven by the test.
type FakeUnit struct {
	*core
	pool *FakePool
	dec  quadrature

	// Config is the configuration the unit was acquired with.
	Config Config

	// Closed tracks if Close was called.
	Closed bool
}

// Start enables counting, or returns the pool's StartError.
func (u *FakeUnit) Start() error {
	if u.pool.StartError != nil {
		return u.pool.StartError
	}
	u.running.Store(true)
	return nil
}

// Close releases the unit back to the pool.
func (u *FakeUnit) Close() error {
	if u.Closed {
		return errors.New("counter: unit already closed")
	}
	u.Closed = true
	u.running.Store(false)
	u.pool.release()
	return nil
}

// Edge simulates n decoded quadrature edges. Positive n counts up,
// negative n counts down.
func (u *FakeUnit) Edge(n int) {
	delta := int32(1)
	if n < 0 {
		delta, n = -1, -n
	}
	for i := 0; i < n; i++ {
		u.step(delta)
	}
}

// Levels feeds raw A/B line levels through the quadrature decoder, as the
// edge handler of a real unit does.
func (u *FakeUnit) Levels(a, b int) {
	if d := u.dec.update(a, b); d != 0 {
		u.step(d)
	}
}

// SetCount forces the count register to v without raising a notification.
func (u *FakeUnit) SetCount(v int32) {
	u.guard.Lock()
	u.count.Store(v)
	u.guard.Unlock()
}

// Raise latches ev and fires the limit handler as the hardware would,
// whether or not the count is actually at a limit.
func (u *FakeUnit) Raise(ev Event) {
	u.guard.Lock()
	u.raise(ev)
	u.guard.Unlock()
}

// Pending reports whether a notification is waiting to be acknowledged.
func (u *FakeUnit) Pending() bool {
	return u.pending.Load()
}

// SpuriousFires returns how many times an unacknowledged notification re-fired.
func (u *FakeUnit) SpuriousFires() int64 {
	return u.spurious.Load()
}
