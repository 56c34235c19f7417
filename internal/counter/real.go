//go:build linux

package counter

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/shaft-encoder/internal/gpio"
)

// ChipPool provides software counting units over the Linux GPIO character
// device. Each unit watches both edges of its A and B lines and decodes them
// in the kernel event handler goroutine.
type ChipPool struct {
	chip string

	mu       sync.Mutex
	capacity int
	inUse    int
}

// NewChipPool creates a pool of at most units counting units on chip.
func NewChipPool(chip string, units int) (*ChipPool, error) {
	if units <= 0 {
		return nil, fmt.Errorf("counter: pool needs at least one unit, got %d", units)
	}
	return &ChipPool{chip: chip, capacity: units}, nil
}

// Acquire requests the A and B lines and returns a stopped unit.
func (p *ChipPool) Acquire(cfg Config) (Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.inUse >= p.capacity {
		p.mu.Unlock()
		return nil, ErrNoFreeUnit
	}
	p.inUse++
	p.mu.Unlock()

	u := &chipUnit{core: newCore(cfg), pool: p, pinA: cfg.PinA, pinB: cfg.PinB}
	lines, err := gpiocdev.RequestLines(p.chip, []int{cfg.PinA, cfg.PinB},
		gpiocdev.AsInput,
		gpio.BiasOption(cfg.Pull),
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("shaft-encoder"),
		gpiocdev.WithEventHandler(u.handleEvent))
	if err != nil {
		p.release()
		return nil, fmt.Errorf("request pins %d,%d: %w", cfg.PinA, cfg.PinB, err)
	}
	u.lines = lines

	vals := make([]int, 2)
	if err := lines.Values(vals); err != nil {
		lines.Close()
		p.release()
		return nil, fmt.Errorf("read initial levels: %w", err)
	}
	u.levelMu.Lock()
	u.a, u.b = vals[0], vals[1]
	u.dec.reset(u.a, u.b)
	u.levelMu.Unlock()

	return u, nil
}

func (p *ChipPool) release() {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
}

type chipUnit struct {
	*core
	pool       *ChipPool
	pinA, pinB int
	lines      *gpiocdev.Lines

	levelMu sync.Mutex
	a, b    int
	dec     quadrature

	closeOnce sync.Once
}

// handleEvent runs on the gpiocdev event goroutine for both lines.
func (u *chipUnit) handleEvent(evt gpiocdev.LineEvent) {
	level := 0
	if evt.Type == gpiocdev.LineEventRisingEdge {
		level = 1
	}

	u.levelMu.Lock()
	switch evt.Offset {
	case u.pinA:
		u.a = level
	case u.pinB:
		u.b = level
	default:
		u.levelMu.Unlock()
		return
	}
	d := u.dec.update(u.a, u.b)
	u.levelMu.Unlock()

	if d != 0 {
		u.step(d)
	}
}

// Start enables counting.
func (u *chipUnit) Start() error {
	if u.lines == nil {
		return fmt.Errorf("counter: unit on pins %d,%d is closed", u.pinA, u.pinB)
	}
	u.running.Store(true)
	return nil
}

// Close releases the lines and returns the unit to its pool.
func (u *chipUnit) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.running.Store(false)
		if u.lines != nil {
			err = u.lines.Close()
		}
		u.lines = nil
		u.pool.release()
	})
	if err != nil {
		return fmt.Errorf("close unit: %w", err)
	}
	return nil
}
