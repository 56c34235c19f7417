// Package encoder reconstructs an absolute, wrap-aware shaft angle from a
// bounded quadrature counting unit, a software overflow tally and an optional
// index pulse.
//
// Three contexts touch the encoder state: the counting unit's limit handler,
// the index pin handler, and callers of Angle. All three run under one
// per-encoder mutex, which is also handed to the counting unit as its guard,
// so a reader never sees the hardware count and the tally out of step.
package encoder

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sweeney/shaft-encoder/internal/counter"
	"github.com/sweeney/shaft-encoder/internal/gpio"
)

// NoIndex marks an encoder without an index pin.
const NoIndex = -1

// Uninitialized is the angle reported before Init has succeeded.
const Uninitialized = -1.0

const twoPi = 2 * math.Pi

// ErrAlreadyInitialized is returned by Init on an encoder that is running.
var ErrAlreadyInitialized = errors.New("encoder: already initialized")

// Sensor is the angle sensor capability the control loop consumes.
type Sensor interface {
	// Init configures the hardware. On error the sensor stays uninitialized.
	Init() error

	// NeedsSearch reports whether the shaft must still be driven past the
	// index mark before the angle is absolute.
	NeedsSearch() bool

	// Angle returns the shaft angle in radians in [0, 2π), or -1 when the
	// sensor is not initialized.
	Angle() float64
}

// Config describes an encoder. It is fixed at construction.
type Config struct {
	PinA, PinB int
	PPR        int // pulses per revolution; counts per revolution is PPR*4
	PinIndex   int // NoIndex if the encoder has no index channel
	Pull       gpio.Pull

	// Saturation bounds of the counting unit. Zero selects the 16-bit defaults.
	Low, High int32
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PPR <= 0 {
		return fmt.Errorf("encoder: ppr must be positive, got %d", c.PPR)
	}
	if c.PinA < 0 || c.PinB < 0 || c.PinA == c.PinB {
		return fmt.Errorf("encoder: invalid quadrature pins a=%d b=%d", c.PinA, c.PinB)
	}
	if c.PinIndex < NoIndex {
		return fmt.Errorf("encoder: invalid index pin %d", c.PinIndex)
	}
	if c.PinIndex != NoIndex && (c.PinIndex == c.PinA || c.PinIndex == c.PinB) {
		return fmt.Errorf("encoder: index pin %d shared with a quadrature pin", c.PinIndex)
	}
	return nil
}

// Encoder accumulates a quadrature count into an absolute angle.
type Encoder struct {
	cfg       Config
	cpr       int64
	low, high int32

	alloc  counter.Allocator
	irq    gpio.Interrupts
	logger *zap.SugaredLogger

	mu    sync.Mutex
	unit  counter.Unit
	tally int64 // whole-range crossings not reflected in the unit's count

	initialized    atomic.Bool
	referenceFound atomic.Bool
}

var _ Sensor = (*Encoder)(nil)

// New creates an encoder. irq may be nil when cfg has no index pin.
// The encoder is unusable until Init succeeds.
func New(cfg Config, alloc counter.Allocator, irq gpio.Interrupts, logger *zap.SugaredLogger) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, errors.New("encoder: nil counter allocator")
	}
	if cfg.PinIndex != NoIndex && irq == nil {
		return nil, errors.New("encoder: index pin configured without interrupts")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	low, high := cfg.Low, cfg.High
	if low == 0 {
		low = counter.DefaultLow
	}
	if high == 0 {
		high = counter.DefaultHigh
	}

	return &Encoder{
		cfg:    cfg,
		cpr:    int64(cfg.PPR) * 4,
		low:    low,
		high:   high,
		alloc:  alloc,
		irq:    irq,
		logger: logger,
	}, nil
}

// Init finds a free counting unit, bounds it, registers the overflow and
// index handlers and starts counting.
func (e *Encoder) Init() error {
	if e.initialized.Load() {
		return ErrAlreadyInitialized
	}

	unit, err := e.alloc.Acquire(counter.Config{
		PinA:  e.cfg.PinA,
		PinB:  e.cfg.PinB,
		Low:   e.low,
		High:  e.high,
		Pull:  e.cfg.Pull,
		Guard: &e.mu,
	})
	if err != nil {
		e.logger.Warnw("encoder init failed", "pin_a", e.cfg.PinA, "pin_b", e.cfg.PinB, "error", err)
		return fmt.Errorf("acquire counting unit: %w", err)
	}

	unit.Clear()
	unit.OnLimit(func() { e.reconcileOverflow(unit) })

	e.mu.Lock()
	e.unit = unit
	e.tally = 0
	e.mu.Unlock()

	if err := unit.Start(); err != nil {
		e.release(unit)
		e.logger.Warnw("encoder init failed", "stage", "start", "error", err)
		return fmt.Errorf("start counting unit: %w", err)
	}

	if e.HasIndex() {
		if err := e.irq.AttachRising(e.cfg.PinIndex, e.cfg.Pull, e.handleIndex); err != nil {
			e.release(unit)
			e.logger.Warnw("encoder init failed", "stage", "index", "pin_index", e.cfg.PinIndex, "error", err)
			return fmt.Errorf("attach index pin %d: %w", e.cfg.PinIndex, err)
		}
	}

	e.initialized.Store(true)
	e.logger.Infow("encoder initialized",
		"pin_a", e.cfg.PinA,
		"pin_b", e.cfg.PinB,
		"pin_index", e.cfg.PinIndex,
		"cpr", e.cpr,
		"pull", e.cfg.Pull.String())
	return nil
}

func (e *Encoder) release(unit counter.Unit) {
	if err := unit.Close(); err != nil {
		e.logger.Warnw("release counting unit", "error", err)
	}
	e.mu.Lock()
	e.unit = nil
	e.mu.Unlock()
}

// reconcileOverflow runs when the unit reaches a limit. The unit has already
// reset its count to zero, so the tally absorbs the limit value to keep the
// combined count continuous. Called with e.mu held; O(1), never blocks.
func (e *Encoder) reconcileOverflow(unit counter.Unit) {
	switch unit.Status() {
	case counter.EventLowLimit:
		e.tally += int64(e.low)
	case counter.EventHighLimit:
		e.tally += int64(e.high)
	default:
	}
	// Unconditional, or the notification fires again on the next edge.
	unit.Acknowledge()
}

// handleIndex zeroes the angle on the index pulse.
func (e *Encoder) handleIndex() {
	e.mu.Lock()
	if e.unit != nil {
		e.unit.Clear()
	}
	e.tally = 0
	e.referenceFound.Store(true)
	e.mu.Unlock()
}

// Angle returns the shaft angle in radians in [0, 2π), or Uninitialized.
func (e *Encoder) Angle() float64 {
	pos := e.Position()
	if pos < 0 {
		return Uninitialized
	}
	return twoPi * (float64(pos) / float64(e.cpr))
}

// Position returns the wrapped count in [0, CPR), or -1 when uninitialized.
func (e *Encoder) Position() int64 {
	if !e.initialized.Load() {
		return -1
	}

	e.mu.Lock()
	if e.unit == nil {
		// Closed after the initialized check.
		e.mu.Unlock()
		return -1
	}
	count := e.unit.Count()
	// Keep the tally bounded across long runs.
	e.tally = floorMod(e.tally, e.cpr)
	sum := floorMod(e.tally+int64(count), e.cpr)
	e.mu.Unlock()

	return sum
}

// NeedsSearch is true while an index pin is configured and has not fired.
func (e *Encoder) NeedsSearch() bool {
	return e.HasIndex() && !e.referenceFound.Load()
}

// HasIndex reports whether an index pin was configured.
func (e *Encoder) HasIndex() bool {
	return e.cfg.PinIndex != NoIndex
}

// Initialized reports whether Init has succeeded.
func (e *Encoder) Initialized() bool {
	return e.initialized.Load()
}

// CPR returns the counts per revolution.
func (e *Encoder) CPR() int64 {
	return e.cpr
}

// Close releases the counting unit. The interrupts are owned by the caller.
func (e *Encoder) Close() error {
	if !e.initialized.CompareAndSwap(true, false) {
		return nil
	}

	e.mu.Lock()
	unit := e.unit
	e.unit = nil
	e.mu.Unlock()

	if err := unit.Close(); err != nil {
		return fmt.Errorf("close counting unit: %w", err)
	}
	return nil
}

// floorMod returns a mod m in [0, m), unlike Go's truncating %.
func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
