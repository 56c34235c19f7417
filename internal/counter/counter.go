// Package counter abstracts a bounded pulse counting unit fed by a quadrature
// encoder.
//
// A unit counts up and down on every A/B edge (4x decoding). When the count
// reaches the configured High or Low limit it resets to zero, latches which
// limit was reached, and raises a notification. The notification stays pending
// until the handler acknowledges it; a pending notification re-fires on the
// next edge.
package counter

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sweeney/shaft-encoder/internal/gpio"
)

// ErrNoFreeUnit is returned by an Allocator when every counting unit is in use.
var ErrNoFreeUnit = errors.New("counter: no free counting unit")

// Default saturation bounds: the range of a 16-bit signed hardware register.
const (
	DefaultLow  = math.MinInt16
	DefaultHigh = math.MaxInt16
)

// Event is the latched limit status of a unit.
type Event int

const (
	EventNone Event = iota
	EventLowLimit
	EventHighLimit
)

// String returns a readable name for the event.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventLowLimit:
		return "LOW_LIMIT"
	case EventHighLimit:
		return "HIGH_LIMIT"
	default:
		return fmt.Sprintf("EVENT(%d)", int(e))
	}
}

// Config describes how a unit is wired and bounded.
type Config struct {
	PinA, PinB int
	Low, High  int32
	Pull       gpio.Pull

	// Guard is the critical section shared with the unit's owner. Count
	// mutation and limit handlers run with Guard held, so an owner holding it
	// sees the count and its own overflow state as one unit. If nil the unit
	// uses a private mutex.
	Guard sync.Locker
}

// Validate rejects configurations a counting unit cannot honour.
func (c Config) Validate() error {
	if c.PinA < 0 || c.PinB < 0 {
		return fmt.Errorf("counter: invalid pins a=%d b=%d", c.PinA, c.PinB)
	}
	if c.PinA == c.PinB {
		return fmt.Errorf("counter: pins a and b must differ (both %d)", c.PinA)
	}
	if c.Low >= 0 || c.High <= 0 {
		return fmt.Errorf("counter: limits must straddle zero (low=%d high=%d)", c.Low, c.High)
	}
	return nil
}

// Unit is a single configured counting unit.
type Unit interface {
	// Count returns the current signed count without side effects.
	Count() int32

	// Clear resets the count to zero.
	Clear()

	// OnLimit registers the handler called when a limit is reached.
	// The handler runs with the configured Guard held and must not block.
	OnLimit(handler func())

	// Status returns the limit event latched by the last notification.
	Status() Event

	// Acknowledge clears the pending notification.
	Acknowledge()

	// Start begins counting edges.
	Start() error

	// Close releases the unit back to its allocator.
	Close() error
}

// Allocator hands out free counting units.
type Allocator interface {
	// Acquire configures a free unit. Returns ErrNoFreeUnit when none is left.
	Acquire(cfg Config) (Unit, error)
}
