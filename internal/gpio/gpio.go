// Package gpio provides edge interrupts on GPIO inputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Pull selects how an input line is biased.
type Pull int

const (
	PullNone     Pull = iota // floating, no bias
	PullInternal             // internal pull-up enabled
	PullExternal             // pull-up provided by the board, bias disabled
)

// String returns the configuration name of the pull mode.
func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullInternal:
		return "internal"
	case PullExternal:
		return "external"
	default:
		return fmt.Sprintf("pull(%d)", int(p))
	}
}

// ParsePull converts a configuration value ("none", "internal", "external")
// into a Pull. The empty string is treated as "none".
func ParsePull(s string) (Pull, error) {
	switch s {
	case "", "none":
		return PullNone, nil
	case "internal":
		return PullInternal, nil
	case "external":
		return PullExternal, nil
	default:
		return PullNone, fmt.Errorf("unknown pull mode %q (want none, internal or external)", s)
	}
}

// Interrupts attaches callbacks to input edges.
type Interrupts interface {
	// AttachRising requests pin as an input with the given bias and calls
	// handler on every rising edge. The handler runs on the event goroutine
	// and must return quickly.
	AttachRising(pin int, pull Pull, handler func()) error

	// Close releases all attached lines.
	Close() error
}

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"
