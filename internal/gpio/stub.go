//go:build !linux

package gpio

import "errors"

// RealInterrupts is not available on non-Linux platforms.
type RealInterrupts struct{}

// NewRealInterrupts returns an error on non-Linux platforms.
func NewRealInterrupts(chip string) (*RealInterrupts, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// AttachRising is not implemented on non-Linux platforms.
func (r *RealInterrupts) AttachRising(pin int, pull Pull, handler func()) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealInterrupts) Close() error {
	return nil
}
