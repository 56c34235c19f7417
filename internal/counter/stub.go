//go:build !linux

package counter

import "errors"

// ChipPool is not available on non-Linux platforms.
type ChipPool struct{}

// NewChipPool returns an error on non-Linux platforms.
func NewChipPool(chip string, units int) (*ChipPool, error) {
	return nil, errors.New("counter: not supported on this platform (requires Linux)")
}

// Acquire always fails on non-Linux platforms.
func (p *ChipPool) Acquire(cfg Config) (Unit, error) {
	return nil, ErrNoFreeUnit
}
