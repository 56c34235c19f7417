//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// RealInterrupts delivers edge events from actual hardware using the Linux
// GPIO character device.
type RealInterrupts struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines []*gpiocdev.Line
}

// NewRealInterrupts opens the named GPIO chip (e.g. "gpiochip0").
func NewRealInterrupts(chip string) (*RealInterrupts, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("shaft-encoder"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealInterrupts{chip: c}, nil
}

// AttachRising requests pin as an input and calls handler on each rising edge.
func (r *RealInterrupts) AttachRising(pin int, pull Pull, handler func()) error {
	line, err := r.chip.RequestLine(pin,
		gpiocdev.AsInput,
		BiasOption(pull),
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			handler()
		}))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}

	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	return nil
}

// Close releases every attached line and the chip.
func (r *RealInterrupts) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for _, l := range r.lines {
		err = multierr.Append(err, l.Close())
	}
	r.lines = nil
	if r.chip != nil {
		err = multierr.Append(err, r.chip.Close())
		r.chip = nil
	}
	if err != nil {
		return fmt.Errorf("close interrupts: %w", err)
	}
	return nil
}

// BiasOption maps a Pull to the line bias requested from the kernel.
// An external pull-up needs the internal bias disabled so the two do not fight.
func BiasOption(p Pull) gpiocdev.LineReqOption {
	if p == PullInternal {
		return gpiocdev.WithPullUp
	}
	return gpiocdev.WithBiasDisabled
}
