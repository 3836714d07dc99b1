package trigger

import (
	"fmt"
	"time"

	"github.com/sio-stoke/stoke/internal/clock"
)

// Line is a digital output.
type Line interface {
	Out(high bool) error
}

// Releaser is implemented by lines that hold an OS resource.
type Releaser interface {
	Release() error
}

// Pulser asserts the trigger line for the exposure hold and de-asserts it.
type Pulser struct {
	line      Line
	clock     clock.Clock
	activeLow bool
	timing    Timing
}

// NewPulser creates a pulser and drives the line to its idle level.
func NewPulser(line Line, clk clock.Clock, activeLow bool) (*Pulser, error) {
	p := &Pulser{line: line, clock: clk, activeLow: activeLow}
	if err := p.deassert(); err != nil {
		return nil, fmt.Errorf("idling trigger line: %w", err)
	}
	return p, nil
}

// SetTiming installs the schedule used by Pulse.
func (p *Pulser) SetTiming(t Timing) {
	p.timing = t
}

// Timing returns the installed schedule.
func (p *Pulser) Timing() Timing {
	return p.timing
}

// Pulse asserts the line, spins for the hold time and de-asserts it. The line
// is de-asserted even if asserting reported an error.
func (p *Pulser) Pulse() error {
	return p.pulseFor(p.timing.Hold)
}

// Warmup fires n short pulses separated by gap so both sensors have
// delivered a frame before the first real capture.
func (p *Pulser) Warmup(n int, width, gap time.Duration) error {
	for i := 0; i < n; i++ {
		if err := p.pulseFor(width); err != nil {
			return fmt.Errorf("warmup pulse %d: %w", i+1, err)
		}
		time.Sleep(gap)
	}
	return nil
}

// Release de-asserts the line and then releases it.
func (p *Pulser) Release() error {
	err := p.deassert()
	if r, ok := p.line.(Releaser); ok {
		if rerr := r.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (p *Pulser) pulseFor(hold time.Duration) error {
	start := p.clock.NowNs()
	if err := p.line.Out(!p.activeLow); err != nil {
		_ = p.deassert()
		return fmt.Errorf("asserting trigger: %w", err)
	}
	clock.SpinUntil(p.clock, start+int64(hold))
	if err := p.deassert(); err != nil {
		return fmt.Errorf("de-asserting trigger: %w", err)
	}
	return nil
}

func (p *Pulser) deassert() error {
	return p.line.Out(p.activeLow)
}
