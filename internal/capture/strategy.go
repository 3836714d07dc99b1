package capture

import (
	"context"
	"time"
)

// Strategy decides when a burst ends. Next is called at the top of every
// iteration with the number of iterations already run and may block.
type Strategy interface {
	Name() string
	Next(ctx context.Context, done int) (bool, error)
}

type burst struct {
	held func() bool
}

// Burst runs while held reports the primary input asserted. An iteration
// in progress always completes before a release is honored.
func Burst(held func() bool) Strategy {
	return burst{held: held}
}

func (burst) Name() string { return "burst" }

func (b burst) Next(_ context.Context, _ int) (bool, error) {
	return b.held(), nil
}

type fixedCount struct {
	n int
}

// FixedCount runs exactly n iterations.
func FixedCount(n int) Strategy {
	return fixedCount{n: n}
}

func (fixedCount) Name() string { return "count" }

func (f fixedCount) Next(_ context.Context, done int) (bool, error) {
	return done < f.n, nil
}

// Cue is the operator countdown shown before each calibration frame.
type Cue interface {
	Countdown(ctx context.Context) error
	AllOff()
}

type calibration struct {
	n        int
	interval time.Duration
	cue      Cue
}

// Calibration takes n frames, playing cue before each and pausing interval
// after each so the operator can move the target.
func Calibration(n int, interval time.Duration, cue Cue) Strategy {
	return calibration{n: n, interval: interval, cue: cue}
}

func (calibration) Name() string { return "calibration" }

func (c calibration) Next(ctx context.Context, done int) (bool, error) {
	if done > 0 {
		c.cue.AllOff()
		if done >= c.n {
			return false, nil
		}
		t := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
	if done >= c.n {
		return false, nil
	}
	if err := c.cue.Countdown(ctx); err != nil {
		c.cue.AllOff()
		return false, err
	}
	return true, nil
}
