// Package clocksync aligns the rig's wall clock with the navigation
// sensor's GPS time and measures the residual offset against the local
// monotonic clock.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/pkg/core"
)

var (
	// ErrNoFix is returned when the reference never reports a qualifying fix
	// before the timeout. The caller continues unsynced.
	ErrNoFix = errors.New("no qualifying fix before timeout")
	// ErrNotConverged is returned when the offset is still outside the
	// acceptance band after the maximum number of wall clock adjustments.
	ErrNotConverged = errors.New("clock offset did not converge")
)

// Reference is the part of the navigation sensor the synchronizer polls.
type Reference interface {
	FixQuality(ctx context.Context) (core.FixClass, error)
	AbsoluteTime(ctx context.Context) (time.Time, int64, error)
}

// Options tune the synchronization loop.
type Options struct {
	Timeout        time.Duration
	PollInterval   time.Duration
	SampleInterval time.Duration
	Qualifying     core.FixClass
	AcceptBand     time.Duration
	MaxAdjustments int
	// AdjustWall allows setting the wall clock. When false an out-of-band
	// offset is recorded as measured.
	AdjustWall bool
}

// DefaultOptions match the field rig.
func DefaultOptions() Options {
	return Options{
		Timeout:        60 * time.Second,
		PollInterval:   500 * time.Millisecond,
		SampleInterval: 200 * time.Millisecond,
		Qualifying:     core.Fix3D,
		AcceptBand:     time.Second,
		MaxAdjustments: 5,
		AdjustWall:     true,
	}
}

// Synchronizer runs the one-shot synchronization.
type Synchronizer struct {
	ref    Reference
	wall   clock.WallClock
	clock  clock.Clock
	opts   Options
	logger *slog.Logger
}

// New creates a Synchronizer.
func New(ref Reference, wall clock.WallClock, clk clock.Clock, opts Options, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{ref: ref, wall: wall, clock: clk, opts: opts, logger: logger.With("component", "clocksync")}
}

// Synchronize waits for a qualifying fix, then steps the wall clock until
// it agrees with the reference to within the acceptance band, and returns
// the residual offset. Past timestamps are never touched; the offset only
// annotates them.
func (s *Synchronizer) Synchronize(ctx context.Context) (core.ClockOffset, error) {
	fix, err := s.waitForFix(ctx)
	if err != nil {
		return core.ClockOffset{}, err
	}

	adjustments := 0
	for {
		ext, mono, err := s.ref.AbsoluteTime(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return core.ClockOffset{}, ctx.Err()
			}
			s.logger.Warn("Failed to read reference time", "error", err)
			if err := sleep(ctx, s.opts.SampleInterval); err != nil {
				return core.ClockOffset{}, err
			}
			continue
		}

		delta := s.measure(ext, mono)
		offset := core.ClockOffset{
			LocalMonotonicNs: mono,
			ExternalAbsolute: ext,
			DeltaSeconds:     delta.Seconds(),
			Adjustments:      adjustments,
			Fix:              fix,
		}

		if abs(delta) < s.opts.AcceptBand || !s.opts.AdjustWall {
			if abs(delta) >= s.opts.AcceptBand {
				s.logger.Warn("Clock offset outside band, wall clock adjustment disabled", "deltaSeconds", offset.DeltaSeconds)
			}
			s.logger.Info("Clock offset accepted",
				"deltaSeconds", offset.DeltaSeconds,
				"adjustments", adjustments,
				"fix", fix.String())
			return offset, nil
		}

		if adjustments >= s.opts.MaxAdjustments {
			return offset, fmt.Errorf("%w: delta %s after %d adjustments", ErrNotConverged, delta, adjustments)
		}

		target := s.wall.Now().Add(delta)
		if err := s.wall.Set(target); err != nil {
			return offset, fmt.Errorf("setting wall clock: %w", err)
		}
		adjustments++
		s.logger.Info("Wall clock adjusted", "deltaSeconds", offset.DeltaSeconds, "to", target.UTC().Format(time.RFC3339Nano))

		if err := sleep(ctx, s.opts.SampleInterval); err != nil {
			return core.ClockOffset{}, err
		}
	}
}

// measure converts the monotonic stamp of the reference sample to wall time
// and returns external minus local.
func (s *Synchronizer) measure(ext time.Time, mono int64) time.Duration {
	refWall := s.wall.Now()
	refMono := s.clock.NowNs()
	local := clock.ToWall(mono, refMono, refWall)
	return ext.Sub(local)
}

func (s *Synchronizer) waitForFix(ctx context.Context) (core.FixClass, error) {
	wctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	last := core.NoFix
	for {
		fix, err := s.ref.FixQuality(wctx)
		switch {
		case err != nil:
			s.logger.Debug("Fix poll failed", "error", err)
		case fix.AtLeast(s.opts.Qualifying):
			s.logger.Info("Qualifying fix", "fix", fix.String())
			return fix, nil
		default:
			if fix != last {
				s.logger.Info("Waiting for fix", "fix", fix.String(), "want", s.opts.Qualifying.String())
			}
			last = fix
		}

		if err := sleep(wctx, s.opts.PollInterval); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("%w: last fix %s after %s", ErrNoFix, last, s.opts.Timeout)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
