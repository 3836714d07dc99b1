// Package rig owns the sensor session: both frame sources, the trigger line
// and the driver trigger mode, brought up and torn down in a fixed order.
package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/capture"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/trigger"
	"github.com/sio-stoke/stoke/pkg/core"
)

// ErrClosed is returned by Coordinator when no sensor session is open.
var ErrClosed = errors.New("rig: sensor session not open")

// TriggerMode switches both sensors into and out of external-trigger mode.
type TriggerMode interface {
	Enable() error
	Disable() error
}

// Pulser is the trigger line as the rig drives it.
type Pulser interface {
	capture.Pulser
	SetTiming(t trigger.Timing)
	Warmup(n int, width, gap time.Duration) error
	Release() error
}

// Config holds the profile-independent sensor settings.
type Config struct {
	Devices         [2]string
	Width, Height   int
	Format          camera.PixelFormat
	HardwareLatency time.Duration
	RingCapacity    int
	WarmupPulses    int
	WarmupGap       time.Duration
	CaptureTimeout  time.Duration
}

// Rig is the sensor session owner. Only the mode controller opens and
// closes it.
type Rig struct {
	sources [2]camera.Source
	pulser  Pulser
	trigger TriggerMode
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	opts    []capture.Option

	mu         sync.RWMutex
	configured [2]bool
	started    [2]bool
	triggerOn  bool
	timing     trigger.Timing
	coord      *capture.Coordinator
	released   bool
}

// New creates a closed rig. opts are passed to every coordinator the rig
// creates.
func New(sources [2]camera.Source, pulser Pulser, mode TriggerMode, clk clock.Clock, cfg Config, logger *slog.Logger, opts ...capture.Option) *Rig {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rig")
	return &Rig{
		sources: sources,
		pulser:  pulser,
		trigger: mode,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
		opts:    append([]capture.Option{capture.WithLogger(logger)}, opts...),
	}
}

// Open validates profile timing, configures and starts both sources in
// external-trigger mode, fires the warmup pulses and creates a fresh
// coordinator. On failure everything already brought up is torn down again.
func (r *Rig) Open(ctx context.Context, p core.Profile) error {
	timing, err := trigger.NewTiming(p.FrameRate, trigger.Micros(p.ExposureUs), r.cfg.HardwareLatency)
	if err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrClosed
	}
	if r.coord != nil {
		return fmt.Errorf("rig already open")
	}

	if err := r.open(ctx, timing); err != nil {
		if cerr := r.closeLocked(); cerr != nil {
			r.logger.Error("teardown after failed open", "error", cerr)
		}
		return err
	}

	r.logger.Info("Sensor session open",
		"profile", p.Name,
		"fps", p.FrameRate,
		"exposure", timing.Exposure,
		"hold", timing.Hold,
		"idle", timing.Idle)
	return nil
}

func (r *Rig) open(ctx context.Context, timing trigger.Timing) error {
	if err := r.trigger.Enable(); err != nil {
		return err
	}
	r.triggerOn = true

	for i, src := range r.sources {
		err := src.Configure(camera.Config{
			Device:       r.cfg.Devices[i],
			Width:        r.cfg.Width,
			Height:       r.cfg.Height,
			Format:       r.cfg.Format,
			Exposure:     timing.Exposure,
			FrameTimeout: r.cfg.CaptureTimeout,
		})
		if err != nil {
			return fmt.Errorf("configure sensor %d: %w", i, err)
		}
		r.configured[i] = true
	}
	for i, src := range r.sources {
		if err := src.Start(ctx); err != nil {
			return fmt.Errorf("start sensor %d: %w", i, err)
		}
		r.started[i] = true
	}

	r.pulser.SetTiming(timing)
	r.timing = timing
	if r.cfg.WarmupPulses > 0 {
		if err := r.pulser.Warmup(r.cfg.WarmupPulses, timing.Hold, r.cfg.WarmupGap); err != nil {
			return err
		}
		for _, src := range r.sources {
			if f, ok := src.(camera.Flusher); ok {
				f.Flush()
			}
		}
	}

	opts := append([]capture.Option{capture.WithCaptureTimeout(r.cfg.CaptureTimeout)}, r.opts...)
	coord, err := capture.New(r.sources, r.pulser, r.clock, r.cfg.RingCapacity, opts...)
	if err != nil {
		return err
	}
	r.coord = coord
	return nil
}

// Coordinator returns the coordinator of the open session.
func (r *Rig) Coordinator() (*capture.Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.coord == nil {
		return nil, ErrClosed
	}
	return r.coord, nil
}

// Timing returns the schedule of the open session.
func (r *Rig) Timing() trigger.Timing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timing
}

// IsOpen reports whether a sensor session is open.
func (r *Rig) IsOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coord != nil
}

// Occupancy returns ring occupancy of the open session.
func (r *Rig) Occupancy() [2]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.coord == nil {
		return [2]int{}
	}
	return r.coord.Occupancy()
}

// Capacity returns the ring capacity per sensor.
func (r *Rig) Capacity() int {
	return r.cfg.RingCapacity
}

// Close stops both sources, then closes them, then leaves external-trigger
// mode. It is safe to call on a closed rig.
func (r *Rig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Rig) closeLocked() error {
	var errs []error
	for i, src := range r.sources {
		if r.started[i] {
			if err := src.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop sensor %d: %w", i, err))
			}
			r.started[i] = false
		}
	}
	for i, src := range r.sources {
		if r.configured[i] {
			if err := src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close sensor %d: %w", i, err))
			}
			r.configured[i] = false
		}
	}
	if r.triggerOn {
		if err := r.trigger.Disable(); err != nil {
			errs = append(errs, err)
		}
		r.triggerOn = false
	}
	if r.coord != nil {
		r.logger.Info("Sensor session closed")
	}
	r.coord = nil
	return errors.Join(errs...)
}

// Release closes the session and releases the trigger line de-asserted.
// The rig cannot be reopened.
func (r *Rig) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	return errors.Join(r.closeLocked(), r.pulser.Release())
}
