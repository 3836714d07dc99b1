// Package capture runs the trigger/capture loop that turns one operator
// hold into a batch of paired frames.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/clock"
	"github.com/sio-stoke/stoke/internal/queue"
	"github.com/sio-stoke/stoke/internal/trigger"
)

// Pulser fires the shared trigger line.
type Pulser interface {
	Pulse() error
	Timing() trigger.Timing
}

// Iteration is reported to the observer after every iteration.
type Iteration struct {
	Sequence  int
	T1, T2    int64
	Timestamp int64
	// Deadline is the earliest start of the next iteration, T2 + idle.
	Deadline int64
	Err      error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver registers a callback run after every iteration on the
// capture goroutine. It must return quickly.
func WithObserver(fn func(Iteration)) Option {
	return func(c *Coordinator) { c.observe = fn }
}

// WithCaptureTimeout bounds each pair of capture calls.
func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.captureTimeout = d }
}

// Coordinator exclusively owns the trigger and both sources while a burst
// runs. It is not safe for concurrent Run calls.
type Coordinator struct {
	sources        [2]camera.Source
	pulser         Pulser
	clock          clock.Clock
	rings          [2]*queue.Ring[FrameRecord]
	logger         *slog.Logger
	observe        func(Iteration)
	captureTimeout time.Duration

	iterations metric.Int64Counter
	discarded  metric.Int64Counter
	evicted    metric.Int64Counter
	occupancy  metric.Int64ObservableGauge
}

// New creates a coordinator with one ring of ringCapacity per sensor.
func New(sources [2]camera.Source, pulser Pulser, clk clock.Clock, ringCapacity int, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		sources:        sources,
		pulser:         pulser,
		clock:          clk,
		rings:          [2]*queue.Ring[FrameRecord]{queue.NewRing[FrameRecord](ringCapacity), queue.NewRing[FrameRecord](ringCapacity)},
		logger:         slog.Default(),
		captureTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "capture")

	m := meter()
	var err error

	c.iterations, err = m.Int64Counter(
		"capture.iterations",
		metric.WithDescription("Trigger/capture iterations run"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating iterations counter: %w", err)
	}

	c.discarded, err = m.Int64Counter(
		"capture.pairs.discarded",
		metric.WithDescription("Iterations whose frame pair was dropped after a capture failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discarded counter: %w", err)
	}

	c.evicted, err = m.Int64Counter(
		"capture.frames.evicted",
		metric.WithDescription("Frames evicted from a full ring buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating evicted counter: %w", err)
	}

	c.occupancy, err = m.Int64ObservableGauge(
		"capture.ring.occupancy",
		metric.WithDescription("Frames currently buffered per sensor"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating occupancy gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for i, r := range c.rings {
				o.ObserveInt64(c.occupancy, int64(r.Len()),
					metric.WithAttributes(attribute.Int("sensor", i)))
			}
			return nil
		},
		c.occupancy,
	)
	if err != nil {
		return nil, fmt.Errorf("registering occupancy callback: %w", err)
	}

	return c, nil
}

// Occupancy returns the number of records buffered per sensor.
func (c *Coordinator) Occupancy() [2]int {
	return [2]int{c.rings[0].Len(), c.rings[1].Len()}
}

// Capacity returns the ring capacity.
func (c *Coordinator) Capacity() int {
	return c.rings[0].Cap()
}

// Run pulses and captures until strategy stops it, then hands back both
// rings' contents as one batch. The rings are empty when Run returns. A
// cancelled ctx ends the burst early; the frames already buffered are still
// returned alongside ctx's error.
func (c *Coordinator) Run(ctx context.Context, strategy Strategy) (Batch, Summary, error) {
	timing := c.pulser.Timing()
	sum := Summary{
		BurstID:   uuid.NewString(),
		Strategy:  strategy.Name(),
		StartedNs: c.clock.NowNs(),
	}
	logger := c.logger.With("burst", sum.BurstID, "strategy", sum.Strategy)
	logger.Info("Burst started", "period", timing.Period, "hold", timing.Hold, "idle", timing.Idle)

	var runErr error
	for done := 0; ; done++ {
		more, err := strategy.Next(ctx, done)
		if err != nil {
			runErr = err
			break
		}
		if !more {
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		it := c.iterate(ctx, done+1, timing.Idle, &sum, logger)
		if c.observe != nil {
			c.observe(it)
		}
		clock.SpinUntil(c.clock, it.Deadline)
	}

	batch := Batch{
		BurstID:  sum.BurstID,
		Strategy: sum.Strategy,
		Records:  [2][]FrameRecord{c.rings[0].Drain(), c.rings[1].Drain()},
	}
	sum.Captured = batch.Pairs()
	sum.EndedNs = c.clock.NowNs()

	logger.Info("Burst finished",
		"iterations", sum.Iterations,
		"captured", sum.Captured,
		"discarded", sum.Discarded,
		"evicted", sum.Evicted,
		"maxLatency", time.Duration(sum.MaxLatencyNs))
	return batch, sum, runErr
}

// iterate runs one pulse/capture/append step.
func (c *Coordinator) iterate(ctx context.Context, seq int, idle time.Duration, sum *Summary, logger *slog.Logger) Iteration {
	for _, s := range c.sources {
		if f, ok := s.(camera.Flusher); ok {
			f.Flush()
		}
	}

	t1 := c.clock.NowNs()
	pulseErr := c.pulser.Pulse()
	t2 := c.clock.NowNs()

	it := Iteration{
		Sequence:  seq,
		T1:        t1,
		T2:        t2,
		Timestamp: clock.Midpoint(t1, t2),
		Deadline:  t2 + int64(idle),
	}
	sum.Iterations++
	c.iterations.Add(ctx, 1)

	if pulseErr != nil {
		it.Err = fmt.Errorf("%w: sequence %d: trigger: %v", ErrPairDiscarded, seq, pulseErr)
		c.discard(ctx, sum, logger, it.Err, seq)
		return it
	}

	frames, err := c.capturePair(ctx)
	if err != nil {
		it.Err = fmt.Errorf("%w: sequence %d: %v", ErrPairDiscarded, seq, err)
		c.discard(ctx, sum, logger, it.Err, seq)
		return it
	}

	for i := range frames {
		if lat := frames[i].MonotonicNs - it.Timestamp; lat > sum.MaxLatencyNs {
			sum.MaxLatencyNs = lat
		}
		old, dropped := c.rings[i].Push(FrameRecord{
			SensorID:         i,
			Frame:            frames[i],
			CaptureTimestamp: it.Timestamp,
			SequenceIndex:    seq,
		})
		if dropped {
			old.Release()
			if i == 0 {
				sum.Evicted++
			}
			c.evicted.Add(ctx, 1, metric.WithAttributes(attribute.Int("sensor", i)))
		}
	}
	return it
}

func (c *Coordinator) discard(ctx context.Context, sum *Summary, logger *slog.Logger, err error, seq int) {
	sum.Discarded++
	c.discarded.Add(ctx, 1)
	logger.Error("Capture iteration failed", "sequence", seq, "error", err)
}

// capturePair captures from both sources concurrently and joins them. If
// either fails, any frame the other returned is released.
func (c *Coordinator) capturePair(ctx context.Context) ([2]camera.Frame, error) {
	var frames [2]camera.Frame

	cctx, cancel := context.WithTimeout(ctx, c.captureTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	for i := range c.sources {
		g.Go(func() error {
			f, err := c.sources[i].Capture(gctx)
			if err != nil {
				return fmt.Errorf("sensor %d: %w", i, err)
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i := range frames {
			frames[i].Release()
		}
		return frames, err
	}
	return frames, nil
}
