//go:build linux && cgo

package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/sio-stoke/stoke/internal/clock"
)

const defaultFrameTimeout = 2 * time.Second

// V4L2 is a Source backed by a V4L2 capture device.
type V4L2 struct {
	clock clock.Clock

	mu      sync.Mutex
	cfg     Config
	dev     *device.Device
	cancel  context.CancelFunc
	started bool
}

// NewV4L2 creates an unconfigured V4L2 source.
func NewV4L2(clk clock.Clock) *V4L2 {
	return &V4L2{clock: clk}
}

func v4l2Format(f PixelFormat) (v4l2.FourCCType, error) {
	switch f {
	case FormatMJPEG:
		return v4l2.PixelFmtMJPEG, nil
	case FormatJPEG:
		return v4l2.PixelFmtJPEG, nil
	case FormatYUYV:
		return v4l2.PixelFmtYUYV, nil
	case FormatRGB24:
		return v4l2.PixelFmtRGB24, nil
	case FormatGrey:
		return v4l2.PixelFmtGrey, nil
	default:
		return 0, fmt.Errorf("unsupported pixel format %q", f)
	}
}

// Configure opens the device with the requested format. A configured
// device is reopened.
func (c *V4L2) Configure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("%s: configure while started", cfg.Device)
	}
	fourcc, err := v4l2Format(cfg.Format)
	if err != nil {
		return err
	}
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}

	dev, err := device.Open(
		cfg.Device,
		device.WithBufferSize(2),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: fourcc,
			Width:       uint32(cfg.Width),
			Height:      uint32(cfg.Height),
		}),
	)
	if err != nil {
		return fmt.Errorf("open device %s: %w", cfg.Device, err)
	}
	if cfg.FrameTimeout == 0 {
		cfg.FrameTimeout = defaultFrameTimeout
	}
	c.cfg = cfg
	c.dev = dev
	return nil
}

// Start begins streaming.
func (c *V4L2) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return ErrNotConfigured
	}
	if c.started {
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	if err := c.dev.Start(sctx); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.cfg.Device, err)
	}
	c.cancel = cancel
	c.started = true
	return nil
}

// Flush drops frames that are already queued.
func (c *V4L2) Flush() {
	c.mu.Lock()
	dev, started := c.dev, c.started
	c.mu.Unlock()
	if !started {
		return
	}
	out := dev.GetOutput()
	for {
		select {
		case <-out:
		default:
			return
		}
	}
}

// Capture waits for the next frame.
func (c *V4L2) Capture(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	dev, started, cfg := c.dev, c.started, c.cfg
	c.mu.Unlock()
	if !started {
		return Frame{}, ErrNotStarted
	}

	t := time.NewTimer(cfg.FrameTimeout)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-t.C:
		return Frame{}, fmt.Errorf("%s: %w", cfg.Device, ErrFrameTimeout)
	case data, ok := <-dev.GetOutput():
		at := c.clock.NowNs()
		if !ok {
			return Frame{}, fmt.Errorf("%s: stream closed", cfg.Device)
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		return Frame{
			Data:        buf,
			Format:      cfg.Format,
			Width:       cfg.Width,
			Height:      cfg.Height,
			MonotonicNs: at,
		}, nil
	}
}

// Stop ends streaming. The device stays configured.
func (c *V4L2) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	c.cancel()
	if err := c.dev.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", c.cfg.Device, err)
	}
	return nil
}

// Close stops the stream if needed and closes the device.
func (c *V4L2) Close() error {
	stopErr := c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return stopErr
	}
	err := c.dev.Close()
	c.dev = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", c.cfg.Device, err)
	}
	return stopErr
}
