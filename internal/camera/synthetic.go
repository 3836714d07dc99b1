package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sio-stoke/stoke/internal/clock"
)

// Synthetic generates grey test frames. It backs dry runs on a bench
// without sensors.
type Synthetic struct {
	clock   clock.Clock
	Latency time.Duration

	mu         sync.Mutex
	cfg        Config
	configured bool
	started    bool
	seq        int
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(clk clock.Clock) *Synthetic {
	return &Synthetic{clock: clk}
}

// Configure records cfg; the format is forced to grey.
func (s *Synthetic) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%s: configure while started", cfg.Device)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%s: invalid size %dx%d", cfg.Device, cfg.Width, cfg.Height)
	}
	cfg.Format = FormatGrey
	s.cfg = cfg
	s.configured = true
	return nil
}

// Start enables Capture.
func (s *Synthetic) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return ErrNotConfigured
	}
	s.started = true
	return nil
}

// Capture returns a diagonal gradient shifted by the frame count.
func (s *Synthetic) Capture(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Frame{}, ErrNotStarted
	}
	cfg := s.cfg
	s.seq++
	n := s.seq
	s.mu.Unlock()

	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	data := make([]byte, cfg.Width*cfg.Height)
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			data[y*cfg.Width+x] = byte(x + y + n)
		}
	}
	return Frame{
		Data:        data,
		Format:      FormatGrey,
		Width:       cfg.Width,
		Height:      cfg.Height,
		MonotonicNs: s.clock.NowNs(),
	}, nil
}

// Stop disables Capture.
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Close stops and unconfigures the source.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.configured = false
	return nil
}
