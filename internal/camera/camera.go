// Package camera adapts the rig's two frame sources. Each source is
// configured once per profile, started for a sensor session, and then
// delivers one frame per trigger pulse.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned by Start before Configure.
	ErrNotConfigured = errors.New("camera: not configured")
	// ErrNotStarted is returned by Capture outside Start/Stop.
	ErrNotStarted = errors.New("camera: not started")
	// ErrFrameTimeout is returned when no frame arrives in time.
	ErrFrameTimeout = errors.New("camera: timed out waiting for frame")
)

// PixelFormat is the wire format a source delivers.
type PixelFormat string

const (
	FormatMJPEG PixelFormat = "mjpeg"
	FormatJPEG  PixelFormat = "jpeg"
	FormatYUYV  PixelFormat = "yuyv"
	FormatRGB24 PixelFormat = "rgb24"
	FormatGrey  PixelFormat = "grey"
)

// ParsePixelFormat accepts the configuration spelling of a format.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch f := PixelFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMJPEG, FormatJPEG, FormatYUYV, FormatRGB24, FormatGrey:
		return f, nil
	case "gray":
		return FormatGrey, nil
	case "rgb":
		return FormatRGB24, nil
	default:
		return "", fmt.Errorf("unknown pixel format %q", s)
	}
}

// Compressed reports whether frames are already an encoded JPEG.
func (f PixelFormat) Compressed() bool {
	return f == FormatMJPEG || f == FormatJPEG
}

// Config is what a source is configured with.
type Config struct {
	Device string
	Width  int
	Height int
	Format PixelFormat
	// Exposure is informational in external-trigger mode, where the pulse
	// width sets the exposure.
	Exposure time.Duration
	// FrameTimeout bounds Capture when ctx has no earlier deadline.
	FrameTimeout time.Duration
}

// Frame is one delivered image. Data is owned by the holder until released.
type Frame struct {
	Data        []byte
	Format      PixelFormat
	Width       int
	Height      int
	MonotonicNs int64
}

// Release drops the pixel buffer.
func (f *Frame) Release() {
	f.Data = nil
}

// Source is a frame source.
type Source interface {
	Configure(cfg Config) error
	Start(ctx context.Context) error
	// Capture returns the next frame and the local monotonic time it was
	// received.
	Capture(ctx context.Context) (Frame, error)
	Stop() error
	Close() error
}

// Flusher is implemented by sources that can discard frames queued before
// the next trigger.
type Flusher interface {
	Flush()
}
