//go:build !(linux && cgo)

package camera

import (
	"context"
	"errors"

	"github.com/sio-stoke/stoke/internal/clock"
)

var errNoV4L2 = errors.New("camera: V4L2 requires linux with cgo")

// V4L2 is unavailable on this platform; every call fails.
type V4L2 struct{}

// NewV4L2 returns a source that always fails.
func NewV4L2(clock.Clock) *V4L2 {
	return &V4L2{}
}

func (*V4L2) Configure(Config) error {
	return errNoV4L2
}

func (*V4L2) Start(context.Context) error {
	return errNoV4L2
}

func (*V4L2) Capture(context.Context) (Frame, error) {
	return Frame{}, errNoV4L2
}

func (*V4L2) Stop() error {
	return nil
}

func (*V4L2) Close() error {
	return nil
}
