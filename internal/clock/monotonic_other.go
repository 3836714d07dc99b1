//go:build !linux

package clock

import (
	"errors"
	"time"
)

type monotonic struct{}

// Monotonic returns a process-relative monotonic clock.
func Monotonic() Clock { return monotonic{} }

func (monotonic) NowNs() int64 { return fallbackNow() }

type system struct{}

// System returns the host wall clock. Setting it is only supported on linux.
func System() WallClock { return system{} }

func (system) Now() time.Time { return time.Now() }

func (system) Set(time.Time) error {
	return errors.New("setting the wall clock is not supported on this platform")
}
