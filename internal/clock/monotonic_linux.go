//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

type monotonic struct{}

// Monotonic returns CLOCK_MONOTONIC, which is shared with other processes on
// the host and is not affected by wall clock adjustments.
func Monotonic() Clock { return monotonic{} }

func (monotonic) NowNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	return ts.Nano()
}

type system struct{}

// System returns the host realtime clock. Set requires CAP_SYS_TIME.
func System() WallClock { return system{} }

func (system) Now() time.Time { return time.Now() }

func (system) Set(t time.Time) error {
	ts := unix.NsecToTimespec(t.UnixNano())
	return unix.ClockSettime(unix.CLOCK_REALTIME, &ts)
}
