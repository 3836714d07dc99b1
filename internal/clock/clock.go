// Package clock provides the monotonic time source used for every capture
// timestamp and deadline, plus the wall clock the synchronizer may adjust.
package clock

import "time"

// Clock is a monotonic nanosecond time source.
type Clock interface {
	NowNs() int64
}

// WallClock is the adjustable absolute clock.
type WallClock interface {
	Now() time.Time
	Set(t time.Time) error
}

// Func adapts a plain function to Clock.
type Func func() int64

// NowNs calls f.
func (f Func) NowNs() int64 { return f() }

// SpinUntil busy-waits until c reaches deadlineNs and returns the first reading
// at or past the deadline. It never sleeps, so the caller's goroutine keeps
// the CPU for the whole wait.
func SpinUntil(c Clock, deadlineNs int64) int64 {
	for {
		now := c.NowNs()
		if now >= deadlineNs {
			return now
		}
	}
}

// Midpoint returns round((t1+t2)/2) without overflowing.
func Midpoint(t1, t2 int64) int64 {
	d := t2 - t1
	return t1 + d/2 + d%2
}

// ToWall converts a monotonic reading into wall time using a paired sample
// of both clocks taken at refNs/refWall.
func ToWall(monoNs, refNs int64, refWall time.Time) time.Time {
	return refWall.Add(time.Duration(monoNs - refNs))
}
