// Package trigger drives the hardware line both cameras expose on, and owns
// the exposure-dependent timing of the frame period.
package trigger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidFrameRate is returned for a non-positive frame rate.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
	// ErrInvalidExposure is returned for a non-positive exposure.
	ErrInvalidExposure = errors.New("exposure must be positive")
	// ErrExposureExceedsPeriod is returned when the exposure leaves no gap
	// before the next frame.
	ErrExposureExceedsPeriod = errors.New("exposure does not fit in the frame period")
)

// Timing is the validated pulse schedule for one profile.
type Timing struct {
	FrameRate       float64
	Exposure        time.Duration
	HardwareLatency time.Duration

	// Period is 1/FrameRate.
	Period time.Duration
	// Hold is how long the line stays asserted: the exposure minus the
	// sensor's fixed trigger latency.
	Hold time.Duration
	// Idle is the minimum time after the pulse ends before the next pulse,
	// Period - Hold, never negative.
	Idle time.Duration
}

// NewTiming validates an exposure/frame-rate combination and derives the
// pulse hold and idle durations.
func NewTiming(frameRate float64, exposure, latency time.Duration) (Timing, error) {
	if frameRate <= 0 {
		return Timing{}, ErrInvalidFrameRate
	}
	if exposure <= 0 {
		return Timing{}, ErrInvalidExposure
	}

	period := time.Duration(float64(time.Second) / frameRate)
	if exposure >= period {
		return Timing{}, fmt.Errorf("%w: exposure %s, period %s", ErrExposureExceedsPeriod, exposure, period)
	}

	hold := exposure - latency
	if hold < 0 {
		hold = 0
	}
	idle := period - hold
	if idle < 0 {
		idle = 0
	}

	return Timing{
		FrameRate:       frameRate,
		Exposure:        exposure,
		HardwareLatency: latency,
		Period:          period,
		Hold:            hold,
		Idle:            idle,
	}, nil
}

// Micros converts a fractional microsecond value (as configured) to a Duration.
func Micros(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
