// pkg/core/clock.go
package core

import "time"

// ClockOffset is the residual between the external absolute time and the
// local clock, measured once per synchronization attempt. It annotates stored
// timestamps at export time and never rewrites them.
type ClockOffset struct {
	LocalMonotonicNs int64
	ExternalAbsolute time.Time
	DeltaSeconds     float64
	Adjustments      int
	Fix              FixClass
}
