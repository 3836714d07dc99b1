// pkg/core/status.go
package core

import "time"

// Performance is one periodic snapshot of the rig's buffers.
type Performance struct {
	Time              time.Time
	SessionUUID       string
	Mode              string
	RingOccupancy     [2]int
	RingCapacity      int
	WriterBacklog     int
	LastBatchFrames   int
	LastBatchDuration time.Duration
}
