// pkg/core/session.go
package core

import "time"

// Profile is a named shooting configuration selectable from ModeToggle.
type Profile struct {
	Name       string  `json:"name"`
	FrameRate  float64 `json:"fps"`
	ExposureUs float64 `json:"exposureUs"`
	Strategy   string  `json:"strategy"` // "burst" or "count"
	FrameCount int     `json:"frameCount,omitempty"`
}

// Session is one Standby or Calibrating period and the directories its frames land in.
type Session struct {
	ID           uint
	UUID         string
	Label        string
	Kind         string // "session" or "calib"
	Dir          string
	SensorPrefix [2]string
	Profile      Profile
	StartTime    time.Time
	EndTime      time.Time
	Synced       bool
	SiteLocation Position3D
}

// Burst summarizes one press/hold cycle of the primary input.
type Burst struct {
	ID          uint
	UUID        string
	SessionUUID string
	Strategy    string
	Iterations  int
	Captured    int
	Discarded   int
	Evicted     int
	StartedNs   int64
	EndedNs     int64
	StartTime   time.Time
}

// FrameMeta is the index entry for one persisted frame.
type FrameMeta struct {
	SessionUUID      string
	BurstUUID        string
	SensorID         int
	SequenceIndex    int
	CaptureTimestamp int64
	Path             string
	Bytes            int64
	WriteError       string
}
