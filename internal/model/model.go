package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// Time columns take the dialect's own type: timestamptz on postgres,
// datetime on sqlite, which its driver scans back into time.Time.

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&Burst{},
	&Frame{},
	&ClockOffset{},
	&NavSample{},
	&Performance{},
}

// Session is one Standby or Calibrating period.
type Session struct {
	ID           uint            `json:"id" gorm:"primarykey;autoIncrement;"`
	UUID         string          `json:"uuid" gorm:"size:36;uniqueIndex"`
	Label        string          `json:"label" gorm:"size:127"`
	Kind         string          `json:"kind" gorm:"size:16"`
	Dir          string          `json:"dir" gorm:"size:512"`
	Profile      datatypes.JSON  `json:"profile"`
	StartTime    time.Time       `json:"startTime" gorm:"index:idx_session_start_time"`
	EndTime      sql.NullTime    `json:"endTime"`
	Synced       bool            `json:"synced"`
	SiteLocation geom.Point      `json:"siteLocation"`
	Track        geom.LineString `json:"-"` // EPSG:3857 XYZ line through the nav samples
}

func (*Session) TableName() string {
	return "sessions"
}

// Burst summarizes one press/hold cycle.
type Burst struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UUID       string    `json:"uuid" gorm:"size:36;uniqueIndex"`
	SessionID  uint      `json:"sessionId" gorm:"index:idx_burst_session_id"`
	Session    Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Strategy   string    `json:"strategy" gorm:"size:16"`
	Iterations int       `json:"iterations"`
	Captured   int       `json:"captured"`
	Discarded  int       `json:"discarded"`
	Evicted    int       `json:"evicted"`
	StartedNs  int64     `json:"startedNs"`
	EndedNs    int64     `json:"endedNs"`
	Time       time.Time `json:"time"`
}

func (*Burst) TableName() string {
	return "bursts"
}

// Frame indexes one persisted frame file. WriteError is empty on success.
type Frame struct {
	ID               uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID        uint    `json:"sessionId" gorm:"index:idx_frame_session_id"`
	Session          Session `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	BurstUUID        string  `json:"burstUuid" gorm:"size:36;index:idx_frame_burst_uuid"`
	SensorID         uint8   `json:"sensorId"`
	SequenceIndex    int     `json:"sequenceIndex"`
	CaptureTimestamp int64   `json:"captureTimestamp" gorm:"index:idx_frame_capture_timestamp"`
	Path             string  `json:"path" gorm:"size:512"`
	Bytes            int64   `json:"bytes"`
	WriteError       string  `json:"writeError,omitempty" gorm:"size:255"`
}

func (*Frame) TableName() string {
	return "frames"
}

// ClockOffset is one clock synchronization result. SessionID is zero when
// no session was open.
type ClockOffset struct {
	ID               uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID        uint      `json:"sessionId" gorm:"index:idx_clockoffset_session_id"`
	Time             time.Time `json:"time"`
	LocalMonotonicNs int64     `json:"localMonotonicNs"`
	DeltaSeconds     float64   `json:"deltaSeconds"`
	Adjustments      int       `json:"adjustments"`
	Fix              string    `json:"fix" gorm:"size:16"`
}

func (*ClockOffset) TableName() string {
	return "clock_offsets"
}

// NavSample is one polled navigation reading.
type NavSample struct {
	Time        time.Time  `json:"time" gorm:"index:idx_navsample_time"`
	SessionID   uint       `json:"sessionId" gorm:"index:idx_navsample_session_id"`
	MonotonicNs int64      `json:"monotonicNs"`
	Fix         string     `json:"fix" gorm:"size:16"`
	NumSats     uint8      `json:"numSats"`
	Position    geom.Point `json:"position"` // EPSG:3857
	Altitude    float32    `json:"altitude"`
}

func (*NavSample) TableName() string {
	return "nav_samples"
}

// Performance is the model for periodic buffer metrics
type Performance struct {
	Time                time.Time `json:"time" gorm:"index:idx_performance_time"`
	SessionID           uint      `json:"sessionId" gorm:"index:idx_performance_session_id"`
	Mode                string    `json:"mode" gorm:"size:16"`
	RingSensor0         uint32    `json:"ringSensor0"`
	RingSensor1         uint32    `json:"ringSensor1"`
	RingCapacity        uint32    `json:"ringCapacity"`
	WriterBacklog       uint16    `json:"writerBacklog"`
	LastBatchFrames     uint32    `json:"lastBatchFrames"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

func (*Performance) TableName() string {
	return "performances"
}
