// Package convert maps core values to their gorm rows.
package convert

import (
	"database/sql"
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/sio-stoke/stoke/internal/geo"
	"github.com/sio-stoke/stoke/internal/model"
	"github.com/sio-stoke/stoke/pkg/core"
)

// profileJSON is the stored shape of a shooting profile.
type profileJSON struct {
	Name       string  `json:"name"`
	FrameRate  float64 `json:"fps"`
	ExposureUs float64 `json:"exposureUs"`
	Strategy   string  `json:"strategy"`
	FrameCount int     `json:"frameCount,omitempty"`
}

func profileToJSON(p core.Profile) datatypes.JSON {
	b, err := json.Marshal(profileJSON(p))
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

// ProfileFromJSON is the inverse of the profile column encoding.
func ProfileFromJSON(j datatypes.JSON) (core.Profile, error) {
	var p profileJSON
	if err := json.Unmarshal(j, &p); err != nil {
		return core.Profile{}, err
	}
	return core.Profile(p), nil
}

func sitePoint(p core.Position3D) geom.Point {
	if !geo.Valid(p) {
		return geom.NewEmptyPoint(geom.DimXYZ)
	}
	pt, err := geo.WebMercator(p)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ)
	}
	return pt
}

// CoreToSession converts a core session. The track is filled at session end.
func CoreToSession(s core.Session) model.Session {
	out := model.Session{
		ID:           s.ID,
		UUID:         s.UUID,
		Label:        s.Label,
		Kind:         s.Kind,
		Dir:          s.Dir,
		Profile:      profileToJSON(s.Profile),
		StartTime:    s.StartTime,
		Synced:       s.Synced,
		SiteLocation: sitePoint(s.SiteLocation),
	}
	if !s.EndTime.IsZero() {
		out.EndTime = sql.NullTime{Time: s.EndTime, Valid: true}
	}
	return out
}

// CoreToBurst converts a burst summary.
func CoreToBurst(b core.Burst, sessionID uint) model.Burst {
	return model.Burst{
		ID:         b.ID,
		UUID:       b.UUID,
		SessionID:  sessionID,
		Strategy:   b.Strategy,
		Iterations: b.Iterations,
		Captured:   b.Captured,
		Discarded:  b.Discarded,
		Evicted:    b.Evicted,
		StartedNs:  b.StartedNs,
		EndedNs:    b.EndedNs,
		Time:       b.StartTime,
	}
}

// CoreToFrame converts a frame index entry.
func CoreToFrame(f core.FrameMeta, sessionID uint) model.Frame {
	return model.Frame{
		SessionID:        sessionID,
		BurstUUID:        f.BurstUUID,
		SensorID:         uint8(f.SensorID),
		SequenceIndex:    f.SequenceIndex,
		CaptureTimestamp: f.CaptureTimestamp,
		Path:             f.Path,
		Bytes:            f.Bytes,
		WriteError:       truncate(f.WriteError, 255),
	}
}

// CoreToClockOffset converts a clock synchronization result.
func CoreToClockOffset(o core.ClockOffset, sessionID uint) model.ClockOffset {
	return model.ClockOffset{
		SessionID:        sessionID,
		Time:             o.ExternalAbsolute,
		LocalMonotonicNs: o.LocalMonotonicNs,
		DeltaSeconds:     o.DeltaSeconds,
		Adjustments:      o.Adjustments,
		Fix:              o.Fix.String(),
	}
}

// CoreToNavSample converts a navigation sample, projecting the position.
func CoreToNavSample(n core.NavSample, sessionID uint) model.NavSample {
	return model.NavSample{
		Time:        n.Time,
		SessionID:   sessionID,
		MonotonicNs: n.MonotonicNs,
		Fix:         n.Fix.String(),
		NumSats:     uint8(n.NumSats),
		Position:    sitePoint(n.Position),
		Altitude:    float32(n.Position.Z),
	}
}

// CoreToPerformance converts a buffer snapshot.
func CoreToPerformance(p core.Performance, sessionID uint) model.Performance {
	return model.Performance{
		Time:                p.Time,
		SessionID:           sessionID,
		Mode:                p.Mode,
		RingSensor0:         uint32(p.RingOccupancy[0]),
		RingSensor1:         uint32(p.RingOccupancy[1]),
		RingCapacity:        uint32(p.RingCapacity),
		WriterBacklog:       uint16(p.WriterBacklog),
		LastBatchFrames:     uint32(p.LastBatchFrames),
		LastWriteDurationMs: float32(p.LastBatchDuration.Microseconds()) / 1000,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
