// Package telemetry fans rig records out to the storage backend, InfluxDB
// and the log.
package telemetry

import (
	"log/slog"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sio-stoke/stoke/internal/influx"
	"github.com/sio-stoke/stoke/internal/storage"
	"github.com/sio-stoke/stoke/pkg/core"
)

// PointWriter is the part of influx.Manager the sink uses.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Sink records session metadata. Storage errors are returned; InfluxDB errors
// are only logged since the time-series copy is best effort.
type Sink struct {
	backend storage.Backend
	points  PointWriter
	logger  *slog.Logger
}

// NewSink creates a sink. points may be nil.
func NewSink(backend storage.Backend, points PointWriter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{backend: backend, points: points, logger: logger.With("component", "telemetry")}
}

func (s *Sink) write(bucket string, p *influxdb2_write.Point) {
	if s.points == nil {
		return
	}
	if err := s.points.WritePoint(bucket, p); err != nil {
		s.logger.Warn("influx write failed", "bucket", bucket, "error", err)
	}
}

// StartSession registers the session with the backend.
func (s *Sink) StartSession(sess *core.Session) error {
	if err := s.backend.StartSession(sess); err != nil {
		s.logger.Error("failed to start session", "session", sess.Label, "error", err)
		return err
	}
	s.logger.Info("session started",
		"session", sess.Label,
		"uuid", sess.UUID,
		"kind", sess.Kind,
		"profile", sess.Profile.Name,
		"synced", sess.Synced,
		"dir", sess.Dir)
	return nil
}

// EndSession finalizes the session.
func (s *Sink) EndSession(sess *core.Session) error {
	if err := s.backend.EndSession(sess); err != nil {
		s.logger.Error("failed to end session", "session", sess.Label, "error", err)
		return err
	}
	attrs := []any{"session", sess.Label, "duration", sess.EndTime.Sub(sess.StartTime)}
	if e, ok := s.backend.(storage.Exporter); ok && e.ExportedFilePath() != "" {
		attrs = append(attrs, "manifest", e.ExportedFilePath())
	}
	s.logger.Info("session ended", attrs...)
	return nil
}

// RecordBurst records a burst summary.
func (s *Sink) RecordBurst(b *core.Burst) error {
	s.logger.Info("burst complete",
		"burst", b.UUID,
		"strategy", b.Strategy,
		"iterations", b.Iterations,
		"captured", b.Captured,
		"discarded", b.Discarded,
		"evicted", b.Evicted)
	s.write(influx.BucketBursts, influx.BurstPoint(*b))
	return s.backend.RecordBurst(b)
}

// RecordFrame indexes one written frame.
func (s *Sink) RecordFrame(f *core.FrameMeta) error {
	if f.WriteError != "" {
		s.logger.Error("frame not written",
			"burst", f.BurstUUID,
			"sensor", f.SensorID,
			"seq", f.SequenceIndex,
			"error", f.WriteError)
	}
	return s.backend.RecordFrame(f)
}

// RecordClockOffset records a synchronization result.
func (s *Sink) RecordClockOffset(o *core.ClockOffset) error {
	s.logger.Info("clock offset",
		"delta", o.DeltaSeconds,
		"adjustments", o.Adjustments,
		"fix", o.Fix.String(),
		"external", o.ExternalAbsolute)
	s.write(influx.BucketClock, influx.ClockOffsetPoint(*o))
	return s.backend.RecordClockOffset(o)
}

// RecordNavSample records one nav reading.
func (s *Sink) RecordNavSample(n *core.NavSample) error {
	s.write(influx.BucketNav, influx.NavSamplePoint(*n))
	return s.backend.RecordNavSample(n)
}

// RecordPerformance records a buffer snapshot.
func (s *Sink) RecordPerformance(p *core.Performance) error {
	s.write(influx.BucketPerformance, influx.PerformancePoint(*p))
	return s.backend.RecordPerformance(p)
}
