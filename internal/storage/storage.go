// Package storage defines where session metadata goes: the session itself,
// burst summaries, the frame index, clock offsets, nav samples and
// performance snapshots.
package storage

import "github.com/sio-stoke/stoke/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management. StartSession assigns s.ID.
	StartSession(s *core.Session) error
	EndSession(s *core.Session) error

	// Recording
	RecordBurst(b *core.Burst) error
	RecordFrame(f *core.FrameMeta) error
	RecordClockOffset(o *core.ClockOffset) error
	RecordNavSample(n *core.NavSample) error
	RecordPerformance(p *core.Performance) error
}

// Exporter is implemented by backends that write a file per session.
type Exporter interface {
	ExportedFilePath() string
}
