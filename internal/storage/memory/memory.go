// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"sync"

	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/pkg/core"
)

// ErrNoSession is returned when a record arrives with no session open.
var ErrNoSession = errors.New("no session open")

// SessionRecord groups a session with everything recorded during it
type SessionRecord struct {
	Session     core.Session
	Bursts      []core.Burst
	Frames      []core.FrameMeta
	NavSamples  []core.NavSample
	Performance []core.Performance
}

// Backend keeps session data in memory and exports a JSON manifest when the
// session ends
type Backend struct {
	cfg     config.MemoryConfig
	current *SessionRecord

	// offsets outlive sessions; synchronization runs once per process
	offsets []core.ClockOffset

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	s.ID = b.idCounter
	b.current = &SessionRecord{Session: *s}
	return nil
}

// EndSession finalizes and exports the session manifest
func (b *Backend) EndSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return ErrNoSession
	}
	b.current.Session.EndTime = s.EndTime
	err := b.exportJSON()
	b.current = nil
	return err
}

// Current returns a copy of the open session record
func (b *Backend) Current() (SessionRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.current == nil {
		return SessionRecord{}, false
	}
	return *b.current, true
}

// ClockOffsets returns every offset recorded since start
func (b *Backend) ClockOffsets() []core.ClockOffset {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.ClockOffset(nil), b.offsets...)
}

// RecordBurst records a burst summary
func (b *Backend) RecordBurst(e *core.Burst) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return ErrNoSession
	}
	b.idCounter++
	e.ID = b.idCounter
	b.current.Bursts = append(b.current.Bursts, *e)
	return nil
}

// RecordFrame records a frame index entry
func (b *Backend) RecordFrame(f *core.FrameMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return ErrNoSession
	}
	b.current.Frames = append(b.current.Frames, *f)
	return nil
}

// RecordClockOffset records a synchronization result
func (b *Backend) RecordClockOffset(o *core.ClockOffset) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.offsets = append(b.offsets, *o)
	return nil
}

// RecordNavSample records a nav sample; samples outside a session are dropped
func (b *Backend) RecordNavSample(n *core.NavSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		b.current.NavSamples = append(b.current.NavSamples, *n)
	}
	return nil
}

// RecordPerformance records a performance snapshot; snapshots outside a
// session are dropped
func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		b.current.Performance = append(b.current.Performance, *p)
	}
	return nil
}

// ExportedFilePath returns the path of the last written manifest
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
