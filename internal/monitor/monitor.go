// Package monitor writes a periodic status file and records buffer
// snapshots while a session is open.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sio-stoke/stoke/internal/persist"
	"github.com/sio-stoke/stoke/internal/session"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Buffers reports ring occupancy per sensor.
type Buffers interface {
	Occupancy() [2]int
	Capacity() int
}

// Writer reports the persistence backlog.
type Writer interface {
	Backlog() int
	Last() (persist.Result, bool)
}

// Recorder stores performance snapshots.
type Recorder interface {
	RecordPerformance(p *core.Performance) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Context  *session.Context
	Buffers  Buffers
	Writer   Writer
	Recorder Recorder
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot returns the current buffer state.
func (s *Service) Snapshot() core.Performance {
	perf := core.Performance{
		Time: s.deps.Now().UTC(),
		Mode: s.deps.Context.Mode(),
	}
	if sess := s.deps.Context.Session(); sess != nil {
		perf.SessionUUID = sess.UUID
	}
	if s.deps.Buffers != nil {
		perf.RingOccupancy = s.deps.Buffers.Occupancy()
		perf.RingCapacity = s.deps.Buffers.Capacity()
	}
	if s.deps.Writer != nil {
		perf.WriterBacklog = s.deps.Writer.Backlog()
		if last, ok := s.deps.Writer.Last(); ok {
			perf.LastBatchFrames = last.Written + last.Failed
			perf.LastBatchDuration = last.Duration
		}
	}
	return perf
}

type status struct {
	Time          time.Time `json:"time"`
	Mode          string    `json:"mode"`
	Session       string    `json:"session,omitempty"`
	Ring          [2]int    `json:"ring"`
	RingCapacity  int       `json:"ringCapacity"`
	WriterBacklog int       `json:"writerBacklog"`
	LastBatch     int       `json:"lastBatchFrames"`
	LastBatchMs   float64   `json:"lastBatchMs"`
}

// Status renders perf as the status file contents.
func Status(perf core.Performance, label string) []byte {
	out, err := json.MarshalIndent(status{
		Time:          perf.Time,
		Mode:          perf.Mode,
		Session:       label,
		Ring:          perf.RingOccupancy,
		RingCapacity:  perf.RingCapacity,
		WriterBacklog: perf.WriterBacklog,
		LastBatch:     perf.LastBatchFrames,
		LastBatchMs:   float64(perf.LastBatchDuration.Microseconds()) / 1000,
	}, "", "  ")
	if err != nil {
		out = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return append(out, '\n')
}

// Tick writes the status file once and records a snapshot when a session is
// open.
func (s *Service) Tick(statusFile *os.File) {
	perf := s.Snapshot()
	label := ""
	sess := s.deps.Context.Session()
	if sess != nil {
		label = sess.Label
	}

	if statusFile != nil {
		if err := statusFile.Truncate(0); err == nil {
			_, _ = statusFile.Seek(0, 0)
			_, _ = statusFile.Write(Status(perf, label))
		}
	}

	if sess != nil && s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordPerformance(&perf); err != nil {
			s.deps.Logger.Error("Error recording performance", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	statusFile, err := os.Create(s.deps.Path)
	if err != nil {
		s.deps.Logger.Error("Error creating status file", "path", s.deps.Path, "error", err)
	}

	go func() {
		defer func() {
			if statusFile != nil {
				statusFile.Close()
			}
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		s.deps.Logger.Debug("Starting status monitor", "path", s.deps.Path, "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(statusFile)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}
