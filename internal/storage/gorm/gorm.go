// Package gormstorage implements the storage.Backend interface over any gorm
// dialect with internal queues and a background DB writer goroutine.
package gormstorage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/sio-stoke/stoke/internal/database"
	"github.com/sio-stoke/stoke/internal/geo"
	"github.com/sio-stoke/stoke/internal/model"
	"github.com/sio-stoke/stoke/internal/model/convert"
	"github.com/sio-stoke/stoke/internal/queue"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Bursts       *queue.Queue[model.Burst]
	Frames       *queue.Queue[model.Frame]
	ClockOffsets *queue.Queue[model.ClockOffset]
	NavSamples   *queue.Queue[model.NavSample]
	Performances *queue.Queue[model.Performance]
}

func newQueues() *queues {
	return &queues{
		Bursts:       queue.New[model.Burst](),
		Frames:       queue.New[model.Frame](),
		ClockOffsets: queue.New[model.ClockOffset](),
		NavSamples:   queue.New[model.NavSample](),
		Performances: queue.New[model.Performance](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	log       *slog.Logger
	queues    *queues
	sessionID atomic.Uint64
	stopChan  chan struct{}
	done      chan struct{}

	// flushMu serializes writer cycles with explicit flushes.
	flushMu   sync.Mutex
	lastWrite atomic.Int64

	trackMu sync.Mutex
	track   []core.Position3D
}

// New creates a new GORM storage backend. A nil DB keeps records in the
// queues only.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	return &Backend{
		deps: deps,
		log:  deps.Logger.With("component", "storage", "dialect", dialect(deps.DB)),
	}
}

func dialect(db *gorm.DB) string {
	if db == nil {
		return "none"
	}
	return db.Dialector.Name()
}

// Init creates internal queues, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB != nil {
		b.log.Info("Migrating schema")
		if err := database.Migrate(b.deps.DB); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}

	go b.writerLoop()
	return nil
}

// Close stops the DB writer goroutine and writes what is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	select {
	case <-b.stopChan:
		return nil
	default:
	}
	close(b.stopChan)
	<-b.done
	b.Flush()
	return nil
}

// StartSession inserts the session row synchronously so its ID is known
// before any burst is recorded.
func (b *Backend) StartSession(s *core.Session) error {
	b.trackMu.Lock()
	b.track = nil
	b.trackMu.Unlock()

	row := convert.CoreToSession(*s)
	if b.deps.DB != nil {
		if err := b.deps.DB.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
	}
	s.ID = row.ID
	b.sessionID.Store(uint64(row.ID))
	return nil
}

// EndSession flushes the queues and stores the end time and nav track.
func (b *Backend) EndSession(s *core.Session) error {
	b.Flush()

	b.trackMu.Lock()
	track, err := geo.Track(b.track)
	b.track = nil
	b.trackMu.Unlock()
	if err != nil {
		b.log.Warn("Dropping session track", "session", s.UUID, "error", err)
	}

	b.sessionID.Store(0)
	if b.deps.DB == nil || s.ID == 0 {
		return nil
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	err = b.deps.DB.Model(&model.Session{}).Where("id = ?", s.ID).Updates(map[string]any{
		"end_time": sql.NullTime{Time: end, Valid: true},
		"track":    track,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.UUID, err)
	}
	return nil
}

func (b *Backend) currentSession() uint {
	return uint(b.sessionID.Load())
}

// RecordBurst converts and queues a burst summary.
func (b *Backend) RecordBurst(e *core.Burst) error {
	b.queues.Bursts.Push(convert.CoreToBurst(*e, b.currentSession()))
	return nil
}

// RecordFrame converts and queues a frame index entry.
func (b *Backend) RecordFrame(f *core.FrameMeta) error {
	b.queues.Frames.Push(convert.CoreToFrame(*f, b.currentSession()))
	return nil
}

// RecordClockOffset converts and queues a clock offset.
func (b *Backend) RecordClockOffset(o *core.ClockOffset) error {
	b.queues.ClockOffsets.Push(convert.CoreToClockOffset(*o, b.currentSession()))
	return nil
}

// RecordNavSample converts and queues a nav sample and extends the session track.
func (b *Backend) RecordNavSample(n *core.NavSample) error {
	b.queues.NavSamples.Push(convert.CoreToNavSample(*n, b.currentSession()))
	b.trackMu.Lock()
	b.track = append(b.track, n.Position)
	b.trackMu.Unlock()
	return nil
}

// RecordPerformance converts and queues a performance snapshot.
func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.queues.Performances.Push(convert.CoreToPerformance(*p, b.currentSession()))
	return nil
}

// LastWriteDuration returns how long the last writer cycle took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// rowBatchSize bounds one INSERT; a long burst queues thousands of frame rows.
const rowBatchSize = 500

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	tx := db.Begin()
	if err := tx.CreateInBatches(&items, rowBatchSize).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items...)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("Error committing rows", "table", name, "count", len(items), "error", err)
		q.Requeue(items...)
	}
}

// Flush drains every queue into the database now.
func (b *Backend) Flush() {
	if b.deps.DB == nil || b.queues == nil {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	db := b.deps.DB
	writeQueue(db, b.queues.Bursts, "bursts", b.log)
	writeQueue(db, b.queues.Frames, "frames", b.log)
	writeQueue(db, b.queues.ClockOffsets, "clock offsets", b.log)
	writeQueue(db, b.queues.NavSamples, "nav samples", b.log)
	writeQueue(db, b.queues.Performances, "performances", b.log)
	b.lastWrite.Store(int64(time.Since(start)))
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
