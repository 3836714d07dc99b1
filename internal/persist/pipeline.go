package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("persist pipeline closed")

// BatchWriter writes one job. *Writer implements it.
type BatchWriter interface {
	WriteBatch(ctx context.Context, job Job) Result
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the number of writer goroutines.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithQueueSize sets how many batches may wait for a worker before Submit
// blocks.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) { p.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithOnResult registers a callback run on the worker after each batch.
func WithOnResult(fn func(Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

// Pipeline is a bounded pool of writer goroutines fed by a bounded queue.
type Pipeline struct {
	writer    BatchWriter
	workers   int
	queueSize int
	logger    *slog.Logger
	onResult  func(Result)

	queue jobQueue
	wg    conc.WaitGroup
	ctx   context.Context
	stop  context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool

	inFlight atomic.Int64
	last     atomic.Pointer[Result]

	written      metric.Int64Counter
	failed       metric.Int64Counter
	backlogGauge metric.Int64ObservableGauge
}

// NewPipeline creates a pipeline around w. Call Start before Submit.
func NewPipeline(w BatchWriter, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		writer:    w,
		workers:   2,
		queueSize: 8,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		return nil, fmt.Errorf("writer pool must have at least one worker, got %d", p.workers)
	}
	if p.queueSize < 0 {
		return nil, fmt.Errorf("writer queue size must not be negative, got %d", p.queueSize)
	}
	p.logger = p.logger.With("component", "persist")
	p.queue = newQueue(p.queueSize)

	m := meter()
	var err error

	p.written, err = m.Int64Counter(
		"persist.frames.written",
		metric.WithDescription("Frames written to disk"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}

	p.failed, err = m.Int64Counter(
		"persist.frames.failed",
		metric.WithDescription("Frames that could not be written"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	p.backlogGauge, err = m.Int64ObservableGauge(
		"persist.queue.size",
		metric.WithDescription("Batches waiting for or being written"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(p.backlogGauge, int64(p.Backlog()))
			return nil
		},
		p.backlogGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	return p, nil
}

// Start launches the workers.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.ctx, p.stop = context.WithCancel(context.Background())

	for i := 0; i < p.workers; i++ {
		p.wg.Go(func() { p.work(i) })
	}
	p.logger.Info("Writer pool started", "workers", p.workers, "queue", p.queueSize)
}

func (p *Pipeline) work(id int) {
	for job := range p.queue.receive() {
		res := p.writer.WriteBatch(p.ctx, job)
		p.inFlight.Add(-1)
		p.last.Store(&res)

		p.written.Add(context.Background(), int64(res.Written))
		p.failed.Add(context.Background(), int64(res.Failed))

		lvl := slog.LevelInfo
		if res.Failed > 0 {
			lvl = slog.LevelWarn
		}
		p.logger.Log(context.Background(), lvl, "Batch written",
			"worker", id,
			"burst", res.BurstID,
			"written", res.Written,
			"failed", res.Failed,
			"bytes", res.Bytes,
			"duration", res.Duration)

		if p.onResult != nil {
			p.onResult(res)
		}
	}
}

// Submit queues job for writing. It returns as soon as the job is queued and
// blocks only while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if !p.started {
		return errors.New("persist pipeline not started")
	}

	p.inFlight.Add(1)
	if err := p.queue.send(ctx, job); err != nil {
		p.inFlight.Add(-1)
		return fmt.Errorf("queueing batch %s: %w", job.Batch.BurstID, err)
	}
	return nil
}

// Backlog returns the number of batches queued or being written.
func (p *Pipeline) Backlog() int {
	return int(p.inFlight.Load())
}

// Wait blocks until every submitted batch has been written or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for p.Backlog() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Last returns the result of the most recently finished batch.
func (p *Pipeline) Last() (Result, bool) {
	r := p.last.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// Close stops accepting jobs and waits for queued jobs to be written. If ctx
// ends first, workers are told to stop and the remaining records are
// released without being written.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.queue.close()
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if r := p.wg.WaitAndRecover(); r != nil {
			err = r.AsError()
		}
		done <- err
	}()

	start := time.Now()
	select {
	case err := <-done:
		p.stop()
		p.logger.Info("Writer pool drained", "wait", time.Since(start))
		return err
	case <-ctx.Done():
		p.stop()
		err := <-done
		p.logger.Warn("Writer pool cancelled before drain", "wait", time.Since(start))
		return errors.Join(ctx.Err(), err)
	}
}
