package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sio-stoke/stoke/internal/navsensor"
	"github.com/sio-stoke/stoke/pkg/core"
)

// NavRecorder polls the navigation reference and records samples.
type NavRecorder struct {
	ref      navsensor.Reference
	sink     interface{ RecordNavSample(*core.NavSample) error }
	interval time.Duration
	logger   *slog.Logger
}

// NewNavRecorder creates a recorder polling every interval.
func NewNavRecorder(ref navsensor.Reference, sink interface{ RecordNavSample(*core.NavSample) error }, interval time.Duration, logger *slog.Logger) *NavRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &NavRecorder{ref: ref, sink: sink, interval: interval, logger: logger.With("component", "nav")}
}

// Run records samples tagged with sessionUUID until ctx is done. Read errors
// are logged and the next tick retried.
func (r *NavRecorder) Run(ctx context.Context, sessionUUID string) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sol, err := r.ref.Solution(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("nav read failed", "error", err)
			continue
		}
		sample := sol.Sample(sessionUUID)
		if err := r.sink.RecordNavSample(&sample); err != nil {
			r.logger.Warn("failed to record nav sample", "error", err)
		}
	}
}

// Start runs the recorder in the background and returns a stop function
// that blocks until it has exited.
func (r *NavRecorder) Start(ctx context.Context, sessionUUID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, sessionUUID)
	}()
	return func() {
		cancel()
		<-done
	}
}
