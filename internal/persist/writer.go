// Package persist writes captured batches to disk off the capture path.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"github.com/sio-stoke/stoke/internal/capture"
	"github.com/sio-stoke/stoke/internal/layout"
	"github.com/sio-stoke/stoke/pkg/core"
)

// Index receives the metadata of every frame the writer handles, written or
// not.
type Index interface {
	RecordFrame(f *core.FrameMeta) error
}

// Job is one batch bound to the session it was captured in.
type Job struct {
	Batch   capture.Batch
	Session *core.Session
}

// Result summarizes one WriteBatch call.
type Result struct {
	BurstID  string
	Written  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// Writer encodes and writes frame records.
type Writer struct {
	format  imaging.Format
	ext     string
	quality int
	index   Index
	logger  *slog.Logger
}

// NewWriter returns a writer producing ext files ("jpg", "png", "tif", ...).
// quality applies to JPEG re-encoding. index may be nil.
func NewWriter(ext string, quality int, index Index, logger *slog.Logger) (*Writer, error) {
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("image extension %q: %w", ext, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		format:  format,
		ext:     ext,
		quality: quality,
		index:   index,
		logger:  logger.With("component", "writer"),
	}, nil
}

// WriteBatch writes every record of job in sequence order, sensor 0 before
// sensor 1. A failing record is logged and skipped; the rest of the batch is
// still written. Every record's buffer is released once handled.
func (w *Writer) WriteBatch(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{BurstID: job.Batch.BurstID}
	recs := job.Batch.Records

	for i := 0; i < len(recs[0]) || i < len(recs[1]); i++ {
		for sensor := range recs {
			if i >= len(recs[sensor]) {
				continue
			}
			rec := &recs[sensor][i]
			meta := w.writeRecord(ctx, job, rec)
			rec.Release()

			if meta.WriteError != "" {
				res.Failed++
			} else {
				res.Written++
				res.Bytes += meta.Bytes
			}
			if w.index != nil {
				if err := w.index.RecordFrame(&meta); err != nil {
					w.logger.Warn("Failed to index frame", "path", meta.Path, "error", err)
				}
			}
		}
	}

	res.Duration = time.Since(start)
	return res
}

func (w *Writer) writeRecord(ctx context.Context, job Job, rec *capture.FrameRecord) core.FrameMeta {
	meta := core.FrameMeta{
		BurstUUID:        job.Batch.BurstID,
		SensorID:         rec.SensorID,
		SequenceIndex:    rec.SequenceIndex,
		CaptureTimestamp: rec.CaptureTimestamp,
	}
	prefix := ""
	if job.Session != nil {
		meta.SessionUUID = job.Session.UUID
		prefix = job.Session.SensorPrefix[rec.SensorID]
	}
	meta.Path = layout.FrameName(prefix, rec.CaptureTimestamp, rec.SequenceIndex, w.ext)

	var err error
	if err = ctx.Err(); err == nil {
		meta.Bytes, err = w.writeFile(meta.Path, rec)
	}
	if err != nil {
		meta.WriteError = err.Error()
		w.logger.Error("Failed to write frame",
			"burst", meta.BurstUUID,
			"sensor", rec.SensorID,
			"sequence", rec.SequenceIndex,
			"path", meta.Path,
			"error", err)
	}
	return meta
}

func (w *Writer) writeFile(path string, rec *capture.FrameRecord) (n int64, err error) {
	if len(rec.Frame.Data) == 0 {
		return 0, errors.New("empty frame buffer")
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	cw := &countingWriter{w: f}
	if rec.Frame.Format.Compressed() && w.format == imaging.JPEG {
		_, err = cw.Write(rec.Frame.Data)
		return cw.n, err
	}

	img, err := rec.Frame.Image()
	if err != nil {
		return 0, fmt.Errorf("converting %s frame: %w", rec.Frame.Format, err)
	}
	if err := imaging.Encode(cw, img, w.format, imaging.JPEGQuality(w.quality)); err != nil {
		return cw.n, fmt.Errorf("encoding: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
