package persist

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/internal/capture"
	"github.com/sio-stoke/stoke/internal/layout"
	"github.com/sio-stoke/stoke/pkg/core"
)

type memIndex struct {
	mu     sync.Mutex
	frames []core.FrameMeta
}

func (m *memIndex) RecordFrame(f *core.FrameMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, *f)
	return nil
}

func (m *memIndex) all() []core.FrameMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.FrameMeta(nil), m.frames...)
}

func testSession(t *testing.T) *core.Session {
	t.Helper()
	dir := t.TempDir()
	s := &core.Session{UUID: "sess-1", Dir: dir}
	for i, sub := range layout.SensorDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		s.SensorPrefix[i] = filepath.Join(dir, sub, layout.SensorFilePrefixes[i])
	}
	return s
}

func greyFrame(v byte) camera.Frame {
	return camera.Frame{Data: bytes.Repeat([]byte{v}, 8*4), Format: camera.FormatGrey, Width: 8, Height: 4}
}

func jpegFrame(t *testing.T) camera.Frame {
	t.Helper()
	img := imaging.New(8, 4, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return camera.Frame{Data: buf.Bytes(), Format: camera.FormatMJPEG, Width: 8, Height: 4}
}

func batchOf(n int, frame func(seq int) camera.Frame) capture.Batch {
	b := capture.Batch{BurstID: "burst-1", Strategy: "burst"}
	for seq := 1; seq <= n; seq++ {
		ts := int64(1000 * seq)
		for s := 0; s < 2; s++ {
			b.Records[s] = append(b.Records[s], capture.FrameRecord{
				SensorID:         s,
				Frame:            frame(seq),
				CaptureTimestamp: ts,
				SequenceIndex:    seq,
			})
		}
	}
	return b
}

func TestWriteBatch_WritesPairedFiles(t *testing.T) {
	sess := testSession(t)
	idx := &memIndex{}
	w, err := NewWriter("png", 95, idx, nil)
	require.NoError(t, err)

	batch := batchOf(3, func(int) camera.Frame { return greyFrame(128) })
	res := w.WriteBatch(context.Background(), Job{Batch: batch, Session: sess})

	assert.Equal(t, 6, res.Written)
	assert.Equal(t, 0, res.Failed)
	assert.Positive(t, res.Bytes)
	assert.Equal(t, "burst-1", res.BurstID)

	for seq := 1; seq <= 3; seq++ {
		for s := 0; s < 2; s++ {
			path := layout.FrameName(sess.SensorPrefix[s], int64(1000*seq), seq, "png")
			img, err := imaging.Open(path)
			require.NoError(t, err, path)
			assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
		}
	}

	rep, err := layout.Verify(sess.Dir)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 3, rep.Pairs)

	frames := idx.all()
	require.Len(t, frames, 6)
	assert.Equal(t, 0, frames[0].SensorID)
	assert.Equal(t, 1, frames[1].SensorID)
	assert.Equal(t, 1, frames[1].SequenceIndex)
	assert.Equal(t, 3, frames[5].SequenceIndex)
	assert.Equal(t, "sess-1", frames[0].SessionUUID)
	assert.Equal(t, "burst-1", frames[0].BurstUUID)

	for s := 0; s < 2; s++ {
		for _, r := range batch.Records[s] {
			assert.Nil(t, r.Frame.Data, "buffer released after write")
		}
	}
}

func TestWriteBatch_JPEGPassthrough(t *testing.T) {
	sess := testSession(t)
	w, err := NewWriter("jpg", 95, nil, nil)
	require.NoError(t, err)

	src := jpegFrame(t)
	want := append([]byte(nil), src.Data...)
	batch := batchOf(1, func(int) camera.Frame {
		return camera.Frame{Data: append([]byte(nil), want...), Format: src.Format, Width: 8, Height: 4}
	})

	res := w.WriteBatch(context.Background(), Job{Batch: batch, Session: sess})
	require.Equal(t, 2, res.Written)

	got, err := os.ReadFile(layout.FrameName(sess.SensorPrefix[0], 1000, 1, "jpg"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(len(want))*2, res.Bytes)
}

func TestWriteBatch_PerRecordFailureDoesNotAbort(t *testing.T) {
	sess := testSession(t)
	idx := &memIndex{}
	w, err := NewWriter("png", 95, idx, nil)
	require.NoError(t, err)

	batch := batchOf(3, func(seq int) camera.Frame {
		if seq == 2 {
			return camera.Frame{Data: []byte{1, 2}, Format: camera.FormatGrey, Width: 8, Height: 4}
		}
		return greyFrame(10)
	})

	res := w.WriteBatch(context.Background(), Job{Batch: batch, Session: sess})
	assert.Equal(t, 4, res.Written)
	assert.Equal(t, 2, res.Failed)

	_, err = os.Stat(layout.FrameName(sess.SensorPrefix[0], 2000, 2, "png"))
	assert.True(t, os.IsNotExist(err), "partial file removed")
	_, err = os.Stat(layout.FrameName(sess.SensorPrefix[1], 3000, 3, "png"))
	assert.NoError(t, err)

	var failed int
	for _, f := range idx.all() {
		if f.WriteError != "" {
			failed++
			assert.Equal(t, 2, f.SequenceIndex)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestWriteBatch_MissingDirectory(t *testing.T) {
	sess := testSession(t)
	require.NoError(t, os.RemoveAll(filepath.Join(sess.Dir, "cam1")))
	w, err := NewWriter("png", 95, nil, nil)
	require.NoError(t, err)

	res := w.WriteBatch(context.Background(), Job{Batch: batchOf(2, func(int) camera.Frame { return greyFrame(1) }), Session: sess})
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 2, res.Failed)
}

func TestNewWriter_UnknownExtension(t *testing.T) {
	_, err := NewWriter("webp", 95, nil, nil)
	assert.Error(t, err)
}

type slowWriter struct {
	mu      sync.Mutex
	release chan struct{}
	jobs    []string
}

func (s *slowWriter) WriteBatch(_ context.Context, job Job) Result {
	<-s.release
	s.mu.Lock()
	s.jobs = append(s.jobs, job.Batch.BurstID)
	s.mu.Unlock()
	return Result{BurstID: job.Batch.BurstID, Written: job.Batch.Len()}
}

func TestPipeline_SubmitDoesNotWaitForWrite(t *testing.T) {
	sw := &slowWriter{release: make(chan struct{})}
	p, err := NewPipeline(sw, WithWorkers(1), WithQueueSize(4))
	require.NoError(t, err)
	p.Start()

	for _, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, p.Submit(ctx, Job{Batch: capture.Batch{BurstID: id}}))
		cancel()
	}
	assert.Equal(t, 3, p.Backlog())

	close(sw.release)
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, 0, p.Backlog())
	assert.Equal(t, []string{"a", "b", "c"}, sw.jobs)
	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last.BurstID)
}

func TestPipeline_SubmitBlocksWhenFull(t *testing.T) {
	sw := &slowWriter{release: make(chan struct{})}
	p, err := NewPipeline(sw, WithWorkers(1), WithQueueSize(1))
	require.NoError(t, err)
	p.Start()

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, Job{Batch: capture.Batch{BurstID: "a"}}))
	require.Eventually(t, func() bool { return p.queue.len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(ctx, Job{Batch: capture.Batch{BurstID: "b"}}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = p.Submit(short, Job{Batch: capture.Batch{BurstID: "c"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, p.Backlog())

	close(sw.release)
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, []string{"a", "b"}, sw.jobs)
}

func TestPipeline_SubmitAfterClose(t *testing.T) {
	p, err := NewPipeline(&slowWriter{release: make(chan struct{})})
	require.NoError(t, err)
	p.Start()
	require.NoError(t, p.Close(context.Background()))

	assert.ErrorIs(t, p.Submit(context.Background(), Job{}), ErrClosed)
	assert.NoError(t, p.Close(context.Background()), "second close is a no-op")
}

func TestPipeline_OnResultAndWriter(t *testing.T) {
	sess := testSession(t)
	w, err := NewWriter("png", 90, nil, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var results []Result
	p, err := NewPipeline(w, WithWorkers(2), WithOnResult(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))
	require.NoError(t, err)
	p.Start()

	require.NoError(t, p.Submit(context.Background(), Job{Batch: batchOf(2, func(int) camera.Frame { return greyFrame(50) }), Session: sess}))
	require.NoError(t, p.Close(context.Background()))

	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Written)
}

func TestNewPipeline_RejectsZeroWorkers(t *testing.T) {
	_, err := NewPipeline(&slowWriter{}, WithWorkers(0))
	assert.Error(t, err)
}

func TestPipeline_Wait(t *testing.T) {
	sw := &slowWriter{release: make(chan struct{})}
	p, err := NewPipeline(sw, WithWorkers(1))
	require.NoError(t, err)
	p.Start()
	defer p.Close(context.Background())

	require.NoError(t, p.Submit(context.Background(), Job{Batch: capture.Batch{BurstID: "a"}}))

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(short), context.DeadlineExceeded)

	close(sw.release)
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 0, p.Backlog())
}
