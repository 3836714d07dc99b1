package capture

import (
	"errors"

	"github.com/sio-stoke/stoke/internal/camera"
	"github.com/sio-stoke/stoke/pkg/core"
)

// ErrPairDiscarded marks an iteration whose records were dropped because
// one of the two captures failed.
var ErrPairDiscarded = errors.New("capture pair discarded")

// FrameRecord is one sensor's frame for one iteration. The pixel buffer is
// owned by whoever holds the record: the ring, then the writer.
type FrameRecord struct {
	SensorID         int
	Frame            camera.Frame
	CaptureTimestamp int64
	SequenceIndex    int
}

// Release drops the pixel buffer.
func (r *FrameRecord) Release() {
	r.Frame.Release()
}

// Batch is the drained contents of both rings at the end of a burst.
// Records[0][i] and Records[1][i] always share a sequence index.
type Batch struct {
	BurstID  string
	Strategy string
	Records  [2][]FrameRecord
}

// Len returns the number of records across both sensors.
func (b Batch) Len() int {
	return len(b.Records[0]) + len(b.Records[1])
}

// Release drops every pixel buffer in the batch.
func (b Batch) Release() {
	for i := range b.Records {
		for j := range b.Records[i] {
			b.Records[i][j].Release()
		}
	}
}

// Pairs returns the number of sequence indices in the batch.
func (b Batch) Pairs() int {
	return len(b.Records[0])
}

// Summary describes a completed burst.
type Summary struct {
	BurstID    string
	Strategy   string
	Iterations int
	// Captured is the number of pairs handed off in the batch.
	Captured     int
	Discarded    int
	Evicted      int
	StartedNs    int64
	EndedNs      int64
	MaxLatencyNs int64
}

// Burst converts the summary into its storage record.
func (s Summary) Burst(sessionUUID string) core.Burst {
	return core.Burst{
		UUID:        s.BurstID,
		SessionUUID: sessionUUID,
		Strategy:    s.Strategy,
		Iterations:  s.Iterations,
		Captured:    s.Captured,
		Discarded:   s.Discarded,
		Evicted:     s.Evicted,
		StartedNs:   s.StartedNs,
		EndedNs:     s.EndedNs,
	}
}
