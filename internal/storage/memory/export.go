// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sio-stoke/stoke/pkg/core"
)

// ManifestVersion is bumped whenever the manifest layout changes.
const ManifestVersion = 1

// Manifest is the root JSON structure
type Manifest struct {
	Version      int               `json:"version"`
	Session      SessionJSON       `json:"session"`
	ClockOffsets []ClockOffsetJSON `json:"clockOffsets"`
	Bursts       []BurstJSON       `json:"bursts"`
	Frames       []FrameJSON       `json:"frames"`
	NavSamples   []NavSampleJSON   `json:"navSamples"`
	Performance  []PerformanceJSON `json:"performance,omitempty"`
}

// SessionJSON describes the session
type SessionJSON struct {
	UUID      string       `json:"uuid"`
	Label     string       `json:"label"`
	Kind      string       `json:"kind"`
	Dir       string       `json:"dir"`
	Profile   core.Profile `json:"profile"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Synced    bool         `json:"synced"`
	Site      []float64    `json:"site,omitempty"`
}

// ClockOffsetJSON is one synchronization result
type ClockOffsetJSON struct {
	LocalMonotonicNs int64     `json:"localMonotonicNs"`
	External         time.Time `json:"external"`
	DeltaSeconds     float64   `json:"deltaSeconds"`
	Adjustments      int       `json:"adjustments"`
	Fix              string    `json:"fix"`
}

// BurstJSON is one burst summary
type BurstJSON struct {
	UUID       string `json:"uuid"`
	Strategy   string `json:"strategy"`
	Iterations int    `json:"iterations"`
	Captured   int    `json:"captured"`
	Discarded  int    `json:"discarded"`
	Evicted    int    `json:"evicted"`
	StartedNs  int64  `json:"startedNs"`
	EndedNs    int64  `json:"endedNs"`
}

// FrameJSON is one frame. UTC is derived from the latest clock offset at
// export; CaptureTimestamp is the raw monotonic value.
type FrameJSON struct {
	Burst            string     `json:"burst"`
	Sensor           int        `json:"sensor"`
	Sequence         int        `json:"sequence"`
	CaptureTimestamp int64      `json:"captureTimestamp"`
	UTC              *time.Time `json:"utc,omitempty"`
	Path             string     `json:"path"`
	Bytes            int64      `json:"bytes"`
	Error            string     `json:"error,omitempty"`
}

// NavSampleJSON is one nav reading: [lon, lat, alt]
type NavSampleJSON struct {
	Time        time.Time  `json:"time"`
	MonotonicNs int64      `json:"monotonicNs"`
	Fix         string     `json:"fix"`
	NumSats     int        `json:"numSats"`
	Position    [3]float64 `json:"position"`
}

// PerformanceJSON is one buffer snapshot
type PerformanceJSON struct {
	Time          time.Time `json:"time"`
	Mode          string    `json:"mode"`
	Ring          [2]int    `json:"ring"`
	WriterBacklog int       `json:"writerBacklog"`
}

// ToUTC maps a monotonic timestamp onto the external clock using o.
func ToUTC(o core.ClockOffset, monotonicNs int64) time.Time {
	return o.ExternalAbsolute.Add(time.Duration(monotonicNs - o.LocalMonotonicNs)).UTC()
}

// exportJSON writes the session manifest into the session directory, or
// into OutputDir when the session has none
func (b *Backend) exportJSON() error {
	manifest := b.buildManifest()

	dir := b.current.Session.Dir
	name := "manifest.json"
	if dir == "" {
		dir = b.cfg.OutputDir
		name = fmt.Sprintf("%s_%s.json", b.current.Session.Label, b.current.Session.StartTime.Format("20060102_150405"))
	}
	if b.cfg.CompressOutput {
		name += ".gz"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(dir, name)
	if err := writeManifest(outputPath, manifest, b.cfg.CompressOutput); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildManifest() Manifest {
	rec := b.current
	s := rec.Session
	m := Manifest{
		Version: ManifestVersion,
		Session: SessionJSON{
			UUID:      s.UUID,
			Label:     s.Label,
			Kind:      s.Kind,
			Dir:       s.Dir,
			Profile:   s.Profile,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Synced:    s.Synced,
		},
		ClockOffsets: make([]ClockOffsetJSON, 0, len(b.offsets)),
		Bursts:       make([]BurstJSON, 0, len(rec.Bursts)),
		Frames:       make([]FrameJSON, 0, len(rec.Frames)),
		NavSamples:   make([]NavSampleJSON, 0, len(rec.NavSamples)),
	}
	if s.SiteLocation != (core.Position3D{}) {
		m.Session.Site = []float64{s.SiteLocation.X, s.SiteLocation.Y, s.SiteLocation.Z}
	}

	for _, o := range b.offsets {
		m.ClockOffsets = append(m.ClockOffsets, ClockOffsetJSON{
			LocalMonotonicNs: o.LocalMonotonicNs,
			External:         o.ExternalAbsolute,
			DeltaSeconds:     o.DeltaSeconds,
			Adjustments:      o.Adjustments,
			Fix:              o.Fix.String(),
		})
	}

	for _, e := range rec.Bursts {
		m.Bursts = append(m.Bursts, BurstJSON{
			UUID:       e.UUID,
			Strategy:   e.Strategy,
			Iterations: e.Iterations,
			Captured:   e.Captured,
			Discarded:  e.Discarded,
			Evicted:    e.Evicted,
			StartedNs:  e.StartedNs,
			EndedNs:    e.EndedNs,
		})
	}

	var latest *core.ClockOffset
	if len(b.offsets) > 0 {
		latest = &b.offsets[len(b.offsets)-1]
	}
	for _, f := range rec.Frames {
		fj := FrameJSON{
			Burst:            f.BurstUUID,
			Sensor:           f.SensorID,
			Sequence:         f.SequenceIndex,
			CaptureTimestamp: f.CaptureTimestamp,
			Path:             f.Path,
			Bytes:            f.Bytes,
			Error:            f.WriteError,
		}
		if latest != nil {
			utc := ToUTC(*latest, f.CaptureTimestamp)
			fj.UTC = &utc
		}
		m.Frames = append(m.Frames, fj)
	}
	// writers may finish bursts out of order
	sort.SliceStable(m.Frames, func(i, j int) bool {
		a, c := m.Frames[i], m.Frames[j]
		if a.CaptureTimestamp != c.CaptureTimestamp {
			return a.CaptureTimestamp < c.CaptureTimestamp
		}
		return a.Sensor < c.Sensor
	})

	for _, n := range rec.NavSamples {
		m.NavSamples = append(m.NavSamples, NavSampleJSON{
			Time:        n.Time,
			MonotonicNs: n.MonotonicNs,
			Fix:         n.Fix.String(),
			NumSats:     n.NumSats,
			Position:    [3]float64{n.Position.X, n.Position.Y, n.Position.Z},
		})
	}

	for _, p := range rec.Performance {
		m.Performance = append(m.Performance, PerformanceJSON{
			Time:          p.Time,
			Mode:          p.Mode,
			Ring:          p.RingOccupancy,
			WriterBacklog: p.WriterBacklog,
		})
	}

	return m
}

func writeManifest(path string, m Manifest, compress bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if compress {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}()
		w = gz
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(m)
}

// ReadManifest reads a manifest written by the memory backend, gzipped or not.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	f, err := os.Open(path)
	if err != nil {
		return m, err
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return m, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return m, fmt.Errorf("decoding manifest: %w", err)
	}
	return m, nil
}
