// internal/storage/memory/memory_test.go
package memory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sio-stoke/stoke/internal/config"
	"github.com/sio-stoke/stoke/pkg/core"
)

func newSession(dir string) *core.Session {
	return &core.Session{
		UUID:      "s-1",
		Label:     "225942_auto",
		Kind:      "session",
		Dir:       dir,
		Profile:   core.Profile{Name: "auto", FrameRate: 25, ExposureUs: 2000, Strategy: "burst"},
		StartTime: time.Date(2024, 12, 18, 22, 59, 42, 0, time.UTC),
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRecordWithoutSession(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.RecordBurst(&core.Burst{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := b.RecordFrame(&core.FrameMeta{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := b.RecordNavSample(&core.NavSample{}); err != nil {
		t.Errorf("nav samples outside a session are dropped, got %v", err)
	}
	if err := b.RecordClockOffset(&core.ClockOffset{DeltaSeconds: 0.1}); err != nil {
		t.Fatalf("RecordClockOffset failed: %v", err)
	}
	if len(b.ClockOffsets()) != 1 {
		t.Error("expected offset kept outside a session")
	}
	if err := b.EndSession(&core.Session{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestStartSessionResets(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})

	s := newSession("")
	if err := b.StartSession(s); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if s.ID == 0 {
		t.Error("expected ID assigned")
	}
	_ = b.RecordFrame(&core.FrameMeta{SequenceIndex: 1})

	s2 := newSession("")
	s2.UUID = "s-2"
	_ = b.StartSession(s2)

	rec, ok := b.Current()
	if !ok {
		t.Fatal("expected open session")
	}
	if rec.Session.UUID != "s-2" || len(rec.Frames) != 0 {
		t.Errorf("expected fresh session, got %s with %d frames", rec.Session.UUID, len(rec.Frames))
	}
}

func TestExportManifest_Gzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: true})

	at := time.Date(2024, 12, 18, 22, 59, 42, 0, time.UTC)
	_ = b.RecordClockOffset(&core.ClockOffset{LocalMonotonicNs: 1_000_000_000, ExternalAbsolute: at, Fix: core.Fix3D})

	s := newSession(dir)
	_ = b.StartSession(s)
	_ = b.RecordBurst(&core.Burst{UUID: "b-1", Strategy: "burst", Iterations: 2, Captured: 2})
	// second sensor first: writers may index out of order
	_ = b.RecordFrame(&core.FrameMeta{BurstUUID: "b-1", SensorID: 1, SequenceIndex: 1, CaptureTimestamp: 1_500_000_000})
	_ = b.RecordFrame(&core.FrameMeta{BurstUUID: "b-1", SensorID: 0, SequenceIndex: 1, CaptureTimestamp: 1_500_000_000})
	_ = b.RecordFrame(&core.FrameMeta{BurstUUID: "b-1", SensorID: 0, SequenceIndex: 2, CaptureTimestamp: 1_540_000_000, WriteError: "disk full"})
	_ = b.RecordNavSample(&core.NavSample{Fix: core.RtkFix, NumSats: 12, Position: core.Position3D{X: -124, Y: 44.6, Z: 3}})
	_ = b.RecordPerformance(&core.Performance{Mode: "Standby", RingOccupancy: [2]int{1, 1}})

	s.EndTime = at.Add(time.Minute)
	if err := b.EndSession(s); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	path := b.ExportedFilePath()
	if path != filepath.Join(dir, "manifest.json.gz") {
		t.Fatalf("unexpected export path %s", path)
	}
	if _, ok := b.Current(); ok {
		t.Error("expected session closed")
	}

	m, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Version != ManifestVersion {
		t.Errorf("expected version %d, got %d", ManifestVersion, m.Version)
	}
	if m.Session.Profile.Name != "auto" || !m.Session.EndTime.Equal(s.EndTime) {
		t.Errorf("unexpected session %+v", m.Session)
	}
	if len(m.Bursts) != 1 || len(m.Frames) != 3 || len(m.NavSamples) != 1 || len(m.ClockOffsets) != 1 {
		t.Fatalf("unexpected counts: %d bursts, %d frames, %d nav, %d offsets",
			len(m.Bursts), len(m.Frames), len(m.NavSamples), len(m.ClockOffsets))
	}
	if m.Frames[0].Sensor != 0 || m.Frames[1].Sensor != 1 {
		t.Errorf("expected frames sorted by timestamp then sensor, got %+v", m.Frames[:2])
	}
	if m.Frames[0].UTC == nil || !m.Frames[0].UTC.Equal(at.Add(500*time.Millisecond)) {
		t.Errorf("unexpected frame utc %v", m.Frames[0].UTC)
	}
	if m.Frames[0].CaptureTimestamp != 1_500_000_000 {
		t.Error("raw timestamp must be exported unchanged")
	}
	if m.Frames[2].Error != "disk full" {
		t.Errorf("expected write error carried, got %q", m.Frames[2].Error)
	}
	if m.NavSamples[0].Fix != "RtkFix" {
		t.Errorf("unexpected fix %s", m.NavSamples[0].Fix)
	}
}

func TestExportManifest_PlainToOutputDir(t *testing.T) {
	out := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: out})

	s := newSession("")
	_ = b.StartSession(s)
	if err := b.EndSession(s); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	path := b.ExportedFilePath()
	if !strings.HasPrefix(filepath.Base(path), "225942_auto_20241218_225942") || filepath.Ext(path) != ".json" {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"frames": []`) {
		t.Error("expected empty frames array")
	}
	m, err := ReadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range m.Frames {
		if f.UTC != nil {
			t.Error("no offsets: utc must be omitted")
		}
	}
}

func TestToUTC(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := core.ClockOffset{LocalMonotonicNs: 5_000, ExternalAbsolute: at}
	if got := ToUTC(o, 4_000); !got.Equal(at.Add(-time.Microsecond)) {
		t.Errorf("unexpected %v", got)
	}
}

func TestConcurrentRecords(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	_ = b.StartSession(newSession(""))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(sensor int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.RecordFrame(&core.FrameMeta{SensorID: sensor % 2, SequenceIndex: i + 1})
				_ = b.RecordNavSample(&core.NavSample{})
			}
		}(w)
	}
	wg.Wait()

	rec, _ := b.Current()
	if len(rec.Frames) != 400 || len(rec.NavSamples) != 400 {
		t.Errorf("expected 400 frames and samples, got %d and %d", len(rec.Frames), len(rec.NavSamples))
	}
}
