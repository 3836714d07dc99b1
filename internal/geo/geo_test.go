package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/sio-stoke/stoke/pkg/core"
)

const mercatorHalf = 20037508.342789244

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestParsePosition_WithAltitude(t *testing.T) {
	p, err := ParsePosition("-124.07, 44.62, 12.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.X != -124.07 || p.Y != 44.62 || p.Z != 12.5 {
		t.Errorf("unexpected position %+v", p)
	}
}

func TestParsePosition_WithoutAltitude(t *testing.T) {
	p, err := ParsePosition("10,20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Z != 0 {
		t.Errorf("expected Z=0, got %f", p.Z)
	}
}

func TestParsePosition_Invalid(t *testing.T) {
	for _, s := range []string{"", "10", "a,b", "10,20,x", "1,2,3,4", "200,0", "0,95"} {
		if _, err := ParsePosition(s); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("%q: expected ErrInvalidCoordinates, got %v", s, err)
		}
	}
}

func TestWebMercator_Origin(t *testing.T) {
	pt, err := WebMercator(core.Position3D{Z: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := pt.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if !near(c.X, 0) || !near(c.Y, 0) {
		t.Errorf("expected origin, got %v", c.XY)
	}
	if c.Z != 3 {
		t.Errorf("expected Z=3, got %f", c.Z)
	}
}

func TestWebMercator_Longitude(t *testing.T) {
	pt, err := WebMercator(core.Position3D{X: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := pt.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if want := mercatorHalf * 10 / 180; !near(c.X, want) {
		t.Errorf("expected X=%f, got %f", want, c.X)
	}
}

func TestWebMercator_NorthIsPositive(t *testing.T) {
	pt, err := WebMercator(core.Position3D{X: -124, Y: 44.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := pt.Coordinates()
	if c.Y <= 0 || c.X >= 0 {
		t.Errorf("unexpected quadrant %v", c.XY)
	}
}

func TestValid(t *testing.T) {
	if Valid(core.Position3D{}) {
		t.Error("zero position should not be valid")
	}
	if !Valid(core.Position3D{X: -124, Y: 44.6}) {
		t.Error("expected valid")
	}
}

func TestTrack(t *testing.T) {
	ls, err := Track([]core.Position3D{
		{X: 1, Y: 1, Z: 5},
		{},
		{X: 2, Y: 1, Z: 6},
		{X: 3, Y: 1, Z: 7},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seq := ls.Coordinates()
	if seq.Length() != 3 {
		t.Fatalf("expected 3 points, got %d", seq.Length())
	}
	if seq.Get(2).Z != 7 {
		t.Errorf("expected Z=7, got %f", seq.Get(2).Z)
	}
	if !near(seq.GetXY(0).X, mercatorHalf/180) {
		t.Errorf("unexpected X %f", seq.GetXY(0).X)
	}
}

func TestTrack_TooFew(t *testing.T) {
	for _, positions := range [][]core.Position3D{{{X: 1, Y: 1}}, nil} {
		ls, err := Track(positions)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ls.IsEmpty() {
			t.Error("expected empty track")
		}
	}
}

func TestWebMercator_RejectsNonFinite(t *testing.T) {
	if _, err := WebMercator(core.Position3D{X: math.NaN(), Y: 10}); err == nil {
		t.Error("expected error for NaN longitude")
	}
}
