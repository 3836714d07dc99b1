package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/sio-stoke/stoke/pkg/core"
)

// Points are stored in EPSG:3857 (web mercator) as WKB so SQLite, which has
// no spatial types, and PostGIS read back the same bytes.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

// ParsePosition parses "long,lat" or "long,lat,alt" in degrees and metres.
func ParsePosition(coords string) (core.Position3D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	if vals[0] < -180 || vals[0] > 180 || vals[1] < -90 || vals[1] > 90 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	return core.Position3D{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// WebMercator converts a WGS84 position to an EPSG:3857 point. Altitude is
// carried through unchanged as Z.
func WebMercator(p core.Position3D) (geom.Point, error) {
	x, y, _ := toWebMercator(p.X, p.Y, 0)
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    p.Z,
		Type: geom.DimXYZ,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), fmt.Errorf("projecting %v: %w", p, err)
	}
	return pt, nil
}

// Valid reports whether p looks like a real fix rather than the zero value a
// sensor reports without one.
func Valid(p core.Position3D) bool {
	return !(p.X == 0 && p.Y == 0) && p.Y >= -90 && p.Y <= 90 && p.X >= -180 && p.X <= 180
}
