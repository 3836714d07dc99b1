package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/sio-stoke/stoke/pkg/core"
)

// Track builds an EPSG:3857 XYZ line through the valid positions in order.
// Fewer than two valid positions give an empty line.
func Track(positions []core.Position3D) (geom.LineString, error) {
	flat := make([]float64, 0, len(positions)*3)
	n := 0
	for _, p := range positions {
		if !Valid(p) {
			continue
		}
		x, y, _ := toWebMercator(p.X, p.Y, 0)
		flat = append(flat, x, y, p.Z)
		n++
	}
	if n < 2 {
		return geom.LineString{}, nil
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXYZ))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("building track of %d points: %w", n, err)
	}
	return ls, nil
}
