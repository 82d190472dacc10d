package shapefile

import (
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geos"
)

// Geometry converts the feature's shape to GEOS. Polygon rings are folded in
// file order: clockwise rings add area and counter-clockwise rings cut holes,
// which handles islands inside holes. A null shape yields nil. Point and
// line shapes convert to their GEOS counterparts.
func (f Feature) Geometry(srid int) (g *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("shapefile: feature %d: %v", f.Index, r)
		}
	}()

	var parts []int32
	var points []shp.Point
	switch s := f.Shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	case *shp.Point:
		return geos.NewPoint([]float64{s.X, s.Y}).SetSRID(srid), nil
	case *shp.PolyLine:
		return lines(s.Parts, s.Points).SetSRID(srid), nil
	default:
		return nil, fmt.Errorf("shapefile: feature %d: unsupported shape %T", f.Index, f.Shape)
	}

	var acc *geos.Geom
	for _, ring := range splitParts(parts, points) {
		coords := closeRing(ring)
		if len(coords) < 4 {
			continue
		}
		poly := geos.NewPolygon([][][]float64{coords}).Buffer(0, 8)
		switch {
		case acc == nil:
			acc = poly
		case signedArea(coords) < 0:
			acc = acc.Union(poly)
		default:
			acc = acc.Difference(poly)
		}
	}
	if acc == nil {
		return nil, fmt.Errorf("shapefile: feature %d has no usable rings", f.Index)
	}
	return acc.SetSRID(srid), nil
}

func splitParts(parts []int32, points []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func closeRing(ring []shp.Point) [][]float64 {
	coords := make([][]float64, 0, len(ring)+1)
	for _, p := range ring {
		coords = append(coords, []float64{p.X, p.Y})
	}
	if n := len(coords); n > 0 && (coords[0][0] != coords[n-1][0] || coords[0][1] != coords[n-1][1]) {
		coords = append(coords, []float64{coords[0][0], coords[0][1]})
	}
	return coords
}

// signedArea is positive for counter-clockwise rings.
func signedArea(coords [][]float64) float64 {
	var sum float64
	for i := 0; i+1 < len(coords); i++ {
		sum += coords[i][0]*coords[i+1][1] - coords[i+1][0]*coords[i][1]
	}
	return sum / 2
}

func lines(parts []int32, points []shp.Point) *geos.Geom {
	var ls []*geos.Geom
	for _, part := range splitParts(parts, points) {
		if len(part) < 2 {
			continue
		}
		coords := make([][]float64, 0, len(part))
		for _, p := range part {
			coords = append(coords, []float64{p.X, p.Y})
		}
		ls = append(ls, geos.NewLineString(coords))
	}
	return geos.NewCollection(geos.TypeIDMultiLineString, ls)
}
