package geometry

import (
	"github.com/twpayne/go-geos"
)

// Centroid returns the centroid of a multi-polygon when it falls inside the
// geometry. Concave and ring-shaped polygons often have their centroid
// outside; then a horizontal line is drawn across the first polygon at the
// height of its centroid and the midpoint of the first segment inside the
// polygon is used instead.
func Centroid(multi *geos.Geom) *geos.Geom {
	srid := multi.SRID()
	center := multi.Centroid().SetSRID(srid)
	if center.IsEmpty() || center.Within(multi) {
		return center
	}

	first := multi
	if multi.TypeID() == geos.TypeIDMultiPolygon && multi.NumGeometries() > 0 {
		first = multi.Geometry(0)
	}

	bounds := first.Bounds()
	y := first.Centroid().Y()
	line := geos.NewLineString([][]float64{{bounds.MinX, y}, {bounds.MaxX, y}})

	if seg := firstLineString(line.Intersection(first)); seg != nil {
		center = seg.Centroid().SetSRID(srid)
	}

	// The midline can run along an edge, leaving the midpoint on the boundary.
	if !center.Within(multi) {
		center = multi.PointOnSurface().SetSRID(srid)
	}
	return center
}

func firstLineString(g *geos.Geom) *geos.Geom {
	if g == nil || g.IsEmpty() {
		return nil
	}
	switch g.TypeID() {
	case geos.TypeIDLineString:
		return g
	case geos.TypeIDMultiLineString, geos.TypeIDGeometryCollection:
		for i := 0; i < g.NumGeometries(); i++ {
			if seg := firstLineString(g.Geometry(i)); seg != nil {
				return seg
			}
		}
	}
	return nil
}
