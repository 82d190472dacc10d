// Package geometry repairs and canonicalizes polygonal geometry with GEOS.
//
// Every exported operation recovers GEOS panics and reports them as a
// *GeometryError, so a single bad feature never takes down an import.
package geometry

import (
	"fmt"

	"github.com/twpayne/go-geos"
)

// GeometryError reports a GEOS failure while repairing, simplifying or
// measuring a geometry.
type GeometryError struct {
	Op  string
	Err error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s: %v", e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

// Normalized is the stored form of a feature's geometry.
type Normalized struct {
	Geometry   *geos.Geom
	Simplified *geos.Geom
	Centroid   *geos.Geom
}

// Empty reports whether normalization left nothing worth storing.
func (n Normalized) Empty() bool {
	return n.Geometry == nil || n.Geometry.IsEmpty()
}

// recoverInto converts a GEOS panic into a GeometryError on err.
func recoverInto(op string, err *error) {
	if r := recover(); r != nil {
		cause, ok := r.(error)
		if !ok {
			cause = fmt.Errorf("%v", r)
		}
		*err = &GeometryError{Op: op, Err: cause}
	}
}

// Normalize buffers raw by zero to drop self-intersections, coerces it to a
// multi-polygon, simplifies it at tolerance and finds a centroid that lies
// inside the result. Non-polygonal or nil input normalizes to an empty
// geometry collection tagged with srid.
func Normalize(raw *geos.Geom, tolerance float64, srid int) (n Normalized, err error) {
	defer recoverInto("normalize", &err)

	if raw == nil {
		empty := EmptyGeom(srid)
		return Normalized{Geometry: empty, Simplified: EmptyGeom(srid)}, nil
	}
	raw.SetSRID(srid)

	repaired := raw
	if isPolygonal(raw) {
		repaired = raw.Buffer(0, 8).SetSRID(srid)
	}

	multi := EnforceMulti(repaired)
	if multi.IsEmpty() {
		return Normalized{Geometry: multi, Simplified: EmptyGeom(srid)}, nil
	}

	n.Geometry = multi
	n.Simplified = Simplify(multi, tolerance)
	n.Centroid = Centroid(multi)
	return n, nil
}

// Simplify runs a topology-preserving simplification and coerces the result
// back to a multi-polygon.
func Simplify(g *geos.Geom, tolerance float64) *geos.Geom {
	srid := g.SRID()
	return EnforceMulti(g.TopologyPreserveSimplify(tolerance).SetSRID(srid))
}

// EnforceMulti wraps a Polygon in a one-element MultiPolygon and passes a
// MultiPolygon through. Any other geometry becomes an empty geometry
// collection with the same SRID. A nil geometry stays nil.
func EnforceMulti(g *geos.Geom) *geos.Geom {
	if g == nil {
		return nil
	}
	srid := g.SRID()
	switch g.TypeID() {
	case geos.TypeIDMultiPolygon:
		return g
	case geos.TypeIDPolygon:
		if g.IsEmpty() {
			return geos.NewEmptyCollection(geos.TypeIDMultiPolygon).SetSRID(srid)
		}
		return geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{g.Clone()}).SetSRID(srid)
	default:
		return EmptyGeom(srid)
	}
}

// EmptyGeom is an empty geometry collection in the given spatial reference.
func EmptyGeom(srid int) *geos.Geom {
	return geos.NewEmptyCollection(geos.TypeIDGeometryCollection).SetSRID(srid)
}

func isPolygonal(g *geos.Geom) bool {
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return true
	}
	return false
}
