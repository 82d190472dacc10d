package geometry

import (
	"github.com/twpayne/go-geos"
)

// UnionAll dissolves geoms into a single geometry. Nil and empty inputs are
// ignored; the result is nil when nothing is left.
func UnionAll(geoms []*geos.Geom) (u *geos.Geom, err error) {
	defer recoverInto("union", &err)

	parts := make([]*geos.Geom, 0, len(geoms))
	srid := 0
	for _, g := range geoms {
		if g == nil || g.IsEmpty() {
			continue
		}
		if srid == 0 {
			srid = g.SRID()
		}
		parts = append(parts, g.Clone())
	}
	if len(parts) == 0 {
		return nil, nil
	}

	u = geos.NewCollection(geos.TypeIDGeometryCollection, parts).UnaryUnion()
	if u.IsEmpty() {
		return nil, nil
	}
	return u.SetSRID(srid), nil
}

// UncoveredArea is the area of g not covered by existing. A nil or empty
// existing geometry leaves all of g uncovered.
func UncoveredArea(g, existing *geos.Geom) (area float64, err error) {
	defer recoverInto("difference", &err)

	if g == nil {
		return 0, nil
	}
	if existing == nil || existing.IsEmpty() {
		return g.Area(), nil
	}
	return g.Difference(existing).Area(), nil
}

// Describe reports simplicity and validity of a geometry for diagnostics.
func Describe(g *geos.Geom) (simple, valid bool) {
	defer func() {
		if recover() != nil {
			simple, valid = false, false
		}
	}()
	if g == nil {
		return true, true
	}
	return g.IsSimple(), g.IsValid()
}

// Aggregate turns a union of child geometries into the stored pair: the
// union as a multi-polygon and its simplification at tolerance.
func Aggregate(union *geos.Geom, tolerance float64) (geom, simple *geos.Geom, err error) {
	defer recoverInto("aggregate", &err)
	geom = EnforceMulti(union)
	return geom, Simplify(union, tolerance), nil
}
