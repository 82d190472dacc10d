package geography

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/twpayne/go-geos"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Geometry stores a GEOS geometry in a PostGIS geometry column. Values are
// written as WKB with the geometry's SRID and read back from (E)WKB, either
// raw or hex encoded as PostGIS returns it in text mode.
type Geometry struct {
	*geos.Geom
}

// NewGeometry wraps g; a nil g is stored as NULL.
func NewGeometry(g *geos.Geom) Geometry { return Geometry{Geom: g} }

func (Geometry) GormDataType() string { return "geometry" }

func (g Geometry) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	if g.Geom == nil {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{
		SQL:  "ST_SetSRID(ST_GeomFromWKB(?), ?)",
		Vars: []interface{}{g.ToWKB(), g.SRID()},
	}
}

func (g *Geometry) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		g.Geom = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("geography: cannot scan %T into Geometry", value)
	}

	if decoded, err := hex.DecodeString(string(raw)); err == nil {
		raw = decoded
	}
	geom, err := geos.NewGeomFromWKB(raw)
	if err != nil {
		return fmt.Errorf("geography: decode geometry: %w", err)
	}
	g.Geom = geom
	return nil
}

// Valid reports whether a geometry is present.
func (g Geometry) Valid() bool { return g.Geom != nil }

// Clone copies the wrapped geometry.
func (g Geometry) Clone() Geometry {
	if g.Geom == nil {
		return Geometry{}
	}
	return Geometry{Geom: g.Geom.Clone()}
}
