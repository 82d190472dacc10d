package geography

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Geolevel is one tier of the hierarchy, e.g. block, tract or county.
type Geolevel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:50;uniqueIndex" json:"name"`
	SortKey   int       `json:"sort_key"`
	MinZoom   int       `json:"min_zoom"`
	Tolerance float64   `json:"tolerance"` // simplification tolerance in SRID units
}

func (Geolevel) TableName() string { return "geography.geolevels" }

// Subject is a named statistical measure. PercentageDenominator is a weak
// reference to the subject used as the denominator for percentages.
type Subject struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name                  string     `gorm:"size:50;uniqueIndex" json:"name"`
	DisplayName           string     `gorm:"size:200" json:"display_name"`
	ShortName             string     `gorm:"size:25" json:"short_name"`
	SortKey               int        `json:"sort_key"`
	PercentageDenominator *uuid.UUID `gorm:"type:uuid" json:"percentage_denominator,omitempty"`
}

func (Subject) TableName() string { return "geography.subjects" }

// Geounit is a single geographic area at one geolevel. The identity key
// (name, geolevel, portable id, tree code) is unique.
type Geounit struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string     `gorm:"size:200;uniqueIndex:geounit_identity" json:"name"`
	PortableID string     `gorm:"size:50;uniqueIndex:geounit_identity" json:"portable_id"`
	TreeCode   string     `gorm:"size:50;uniqueIndex:geounit_identity" json:"tree_code"`
	GeolevelID uuid.UUID  `gorm:"type:uuid;uniqueIndex:geounit_identity" json:"geolevel_id"`
	ParentID   *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"` // set by renesting the coarser level

	Geom   Geometry `gorm:"column:geom;type:geometry" json:"-"`
	Simple Geometry `gorm:"column:simple;type:geometry" json:"-"`
	Center Geometry `gorm:"column:center;type:geometry" json:"-"`
}

func (Geounit) TableName() string { return "geography.geounits" }

// Key is the identity key of the unit.
func (g Geounit) Key() IdentityKey {
	return IdentityKey{Name: g.Name, GeolevelID: g.GeolevelID, PortableID: g.PortableID, TreeCode: g.TreeCode}
}

// IdentityKey identifies a geounit across re-imports.
type IdentityKey struct {
	Name       string
	GeolevelID uuid.UUID
	PortableID string
	TreeCode   string
}

// GeounitRef is the light form of a geounit used to walk a whole geolevel
// without loading geometry.
type GeounitRef struct {
	ID       uuid.UUID
	TreeCode string
}

// Characteristic is the value of one subject for one geounit. Number has
// four fractional digits and Percentage eight.
type Characteristic struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	GeounitID  uuid.UUID       `gorm:"type:uuid;uniqueIndex:characteristic_unit_subject" json:"geounit_id"`
	SubjectID  uuid.UUID       `gorm:"type:uuid;uniqueIndex:characteristic_unit_subject;index" json:"subject_id"`
	Number     decimal.Decimal `gorm:"type:numeric(12,4)" json:"number"`
	Percentage decimal.Decimal `gorm:"type:numeric(12,8)" json:"percentage"`
}

func (Characteristic) TableName() string { return "geography.characteristics" }
