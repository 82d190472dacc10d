// Package geography holds the geographic hierarchy model (geolevels,
// subjects, geounits and characteristics) and the stores that persist it.
package geography

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/twpayne/go-geos"
)

// Store is the persistence boundary of the import and renesting engine.
// Each write is its own atomic unit; no method spans several geounits in a
// transaction except SetGeounitParent, which is a single statement.
type Store interface {
	// SaveGeolevel creates or updates a geolevel by name and fills in its ID.
	SaveGeolevel(ctx context.Context, gl *Geolevel) error
	FindGeolevel(ctx context.Context, name string) (Geolevel, error)

	// SaveSubject creates or updates a subject by name and fills in its ID.
	SaveSubject(ctx context.Context, s *Subject) error
	ListSubjects(ctx context.Context) ([]Subject, error)

	FindGeounit(ctx context.Context, key IdentityKey) (Geounit, error)
	FindGeounitByTreeCode(ctx context.Context, geolevelID uuid.UUID, treeCode string) (Geounit, error)
	GetGeounit(ctx context.Context, id uuid.UUID) (Geounit, error)
	CreateGeounit(ctx context.Context, g *Geounit) error
	// UpdateGeounitGeometry writes the geometry and its simplified form
	// together; neither is ever visible without the other.
	UpdateGeounitGeometry(ctx context.Context, id uuid.UUID, geom, simple *geos.Geom) error
	SetGeounitParent(ctx context.Context, childIDs []uuid.UUID, parentID uuid.UUID) error
	ListGeounitRefs(ctx context.Context, geolevelID uuid.UUID) ([]GeounitRef, error)
	// FindGeounitsByTreePrefix returns the units at geolevelID whose tree
	// code starts with prefix, ordered by tree code.
	FindGeounitsByTreePrefix(ctx context.Context, prefix string, geolevelID uuid.UUID) ([]Geounit, error)

	FindCharacteristic(ctx context.Context, geounitID, subjectID uuid.UUID) (Characteristic, error)
	UpsertCharacteristic(ctx context.Context, c *Characteristic) error
	// SumCharacteristics adds up Number for subjectID over geounitIDs;
	// units without a value contribute nothing.
	SumCharacteristics(ctx context.Context, geounitIDs []uuid.UUID, subjectID uuid.UUID) (decimal.Decimal, error)
}

// ViewCreator is implemented by stores that can publish per-subject map
// views for each geolevel.
type ViewCreator interface {
	CreateViews(ctx context.Context, levels []Geolevel, subjects []Subject) error
}
