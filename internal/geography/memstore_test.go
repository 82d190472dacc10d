package geography

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

func square(t *testing.T, wkt string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(wkt)
	require.NoError(t, err)
	return g.SetSRID(4326)
}

func TestMemoryStoreRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	level := Geolevel{Name: "block"}
	require.NoError(t, s.SaveGeolevel(ctx, &level))

	unit := Geounit{Name: "Block 1", PortableID: "1", TreeCode: "0001", GeolevelID: level.ID}
	require.NoError(t, s.CreateGeounit(ctx, &unit))

	again := unit
	again.ID = uuid.Nil
	err := s.CreateGeounit(ctx, &again)
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := s.FindGeounit(ctx, unit.Key())
	require.NoError(t, err)
	assert.Equal(t, unit.ID, found.ID)
	assert.Equal(t, 1, s.Count(level.ID))

	_, err = s.FindGeounit(ctx, IdentityKey{Name: "Block 2", GeolevelID: level.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSaveIsUpsertByName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := Geolevel{Name: "tract", Tolerance: 0.1}
	require.NoError(t, s.SaveGeolevel(ctx, &first))
	second := Geolevel{Name: "tract", Tolerance: 0.2}
	require.NoError(t, s.SaveGeolevel(ctx, &second))
	assert.Equal(t, first.ID, second.ID)

	gl, err := s.FindGeolevel(ctx, "tract")
	require.NoError(t, err)
	assert.Equal(t, 0.2, gl.Tolerance)
}

func TestMemoryStorePrefixQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	block := Geolevel{Name: "block"}
	tract := Geolevel{Name: "tract"}
	require.NoError(t, s.SaveGeolevel(ctx, &block))
	require.NoError(t, s.SaveGeolevel(ctx, &tract))

	for _, code := range []string{"0002", "0001", "0101"} {
		require.NoError(t, s.CreateGeounit(ctx, &Geounit{Name: code, PortableID: code, TreeCode: code, GeolevelID: block.ID}))
	}
	require.NoError(t, s.CreateGeounit(ctx, &Geounit{Name: "t", PortableID: "t", TreeCode: "0003", GeolevelID: tract.ID}))

	units, err := s.FindGeounitsByTreePrefix(ctx, "00", block.ID)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "0001", units[0].TreeCode)
	assert.Equal(t, "0002", units[1].TreeCode)
}

func TestMemoryStoreGeometryPairAndSums(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	level := Geolevel{Name: "block"}
	require.NoError(t, s.SaveGeolevel(ctx, &level))
	subject := Subject{Name: "totpop"}
	require.NoError(t, s.SaveSubject(ctx, &subject))

	a := Geounit{Name: "a", PortableID: "a", TreeCode: "01", GeolevelID: level.ID}
	b := Geounit{Name: "b", PortableID: "b", TreeCode: "02", GeolevelID: level.ID}
	require.NoError(t, s.CreateGeounit(ctx, &a))
	require.NoError(t, s.CreateGeounit(ctx, &b))

	geom := square(t, "MULTIPOLYGON (((0 0, 1 0, 1 1, 0 1, 0 0)))")
	require.NoError(t, s.UpdateGeounitGeometry(ctx, a.ID, geom, geom))
	got, err := s.GetGeounit(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Geom.Valid())
	assert.True(t, got.Simple.Valid())

	require.NoError(t, s.UpsertCharacteristic(ctx, &Characteristic{GeounitID: a.ID, SubjectID: subject.ID, Number: decimal.RequireFromString("100")}))
	require.NoError(t, s.UpsertCharacteristic(ctx, &Characteristic{GeounitID: b.ID, SubjectID: subject.ID, Number: decimal.RequireFromString("150.5")}))
	update := Characteristic{GeounitID: b.ID, SubjectID: subject.ID, Number: decimal.RequireFromString("150")}
	require.NoError(t, s.UpsertCharacteristic(ctx, &update))

	sum, err := s.SumCharacteristics(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()}, subject.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("250")), "sum = %s", sum)
}

func TestMemoryStoreClosedIsUnreachable(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	_, err := s.ListSubjects(context.Background())
	var serr *StoreError
	require.True(t, errors.As(err, &serr))
	assert.True(t, IsUnreachable(err))

	assert.False(t, IsUnreachable(&StoreError{Op: "find", Err: ErrNotFound}))
	assert.False(t, IsUnreachable(nil))
}
