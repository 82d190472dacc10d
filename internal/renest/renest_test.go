package renest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/EmpoweredVote/EV-Geography/internal/characteristics"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
)

type world struct {
	ctx     context.Context
	store   *geography.MemoryStore
	block   geography.Geolevel
	county  geography.Geolevel
	total   geography.Subject
	white   geography.Subject
	parents map[string]geography.Geounit
}

func wkt(t *testing.T, s string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(s)
	require.NoError(t, err)
	return g.SetSRID(4326)
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{ctx: context.Background(), store: geography.NewMemoryStore(), parents: map[string]geography.Geounit{}}
	w.block = geography.Geolevel{Name: "block", SortKey: 1}
	w.county = geography.Geolevel{Name: "county", SortKey: 2, Tolerance: 0.001}
	require.NoError(t, w.store.SaveGeolevel(w.ctx, &w.block))
	require.NoError(t, w.store.SaveGeolevel(w.ctx, &w.county))

	w.total = geography.Subject{Name: "total"}
	require.NoError(t, w.store.SaveSubject(w.ctx, &w.total))
	w.white = geography.Subject{Name: "white", PercentageDenominator: &w.total.ID}
	require.NoError(t, w.store.SaveSubject(w.ctx, &w.white))
	return w
}

func (w *world) unit(t *testing.T, level geography.Geolevel, code, geom string, values map[uuid.UUID]string) geography.Geounit {
	t.Helper()
	g := wkt(t, geom)
	u := geography.Geounit{
		Name:       code,
		PortableID: code,
		TreeCode:   code,
		GeolevelID: level.ID,
		Geom:       geography.NewGeometry(g),
		Simple:     geography.NewGeometry(g.Clone()),
		Center:     geography.NewGeometry(g.Centroid()),
	}
	require.NoError(t, w.store.CreateGeounit(w.ctx, &u))
	for subject, v := range values {
		require.NoError(t, w.store.UpsertCharacteristic(w.ctx, &geography.Characteristic{
			GeounitID:  u.ID,
			SubjectID:  subject,
			Number:     decimal.RequireFromString(v),
			Percentage: decimal.Zero,
		}))
	}
	return u
}

func (w *world) subjects() []geography.Subject { return []geography.Subject{w.total, w.white} }

func quiet(store geography.Store, opts ...Option) *Aggregator {
	log, _ := test.NewNullLogger()
	return New(store, append([]Option{WithLogger(logrus.NewEntry(log))}, opts...)...)
}

func TestRenestSumsChildrenAndReplacesStaleGeometry(t *testing.T) {
	w := newWorld(t)
	a := w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[uuid.UUID]string{w.total.ID: "100", w.white.ID: "45"})
	b := w.unit(t, w.block, "0002", "POLYGON((1 0,2 0,2 1,1 1,1 0))", map[uuid.UUID]string{w.total.ID: "150", w.white.ID: "30"})
	p := w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))", nil)

	var seen []int
	agg := quiet(w.store, WithWorkers(4), WithProgress(func(pct int) { seen = append(seen, pct) }))
	c, err := agg.Renest(w.ctx, w.county, w.block, w.subjects())
	require.NoError(t, err)
	assert.Equal(t, Counters{GeometryModified: 1, DataModified: 2}, c)
	require.NotEmpty(t, seen)
	assert.Equal(t, 0, seen[0])
	assert.Equal(t, 100, seen[len(seen)-1])

	got, err := w.store.GetGeounit(w.ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.Geom.Area(), 1e-9)
	assert.Equal(t, "MultiPolygon", got.Geom.Type())
	assert.Equal(t, "MultiPolygon", got.Simple.Type())

	total, err := w.store.FindCharacteristic(w.ctx, p.ID, w.total.ID)
	require.NoError(t, err)
	assert.True(t, total.Number.Equal(decimal.NewFromInt(250)))
	assert.True(t, total.Percentage.IsZero())

	white, err := w.store.FindCharacteristic(w.ctx, p.ID, w.white.ID)
	require.NoError(t, err)
	assert.True(t, white.Number.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, "0.30000000", characteristics.FormatPercentage(white.Percentage))

	for _, child := range []geography.Geounit{a, b} {
		linked, err := w.store.GetGeounit(w.ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, linked.ParentID)
		assert.Equal(t, p.ID, *linked.ParentID)
	}

	again, err := agg.Renest(w.ctx, w.county, w.block, w.subjects())
	require.NoError(t, err)
	assert.Equal(t, Counters{}, again)
}

func TestRenestPrefixCompleteness(t *testing.T) {
	w := newWorld(t)
	w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[uuid.UUID]string{w.total.ID: "100"})
	w.unit(t, w.block, "0002", "POLYGON((1 0,2 0,2 1,1 1,1 0))", map[uuid.UUID]string{w.total.ID: "150"})
	w.unit(t, w.block, "0101", "POLYGON((5 5,6 5,6 6,5 6,5 5))", map[uuid.UUID]string{w.total.ID: "999.5"})
	p0 := w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,2 0,2 1,0 1,0 0)))", nil)
	p1 := w.unit(t, w.county, "01", "MULTIPOLYGON(((5 5,6 5,6 6,5 6,5 5)))", nil)
	empty := w.unit(t, w.county, "02", "MULTIPOLYGON(((9 9,10 9,10 10,9 10,9 9)))", nil)

	c, err := quiet(w.store, WithWorkers(2)).Renest(w.ctx, w.county, w.block, []geography.Subject{w.total})
	require.NoError(t, err)
	assert.Equal(t, Counters{DataModified: 2}, c)

	sum0, err := w.store.FindCharacteristic(w.ctx, p0.ID, w.total.ID)
	require.NoError(t, err)
	assert.True(t, sum0.Number.Equal(decimal.NewFromInt(250)))
	sum1, err := w.store.FindCharacteristic(w.ctx, p1.ID, w.total.ID)
	require.NoError(t, err)
	assert.True(t, sum1.Number.Equal(decimal.RequireFromString("999.5")))

	_, err = w.store.FindCharacteristic(w.ctx, empty.ID, w.total.ID)
	assert.ErrorIs(t, err, geography.ErrNotFound)
}

func TestRenestUpdatesChangedValues(t *testing.T) {
	w := newWorld(t)
	a := w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[uuid.UUID]string{w.total.ID: "100"})
	w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))", nil)
	agg := quiet(w.store)

	c, err := agg.Renest(w.ctx, w.county, w.block, []geography.Subject{w.total})
	require.NoError(t, err)
	assert.Equal(t, Counters{DataModified: 1}, c)

	require.NoError(t, w.store.UpsertCharacteristic(w.ctx, &geography.Characteristic{
		GeounitID: a.ID, SubjectID: w.total.ID, Number: decimal.NewFromInt(120),
	}))
	c, err = agg.Renest(w.ctx, w.county, w.block, []geography.Subject{w.total})
	require.NoError(t, err)
	assert.Equal(t, Counters{DataModified: 1}, c)
}

func TestRenestStopsWhenStoreUnreachable(t *testing.T) {
	w := newWorld(t)
	w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", nil)
	w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))", nil)
	w.store.Close()

	_, err := quiet(w.store).Renest(w.ctx, w.county, w.block, w.subjects())
	require.Error(t, err)
	assert.True(t, geography.IsUnreachable(err))
}

func TestCountersAdd(t *testing.T) {
	sum := Counters{GeometryModified: 1, DataModified: 2}.Add(Counters{DataModified: 3, Failed: 1})
	assert.Equal(t, Counters{GeometryModified: 1, DataModified: 5, Failed: 1}, sum)
}

// failingStore fails child lookups under one tree code.
type failingStore struct {
	*geography.MemoryStore
	prefix string
}

func (f failingStore) FindGeounitsByTreePrefix(ctx context.Context, prefix string, geolevelID uuid.UUID) ([]geography.Geounit, error) {
	if prefix == f.prefix {
		return nil, &geography.StoreError{Op: "find geounits by tree prefix", Err: errors.New("statement timeout")}
	}
	return f.MemoryStore.FindGeounitsByTreePrefix(ctx, prefix, geolevelID)
}

func TestRenestCountsFailedUnitAndContinues(t *testing.T) {
	w := newWorld(t)
	w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[uuid.UUID]string{w.total.ID: "100"})
	w.unit(t, w.block, "0101", "POLYGON((5 5,6 5,6 6,5 6,5 5))", map[uuid.UUID]string{w.total.ID: "7"})
	ok := w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))", nil)
	bad := w.unit(t, w.county, "01", "MULTIPOLYGON(((5 5,6 5,6 6,5 6,5 5)))", nil)

	store := failingStore{MemoryStore: w.store, prefix: "01"}
	c, err := quiet(store, WithWorkers(2)).Renest(w.ctx, w.county, w.block, []geography.Subject{w.total})
	require.NoError(t, err)
	assert.Equal(t, Counters{DataModified: 1, Failed: 1}, c)

	sum, err := w.store.FindCharacteristic(w.ctx, ok.ID, w.total.ID)
	require.NoError(t, err)
	assert.True(t, sum.Number.Equal(decimal.NewFromInt(100)))
	_, err = w.store.FindCharacteristic(w.ctx, bad.ID, w.total.ID)
	assert.ErrorIs(t, err, geography.ErrNotFound)
}

func TestRenestZeroDenominatorStoresSentinel(t *testing.T) {
	w := newWorld(t)
	w.unit(t, w.block, "0001", "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[uuid.UUID]string{w.total.ID: "0", w.white.ID: "5"})
	w.unit(t, w.block, "0002", "POLYGON((1 0,2 0,2 1,1 1,1 0))", map[uuid.UUID]string{w.white.ID: "3"})
	p := w.unit(t, w.county, "00", "MULTIPOLYGON(((0 0,2 0,2 1,0 1,0 0)))", nil)

	_, err := quiet(w.store).Renest(w.ctx, w.county, w.block, w.subjects())
	require.NoError(t, err)

	white, err := w.store.FindCharacteristic(w.ctx, p.ID, w.white.ID)
	require.NoError(t, err)
	assert.True(t, white.Number.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, characteristics.ZeroSentinel, characteristics.FormatPercentage(white.Percentage))
}
