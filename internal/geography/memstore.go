package geography

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/twpayne/go-geos"
)

// MemoryStore is an in-process Store. It backs geoimport -dry-run and tests and
// enforces the same uniqueness rules as the PostGIS schema.
type MemoryStore struct {
	mu              sync.RWMutex
	closed          bool
	geolevels       map[uuid.UUID]Geolevel
	subjects        map[uuid.UUID]Subject
	geounits        map[uuid.UUID]Geounit
	identities      map[IdentityKey]uuid.UUID
	characteristics map[charKey]Characteristic
}

type charKey struct {
	geounit uuid.UUID
	subject uuid.UUID
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		geolevels:       map[uuid.UUID]Geolevel{},
		subjects:        map[uuid.UUID]Subject{},
		geounits:        map[uuid.UUID]Geounit{},
		identities:      map[IdentityKey]uuid.UUID{},
		characteristics: map[charKey]Characteristic{},
	}
}

// Close makes every later call fail with ErrStoreClosed.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return storeErr(op, err)
	}
	if m.closed {
		return storeErr(op, ErrStoreClosed)
	}
	return nil
}

func (m *MemoryStore) SaveGeolevel(ctx context.Context, gl *Geolevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "save geolevel"); err != nil {
		return err
	}
	for id, existing := range m.geolevels {
		if existing.Name == gl.Name {
			gl.ID = id
		}
	}
	if gl.ID == uuid.Nil {
		gl.ID = uuid.New()
	}
	m.geolevels[gl.ID] = *gl
	return nil
}

func (m *MemoryStore) FindGeolevel(ctx context.Context, name string) (Geolevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find geolevel"); err != nil {
		return Geolevel{}, err
	}
	for _, gl := range m.geolevels {
		if gl.Name == name {
			return gl, nil
		}
	}
	return Geolevel{}, storeErr("find geolevel "+name, ErrNotFound)
}

func (m *MemoryStore) SaveSubject(ctx context.Context, s *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "save subject"); err != nil {
		return err
	}
	for id, existing := range m.subjects {
		if existing.Name == s.Name {
			s.ID = id
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.subjects[s.ID] = *s
	return nil
}

func (m *MemoryStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "list subjects"); err != nil {
		return nil, err
	}
	out := make([]Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortKey != out[j].SortKey {
			return out[i].SortKey < out[j].SortKey
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) FindGeounit(ctx context.Context, key IdentityKey) (Geounit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find geounit"); err != nil {
		return Geounit{}, err
	}
	id, ok := m.identities[key]
	if !ok {
		return Geounit{}, storeErr("find geounit", ErrNotFound)
	}
	return copyGeounit(m.geounits[id]), nil
}

func (m *MemoryStore) FindGeounitByTreeCode(ctx context.Context, geolevelID uuid.UUID, treeCode string) (Geounit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find geounit by tree code"); err != nil {
		return Geounit{}, err
	}
	for _, g := range m.geounits {
		if g.GeolevelID == geolevelID && g.TreeCode == treeCode {
			return copyGeounit(g), nil
		}
	}
	return Geounit{}, storeErr("find geounit by tree code", ErrNotFound)
}

func (m *MemoryStore) GetGeounit(ctx context.Context, id uuid.UUID) (Geounit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "get geounit"); err != nil {
		return Geounit{}, err
	}
	g, ok := m.geounits[id]
	if !ok {
		return Geounit{}, storeErr("get geounit", ErrNotFound)
	}
	return copyGeounit(g), nil
}

func (m *MemoryStore) CreateGeounit(ctx context.Context, g *Geounit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "create geounit"); err != nil {
		return err
	}
	if _, dup := m.identities[g.Key()]; dup {
		return storeErr("create geounit", ErrDuplicate)
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	m.geounits[g.ID] = copyGeounit(*g)
	m.identities[g.Key()] = g.ID
	return nil
}

func (m *MemoryStore) UpdateGeounitGeometry(ctx context.Context, id uuid.UUID, geom, simple *geos.Geom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "update geounit geometry"); err != nil {
		return err
	}
	g, ok := m.geounits[id]
	if !ok {
		return storeErr("update geounit geometry", ErrNotFound)
	}
	g.Geom = NewGeometry(geom).Clone()
	g.Simple = NewGeometry(simple).Clone()
	m.geounits[id] = g
	return nil
}

func (m *MemoryStore) SetGeounitParent(ctx context.Context, childIDs []uuid.UUID, parentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "set geounit parent"); err != nil {
		return err
	}
	for _, id := range childIDs {
		if g, ok := m.geounits[id]; ok {
			pid := parentID
			g.ParentID = &pid
			m.geounits[id] = g
		}
	}
	return nil
}

func (m *MemoryStore) ListGeounitRefs(ctx context.Context, geolevelID uuid.UUID) ([]GeounitRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "list geounits"); err != nil {
		return nil, err
	}
	var out []GeounitRef
	for _, g := range m.geounits {
		if g.GeolevelID == geolevelID {
			out = append(out, GeounitRef{ID: g.ID, TreeCode: g.TreeCode})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TreeCode < out[j].TreeCode })
	return out, nil
}

func (m *MemoryStore) FindGeounitsByTreePrefix(ctx context.Context, prefix string, geolevelID uuid.UUID) ([]Geounit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find geounits by prefix"); err != nil {
		return nil, err
	}
	var out []Geounit
	for _, g := range m.geounits {
		if g.GeolevelID == geolevelID && strings.HasPrefix(g.TreeCode, prefix) {
			out = append(out, copyGeounit(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TreeCode < out[j].TreeCode })
	return out, nil
}

func (m *MemoryStore) FindCharacteristic(ctx context.Context, geounitID, subjectID uuid.UUID) (Characteristic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find characteristic"); err != nil {
		return Characteristic{}, err
	}
	c, ok := m.characteristics[charKey{geounitID, subjectID}]
	if !ok {
		return Characteristic{}, storeErr("find characteristic", ErrNotFound)
	}
	return c, nil
}

func (m *MemoryStore) UpsertCharacteristic(ctx context.Context, c *Characteristic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "upsert characteristic"); err != nil {
		return err
	}
	key := charKey{c.GeounitID, c.SubjectID}
	if existing, ok := m.characteristics[key]; ok {
		c.ID = existing.ID
	} else if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.characteristics[key] = *c
	return nil
}

func (m *MemoryStore) SumCharacteristics(ctx context.Context, geounitIDs []uuid.UUID, subjectID uuid.UUID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "sum characteristics"); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, id := range geounitIDs {
		if c, ok := m.characteristics[charKey{id, subjectID}]; ok {
			sum = sum.Add(c.Number)
		}
	}
	return sum, nil
}

// Count returns the number of geounits at a geolevel.
func (m *MemoryStore) Count(geolevelID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, g := range m.geounits {
		if g.GeolevelID == geolevelID {
			n++
		}
	}
	return n
}

func copyGeounit(g Geounit) Geounit {
	g.Geom = g.Geom.Clone()
	g.Simple = g.Simple.Clone()
	g.Center = g.Center.Clone()
	if g.ParentID != nil {
		pid := *g.ParentID
		g.ParentID = &pid
	}
	return g
}
