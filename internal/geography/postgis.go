package geography

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/twpayne/go-geos"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	evdb "github.com/EmpoweredVote/EV-Geography/internal/db"
)

// Schema is the PostgreSQL schema holding the geography tables.
const Schema = "geography"

// PostGISStore persists the hierarchy in PostgreSQL with PostGIS geometry
// columns.
type PostGISStore struct {
	db *gorm.DB
}

// NewPostGISStore wraps an open gorm connection.
func NewPostGISStore(db *gorm.DB) *PostGISStore {
	return &PostGISStore{db: db}
}

// Migrate creates the schema, enables PostGIS and migrates the tables.
func (s *PostGISStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := evdb.EnsureSchema(db, Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", Schema, err)
	}
	if err := evdb.EnsureExtension(db, "postgis"); err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}
	if err := db.AutoMigrate(&Geolevel{}, &Subject{}, &Geounit{}, &Characteristic{}); err != nil {
		return fmt.Errorf("auto-migrate geography tables: %w", err)
	}

	// text_pattern_ops lets LIKE 'prefix%' use the index regardless of collation.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS geounits_level_tree_code_prefix
		ON geography.geounits (geolevel_id, tree_code text_pattern_ops)
	`).Error; err != nil {
		return fmt.Errorf("create tree code index: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS geounits_geom_gist
		ON geography.geounits USING GIST (geom)
	`).Error; err != nil {
		return fmt.Errorf("create geometry index: %w", err)
	}
	return nil
}

func (s *PostGISStore) SaveGeolevel(ctx context.Context, gl *Geolevel) error {
	if gl.ID == uuid.Nil {
		gl.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sort_key", "min_zoom", "tolerance"}),
	}).Create(gl).Error
	if err != nil {
		return storeErr("save geolevel "+gl.Name, err)
	}
	// On conflict the row keeps its original id.
	saved, err := s.FindGeolevel(ctx, gl.Name)
	if err != nil {
		return err
	}
	gl.ID = saved.ID
	return nil
}

func (s *PostGISStore) FindGeolevel(ctx context.Context, name string) (Geolevel, error) {
	var gl Geolevel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&gl).Error
	return gl, s.lookupErr("find geolevel "+name, err)
}

func (s *PostGISStore) SaveSubject(ctx context.Context, sub *Subject) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "short_name", "sort_key", "percentage_denominator"}),
	}).Create(sub).Error
	if err != nil {
		return storeErr("save subject "+sub.Name, err)
	}
	var saved Subject
	if err := s.db.WithContext(ctx).Where("name = ?", sub.Name).First(&saved).Error; err != nil {
		return s.lookupErr("save subject "+sub.Name, err)
	}
	sub.ID = saved.ID
	return nil
}

func (s *PostGISStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	var subjects []Subject
	err := s.db.WithContext(ctx).Order("sort_key, name").Find(&subjects).Error
	return subjects, storeErr("list subjects", err)
}

func (s *PostGISStore) FindGeounit(ctx context.Context, key IdentityKey) (Geounit, error) {
	var g Geounit
	err := s.db.WithContext(ctx).
		Where("name = ? AND geolevel_id = ? AND portable_id = ? AND tree_code = ?",
			key.Name, key.GeolevelID, key.PortableID, key.TreeCode).
		First(&g).Error
	return g, s.lookupErr("find geounit", err)
}

func (s *PostGISStore) FindGeounitByTreeCode(ctx context.Context, geolevelID uuid.UUID, treeCode string) (Geounit, error) {
	var g Geounit
	err := s.db.WithContext(ctx).
		Where("geolevel_id = ? AND tree_code = ?", geolevelID, treeCode).
		First(&g).Error
	return g, s.lookupErr("find geounit by tree code", err)
}

func (s *PostGISStore) GetGeounit(ctx context.Context, id uuid.UUID) (Geounit, error) {
	var g Geounit
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	return g, s.lookupErr("get geounit", err)
}

func (s *PostGISStore) CreateGeounit(ctx context.Context, g *Geounit) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(g).Error
	if isUniqueViolation(err) {
		return storeErr("create geounit", fmt.Errorf("%w: %v", ErrDuplicate, err))
	}
	return storeErr("create geounit", err)
}

func (s *PostGISStore) UpdateGeounitGeometry(ctx context.Context, id uuid.UUID, geom, simple *geos.Geom) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE geography.geounits
		SET geom = ?, simple = ?
		WHERE id = ?
	`, NewGeometry(geom), NewGeometry(simple), id)
	if res.Error != nil {
		return storeErr("update geounit geometry", res.Error)
	}
	if res.RowsAffected == 0 {
		return storeErr("update geounit geometry", ErrNotFound)
	}
	return nil
}

func (s *PostGISStore) SetGeounitParent(ctx context.Context, childIDs []uuid.UUID, parentID uuid.UUID) error {
	if len(childIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Exec(`
		UPDATE geography.geounits
		SET parent_id = ?
		WHERE id = ANY(?::uuid[])
	`, parentID, uuidArray(childIDs)).Error
	return storeErr("set geounit parent", err)
}

func (s *PostGISStore) ListGeounitRefs(ctx context.Context, geolevelID uuid.UUID) ([]GeounitRef, error) {
	var refs []GeounitRef
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, tree_code
		FROM geography.geounits
		WHERE geolevel_id = ?
		ORDER BY tree_code
	`, geolevelID).Scan(&refs).Error
	return refs, storeErr("list geounits", err)
}

func (s *PostGISStore) FindGeounitsByTreePrefix(ctx context.Context, prefix string, geolevelID uuid.UUID) ([]Geounit, error) {
	var units []Geounit
	err := s.db.WithContext(ctx).
		Where("geolevel_id = ? AND tree_code LIKE ?", geolevelID, escapeLike(prefix)+"%").
		Order("tree_code").
		Find(&units).Error
	return units, storeErr("find geounits by prefix", err)
}

func (s *PostGISStore) FindCharacteristic(ctx context.Context, geounitID, subjectID uuid.UUID) (Characteristic, error) {
	var c Characteristic
	err := s.db.WithContext(ctx).
		Where("geounit_id = ? AND subject_id = ?", geounitID, subjectID).
		First(&c).Error
	return c, s.lookupErr("find characteristic", err)
}

func (s *PostGISStore) UpsertCharacteristic(ctx context.Context, c *Characteristic) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "geounit_id"}, {Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"number", "percentage"}),
	}).Create(c).Error
	return storeErr("upsert characteristic", err)
}

func (s *PostGISStore) SumCharacteristics(ctx context.Context, geounitIDs []uuid.UUID, subjectID uuid.UUID) (decimal.Decimal, error) {
	if len(geounitIDs) == 0 {
		return decimal.Zero, nil
	}
	var sum decimal.Decimal
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(number), 0)
		FROM geography.characteristics
		WHERE subject_id = ? AND geounit_id = ANY(?::uuid[])
	`, subjectID, uuidArray(geounitIDs)).Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, storeErr("sum characteristics", err)
	}
	return sum, nil
}

var viewNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

// CreateViews publishes one view per geolevel and subject joining geounits
// to that subject's characteristics, for map rendering.
func (s *PostGISStore) CreateViews(ctx context.Context, levels []Geolevel, subjects []Subject) error {
	db := s.db.WithContext(ctx)
	for _, gl := range levels {
		for _, sub := range subjects {
			name := fmt.Sprintf("view_%s_%s", viewIdent(gl.Name), viewIdent(sub.Name))
			sql := fmt.Sprintf(`
				CREATE OR REPLACE VIEW %s.%s AS
				SELECT g.id, g.name, g.portable_id, g.tree_code, g.geom, g.simple, g.center,
				       c.number, c.percentage
				FROM geography.geounits g
				JOIN geography.characteristics c ON c.geounit_id = g.id
				WHERE g.geolevel_id = '%s' AND c.subject_id = '%s'
			`, Schema, name, gl.ID, sub.ID)
			if err := db.Exec(sql).Error; err != nil {
				return storeErr("create view "+name, err)
			}
		}
	}
	return nil
}

func viewIdent(name string) string {
	return strings.Trim(viewNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

func (s *PostGISStore) lookupErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storeErr(op, ErrNotFound)
	}
	return storeErr(op, err)
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
