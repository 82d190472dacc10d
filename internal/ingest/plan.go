package ingest

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/EmpoweredVote/EV-Geography/internal/characteristics"
	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/shapefile"
	"github.com/EmpoweredVote/EV-Geography/internal/treecode"
)

// Plan is one geolevel's import, compiled from the job once so that no
// configuration lookup happens per feature.
type Plan struct {
	Geolevel   geography.Geolevel
	SRID       int
	Shapefiles []Source
	Attributes []Source
	Fields     []characteristics.SubjectField
}

// Inline reports whether characteristics are read from the geography
// sources themselves rather than from separate attribute sources.
func (p *Plan) Inline() bool { return len(p.Attributes) == 0 }

// Source is a compiled shapefile field map.
type Source struct {
	Path          string
	Encoding      string
	Tree          *treecode.Encoder
	NameField     string
	PortableField string
}

// NewPlan compiles the import of gl. subjects are the stored subjects keyed
// by name.
func NewPlan(job *config.Job, gl geography.Geolevel, subjects map[string]geography.Subject) (*Plan, error) {
	cfg, ok := job.Geolevel(gl.Name)
	if !ok {
		return nil, &config.ConfigReferenceError{Ref: "geolevel", Name: gl.Name}
	}
	fields, err := characteristics.NewFieldMap(job, cfg, subjects)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Geolevel: gl, SRID: job.SRID, Fields: fields}
	for _, sc := range cfg.Shapefiles {
		src, err := compileSource(sc)
		if err != nil {
			return nil, err
		}
		plan.Shapefiles = append(plan.Shapefiles, src)
	}
	for _, sc := range cfg.Attributes {
		src, err := compileSource(sc)
		if err != nil {
			return nil, err
		}
		plan.Attributes = append(plan.Attributes, src)
	}
	return plan, nil
}

func compileSource(sc config.SourceConfig) (Source, error) {
	src := Source{Path: sc.Path, Encoding: sc.Encoding}
	var tree []treecode.Field
	for _, f := range sc.Fields {
		switch f.Kind {
		case config.KindTree:
			if f.Position == nil {
				return Source{}, &config.ConfigReferenceError{Ref: "tree field position", Name: f.Name, Context: sc.Path}
			}
			tree = append(tree, treecode.Field{Name: f.Name, Position: *f.Position, Width: f.Width})
		case config.KindName:
			src.NameField = f.Name
		case config.KindPortable:
			src.PortableField = f.Name
		}
	}
	enc, err := treecode.NewEncoder(tree)
	if err != nil {
		return Source{}, &config.ConfigReferenceError{Ref: "tree fields", Name: sc.Path, Context: err.Error()}
	}
	src.Tree = enc
	return src, nil
}

// requiredFields lists the attributes this source must declare.
func (s Source) requiredFields(extra []string) []string {
	var out []string
	for _, f := range s.Tree.Fields() {
		out = append(out, f.Name)
	}
	for _, f := range []string{s.NameField, s.PortableField} {
		if f != "" {
			out = append(out, f)
		}
	}
	return append(out, extra...)
}

// checkFields fails when the attribute table lacks a field the source maps.
func (s Source) checkFields(rd *shapefile.Reader, extra []string) error {
	for _, name := range s.requiredFields(extra) {
		if !rd.HasField(name) {
			return &config.ConfigReferenceError{
				Ref:     "field",
				Name:    name,
				Context: fmt.Sprintf("not in %s (has %s)", s.Path, strings.Join(rd.Fields(), ", ")),
			}
		}
	}
	return nil
}

// overlong counts and logs a record whose tree fields do not fit their
// widths. The record is still used; its code may nest under the wrong unit.
func (s Source) overlong(rec shapefile.Record, c *Counters, log *logrus.Entry) {
	if fields := s.Tree.Overlong(rec.Get); len(fields) > 0 {
		c.Overlong++
		log.WithField("fields", fields).Warn("tree code value wider than its field")
	}
}

// identity derives a feature's identity key at geolevel.
func (s Source) identity(rec shapefile.Record, geolevel geography.Geolevel) (geography.IdentityKey, error) {
	code, err := s.Tree.Encode(rec.Get)
	if err != nil {
		return geography.IdentityKey{}, err
	}
	name, _ := rec.Get(s.NameField)
	portable, _ := rec.Get(s.PortableField)
	return geography.IdentityKey{
		Name:       name,
		GeolevelID: geolevel.ID,
		PortableID: portable,
		TreeCode:   code,
	}, nil
}
