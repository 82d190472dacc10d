// Package config loads geography import jobs from YAML and process settings
// from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Field kinds for shapefile field maps.
const (
	KindTree     = "tree"
	KindName     = "name"
	KindPortable = "portable"
)

// DefaultSRID is used when a job does not name one.
const DefaultSRID = 4326

// Job is the full description of an import: subjects, geolevels and how each
// geolevel is read and nested.
type Job struct {
	SRID               int              `yaml:"srid"`
	Workers            int              `yaml:"workers"`
	MaxWritesPerSecond float64          `yaml:"max_writes_per_second"`
	Subjects           []SubjectConfig  `yaml:"subjects"`
	Geolevels          []GeolevelConfig `yaml:"geolevels"`
}

// SubjectConfig declares a statistical subject. AliasFor makes this entry a
// second name for another subject: fields mapped to the alias are stored on
// the aliased subject.
type SubjectConfig struct {
	ID                    string `yaml:"id"`
	DisplayName           string `yaml:"display_name"`
	ShortName             string `yaml:"short_name"`
	SortKey               int    `yaml:"sort_key"`
	PercentageDenominator string `yaml:"percentage_denominator"`
	AliasFor              string `yaml:"alias_for"`
}

// GeolevelConfig is one tier of the hierarchy and its import descriptor.
//
// Parent names the finer geolevel whose units nest inside this level's units
// and from which this level is renested. It must be given explicitly; it is
// never inferred from legislative body mappings.
type GeolevelConfig struct {
	Name          string               `yaml:"name"`
	SortKey       int                  `yaml:"sort_key"`
	MinZoom       int                  `yaml:"min_zoom"`
	Tolerance     float64              `yaml:"tolerance"`
	Parent        string               `yaml:"parent"`
	Shapefiles    []SourceConfig       `yaml:"shapefiles"`
	Attributes    []SourceConfig       `yaml:"attributes"`
	SubjectFields []SubjectFieldConfig `yaml:"subject_fields"`
}

// SourceConfig points at one shapefile and its field map. Encoding names the
// DBF character set (utf-8, latin1, cp1252); empty means use the .cpg file
// next to the shapefile, or UTF-8.
type SourceConfig struct {
	Path     string        `yaml:"path"`
	Encoding string        `yaml:"encoding"`
	Fields   []FieldConfig `yaml:"fields"`
}

type FieldConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Position *int   `yaml:"position"`
	Width    int    `yaml:"width"`
}

// SubjectFieldConfig maps a feature attribute to a subject.
type SubjectFieldConfig struct {
	Subject          string `yaml:"subject"`
	Field            string `yaml:"field"`
	DenominatorField string `yaml:"denominator_field"`
}

// Load reads and validates a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a job document.
func Parse(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job config: %w", err)
	}
	if job.SRID == 0 {
		job.SRID = DefaultSRID
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Geolevel finds a geolevel by name.
func (j *Job) Geolevel(name string) (GeolevelConfig, bool) {
	for _, gl := range j.Geolevels {
		if gl.Name == name {
			return gl, true
		}
	}
	return GeolevelConfig{}, false
}

// Subject finds a subject declaration by id.
func (j *Job) Subject(id string) (SubjectConfig, bool) {
	for _, s := range j.Subjects {
		if s.ID == id {
			return s, true
		}
	}
	return SubjectConfig{}, false
}

// ResolveSubject follows alias_for and returns the id data is stored under.
func (j *Job) ResolveSubject(id string) (string, error) {
	s, ok := j.Subject(id)
	if !ok {
		return "", &ConfigReferenceError{Ref: "subject", Name: id}
	}
	if s.AliasFor == "" {
		return s.ID, nil
	}
	target, ok := j.Subject(s.AliasFor)
	if !ok {
		return "", &ConfigReferenceError{Ref: "subject", Name: s.AliasFor, Context: "alias_for of " + s.ID}
	}
	return target.ID, nil
}

// Select resolves geolevel selectors, given as names or zero-based indexes
// into the geolevel list, to names in configuration order. An empty selector
// list selects every geolevel.
func (j *Job) Select(selectors []string) ([]string, error) {
	want := map[string]bool{}
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if idx, err := strconv.Atoi(sel); err == nil {
			if idx < 0 || idx >= len(j.Geolevels) {
				return nil, &ConfigReferenceError{Ref: "geolevel index", Name: sel}
			}
			want[j.Geolevels[idx].Name] = true
			continue
		}
		if _, ok := j.Geolevel(sel); !ok {
			return nil, &ConfigReferenceError{Ref: "geolevel", Name: sel}
		}
		want[sel] = true
	}

	var out []string
	for _, gl := range j.Geolevels {
		if len(selectors) == 0 || want[gl.Name] {
			out = append(out, gl.Name)
		}
	}
	return out, nil
}
