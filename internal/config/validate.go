package config

import (
	"fmt"
	"strings"
)

// Validate checks every cross reference once, before any feature is read.
func (j *Job) Validate() error {
	subjects := map[string]SubjectConfig{}
	for _, s := range j.Subjects {
		if strings.TrimSpace(s.ID) == "" {
			return &ConfigReferenceError{Ref: "subject", Name: "", Context: "subject without id"}
		}
		if _, dup := subjects[s.ID]; dup {
			return &ConfigReferenceError{Ref: "subject", Name: s.ID, Context: "declared twice"}
		}
		subjects[s.ID] = s
	}
	for _, s := range j.Subjects {
		if s.PercentageDenominator != "" {
			if _, ok := subjects[s.PercentageDenominator]; !ok {
				return &ConfigReferenceError{Ref: "subject", Name: s.PercentageDenominator, Context: "percentage_denominator of " + s.ID}
			}
		}
		if s.AliasFor != "" {
			target, ok := subjects[s.AliasFor]
			if !ok || target.AliasFor != "" {
				return &ConfigReferenceError{Ref: "subject", Name: s.AliasFor, Context: "alias_for of " + s.ID}
			}
		}
	}

	levels := map[string]bool{}
	for _, gl := range j.Geolevels {
		if strings.TrimSpace(gl.Name) == "" {
			return &ConfigReferenceError{Ref: "geolevel", Name: "", Context: "geolevel without name"}
		}
		if levels[gl.Name] {
			return &ConfigReferenceError{Ref: "geolevel", Name: gl.Name, Context: "declared twice"}
		}
		levels[gl.Name] = true
	}

	for _, gl := range j.Geolevels {
		if gl.Parent != "" {
			if gl.Parent == gl.Name || !levels[gl.Parent] {
				return &ConfigReferenceError{Ref: "geolevel", Name: gl.Parent, Context: "parent of " + gl.Name}
			}
		}
		if gl.Tolerance < 0 {
			return &ConfigReferenceError{Ref: "tolerance", Name: fmt.Sprint(gl.Tolerance), Context: gl.Name}
		}
		for _, src := range gl.Shapefiles {
			if err := validateSource(gl.Name, src, true); err != nil {
				return err
			}
		}
		for _, src := range gl.Attributes {
			if err := validateSource(gl.Name, src, false); err != nil {
				return err
			}
		}
		for _, sf := range gl.SubjectFields {
			if _, ok := subjects[sf.Subject]; !ok {
				return &ConfigReferenceError{Ref: "subject", Name: sf.Subject, Context: "subject_fields of " + gl.Name}
			}
			if strings.TrimSpace(sf.Field) == "" {
				return &ConfigReferenceError{Ref: "field", Name: "", Context: "subject " + sf.Subject + " in " + gl.Name}
			}
		}
	}
	return nil
}

// validateSource checks the field map of one source. Geography sources need
// exactly one name and one portable field; every source needs tree fields.
// Tree positions and widths are checked when the encoder is built.
func validateSource(level string, src SourceConfig, geography bool) error {
	ctx := fmt.Sprintf("%s source %s", level, src.Path)
	if strings.TrimSpace(src.Path) == "" {
		return &ConfigReferenceError{Ref: "path", Name: "", Context: level}
	}

	counts := map[string]int{}
	for _, f := range src.Fields {
		switch f.Kind {
		case KindTree:
			if f.Position == nil {
				return &ConfigReferenceError{Ref: "tree field position", Name: f.Name, Context: ctx}
			}
		case KindName, KindPortable:
		default:
			return &ConfigReferenceError{Ref: "field kind", Name: f.Kind, Context: ctx}
		}
		counts[f.Kind]++
	}

	if counts[KindTree] == 0 {
		return &ConfigReferenceError{Ref: "field", Name: KindTree, Context: ctx}
	}
	if geography {
		for _, kind := range []string{KindName, KindPortable} {
			if counts[kind] != 1 {
				return &ConfigReferenceError{Ref: "field", Name: kind, Context: fmt.Sprintf("%s: need exactly one, got %d", ctx, counts[kind])}
			}
		}
	}
	return nil
}
