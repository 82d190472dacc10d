package characteristics

import (
	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
)

// SubjectField says which attribute holds a subject's value and, when the
// subject has a percentage denominator, which attribute holds the
// denominator's value in the same record.
type SubjectField struct {
	Subject                geography.Subject
	SourceField            string
	DenominatorSourceField string
}

// NewFieldMap resolves a geolevel's subject_fields against the stored
// subjects (keyed by name). Aliases are followed, so an aliased field writes
// the aliased subject. A subject with a denominator takes its denominator
// field from denominator_field, or else from the field this geolevel maps to
// the denominator subject.
func NewFieldMap(job *config.Job, gl config.GeolevelConfig, subjects map[string]geography.Subject) ([]SubjectField, error) {
	fieldFor := map[string]string{}
	resolved := make([]string, len(gl.SubjectFields))
	for i, sf := range gl.SubjectFields {
		id, err := job.ResolveSubject(sf.Subject)
		if err != nil {
			return nil, err
		}
		resolved[i] = id
		if _, seen := fieldFor[id]; !seen {
			fieldFor[id] = sf.Field
		}
	}

	out := make([]SubjectField, 0, len(gl.SubjectFields))
	for i, sf := range gl.SubjectFields {
		id := resolved[i]
		subject, ok := subjects[id]
		if !ok {
			return nil, &config.ConfigReferenceError{Ref: "subject", Name: id, Context: "not imported, geolevel " + gl.Name}
		}
		entry := SubjectField{Subject: subject, SourceField: sf.Field}

		decl, _ := job.Subject(id)
		if decl.PercentageDenominator != "" {
			entry.DenominatorSourceField = sf.DenominatorField
			if entry.DenominatorSourceField == "" {
				denom, err := job.ResolveSubject(decl.PercentageDenominator)
				if err != nil {
					return nil, err
				}
				entry.DenominatorSourceField = fieldFor[denom]
			}
			if entry.DenominatorSourceField == "" {
				return nil, &config.ConfigReferenceError{
					Ref:     "denominator field",
					Name:    decl.PercentageDenominator,
					Context: "subject " + id + ", geolevel " + gl.Name,
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// SourceFields lists every attribute the map reads, for checking against a
// shapefile's attribute table.
func SourceFields(fields []SubjectField) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		for _, name := range []string{f.SourceField, f.DenominatorSourceField} {
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
