// Package treecode builds the hierarchical identifiers that tie geounits at
// different geolevels together. A tree code is the ordered concatenation of
// zero-padded identifier fragments; a coarser unit contains a finer one when
// its code is a string prefix of the finer unit's code.
package treecode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is one fragment of a tree code, read from a feature attribute.
type Field struct {
	Name     string
	Position int
	Width    int
}

// Encoder concatenates fragments in position order. It is built once per
// feature source so field configuration is checked before any feature is read.
type Encoder struct {
	fields []Field
	width  int
}

var ErrNoFields = errors.New("treecode: no tree fields configured")

// NewEncoder validates the field layout: positions must be unique and
// contiguous from zero, widths positive and names non-empty.
func NewEncoder(fields []Field) (*Encoder, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}

	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	total := 0
	for i, f := range sorted {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("treecode: field at position %d has no name", f.Position)
		}
		if f.Position != i {
			return nil, fmt.Errorf("treecode: field %q has position %d, expected %d (positions must be unique and start at 0)", f.Name, f.Position, i)
		}
		if f.Width <= 0 {
			return nil, fmt.Errorf("treecode: field %q must have a positive width (got %d)", f.Name, f.Width)
		}
		total += f.Width
	}

	return &Encoder{fields: sorted, width: total}, nil
}

// Fields returns the fragments in position order.
func (e *Encoder) Fields() []Field {
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Width is the length of a code whose fragments all fit their widths.
func (e *Encoder) Width() int { return e.width }

// Encode builds a tree code from attribute values. Spaces around each value
// are stripped and the value is left-padded with zeros to its width; a value
// longer than its width is kept whole.
func (e *Encoder) Encode(lookup func(name string) (string, bool)) (string, error) {
	var b strings.Builder
	b.Grow(e.width)
	for _, f := range e.fields {
		v, ok := lookup(f.Name)
		if !ok {
			return "", fmt.Errorf("treecode: feature has no attribute %q", f.Name)
		}
		b.WriteString(Pad(v, f.Width))
	}
	return b.String(), nil
}

// Overlong lists the fields whose value is wider than the field. Such a value
// is kept whole by Encode, which shifts every later fragment of the code.
func (e *Encoder) Overlong(lookup func(name string) (string, bool)) []string {
	var out []string
	for _, f := range e.fields {
		if v, ok := lookup(f.Name); ok && len(strings.Trim(v, " ")) > f.Width {
			out = append(out, f.Name)
		}
	}
	return out
}

// Decode splits a code back into its zero-padded fragments.
func (e *Encoder) Decode(code string) ([]string, error) {
	if len(code) != e.width {
		return nil, fmt.Errorf("treecode: code %q has length %d, expected %d", code, len(code), e.width)
	}
	parts := make([]string, 0, len(e.fields))
	offset := 0
	for _, f := range e.fields {
		parts = append(parts, code[offset:offset+f.Width])
		offset += f.Width
	}
	return parts, nil
}

// Pad strips spaces and left-pads v with zeros to width.
func Pad(v string, width int) string {
	v = strings.Trim(v, " ")
	if len(v) >= width {
		return v
	}
	return strings.Repeat("0", width-len(v)) + v
}

// Contains reports whether the unit coded parent contains the unit coded child.
func Contains(parent, child string) bool {
	return strings.HasPrefix(child, parent)
}
