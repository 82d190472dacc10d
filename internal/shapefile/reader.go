// Package shapefile streams features out of ESRI shapefiles.
package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// Record holds a feature's attributes keyed by upper-cased DBF field name.
type Record map[string]string

// Get looks up an attribute, ignoring case.
func (r Record) Get(name string) (string, bool) {
	v, ok := r[strings.ToUpper(name)]
	return v, ok
}

// Feature is one row of a shapefile: its index, attributes and raw shape.
type Feature struct {
	Index int
	Attrs Record
	Shape shp.Shape
}

// Reader reads one feature at a time; memory use does not grow with the
// size of the layer.
type Reader struct {
	path    string
	r       *shp.Reader
	fields  []string
	index   map[string]int
	decoder *encoding.Decoder
	cur     Feature
	err     error
}

// Open opens path (the .shp; the .dbf and .shx sit next to it). enc names the
// DBF character set; empty means use the .cpg file if present, else UTF-8.
func Open(path, enc string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("shapefile: open %s: %w", path, err)
	}
	if err := checkTable(path); err != nil {
		return nil, err
	}
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shapefile: open %s: %w", path, err)
	}

	if enc == "" {
		enc = codepageOf(path)
	}
	dec, err := decoderFor(enc)
	if err != nil {
		r.Close()
		return nil, err
	}

	rd := &Reader{path: path, r: r, index: map[string]int{}, decoder: dec}
	for i, f := range r.Fields() {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimRight(f.String(), "\x00")))
		rd.fields = append(rd.fields, name)
		rd.index[name] = i
	}
	return rd, nil
}

// Path is the file the reader was opened on.
func (rd *Reader) Path() string { return rd.path }

// Len is the number of records in the attribute table.
func (rd *Reader) Len() int { return rd.r.AttributeCount() }

// Fields lists the upper-cased DBF field names.
func (rd *Reader) Fields() []string {
	out := make([]string, len(rd.fields))
	copy(out, rd.fields)
	return out
}

// HasField reports whether the DBF declares name, ignoring case.
func (rd *Reader) HasField(name string) bool {
	_, ok := rd.index[strings.ToUpper(name)]
	return ok
}

// Next advances to the next feature.
func (rd *Reader) Next() bool {
	if rd.err != nil || !rd.r.Next() {
		return false
	}
	n, shape := rd.r.Shape()
	attrs := make(Record, len(rd.fields))
	for i, name := range rd.fields {
		raw := strings.TrimSpace(strings.TrimRight(rd.r.ReadAttribute(n, i), "\x00"))
		v, err := rd.decode(raw)
		if err != nil {
			rd.err = fmt.Errorf("shapefile: %s row %d field %s: %w", rd.path, n, name, err)
			return false
		}
		attrs[name] = v
	}
	rd.cur = Feature{Index: n, Attrs: attrs, Shape: shape}
	return true
}

// Feature returns the current feature.
func (rd *Reader) Feature() Feature { return rd.cur }

// Err returns the first error hit while reading, excluding end of file.
func (rd *Reader) Err() error {
	if rd.err != nil {
		return rd.err
	}
	return rd.r.Err()
}

func (rd *Reader) Close() error { return rd.r.Close() }

func (rd *Reader) decode(s string) (string, error) {
	if rd.decoder != nil {
		out, err := rd.decoder.String(s)
		if err != nil {
			return "", err
		}
		s = out
	}
	return norm.NFC.String(s), nil
}

// decoderFor maps a character set name to a decoder; nil means UTF-8.
func decoderFor(enc string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(enc), "_", "-")) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1", "88591":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "cp1252", "windows-1252", "1252", "ansi 1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("shapefile: unsupported encoding %q", enc)
	}
}

// dbfHeaderSize is the fixed part of a DBF header plus its terminator.
const dbfHeaderSize = 33

// ErrTruncatedTable is returned for a .dbf too short to hold a header.
var ErrTruncatedTable = errors.New("shapefile: attribute table truncated")

// checkTable verifies the .dbf sidecar exists and holds a header. The
// underlying reader opens it lazily and drops the error.
func checkTable(path string) error {
	dbf := sidecar(path, ".dbf")
	info, err := os.Stat(dbf)
	if err != nil {
		return fmt.Errorf("shapefile: open %s: %w", dbf, err)
	}
	if info.Size() < dbfHeaderSize {
		return fmt.Errorf("shapefile: open %s: %w", dbf, ErrTruncatedTable)
	}
	return nil
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// codepageOf reads the .cpg sidecar that declares the DBF character set.
func codepageOf(path string) string {
	b, err := os.ReadFile(sidecar(path, ".cpg"))
	if err != nil {
		return ""
	}
	enc := strings.TrimSpace(string(b))
	if _, err := decoderFor(enc); err != nil {
		return ""
	}
	return enc
}
