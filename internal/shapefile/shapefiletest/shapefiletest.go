// Package shapefiletest writes small polygon shapefiles for tests.
package shapefiletest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
)

// Row is one feature to write.
type Row struct {
	Rings [][]shp.Point
	Attrs map[string]string
}

// Rect returns a clockwise (outer) ring covering the box.
func Rect(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: minX, Y: maxY}, {X: maxX, Y: maxY}, {X: maxX, Y: minY}, {X: minX, Y: minY},
	}
}

// Hole returns a counter-clockwise ring covering the box.
func Hole(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}, {X: minX, Y: minY},
	}
}

// Square is a single-ring row.
func Square(minX, minY, maxX, maxY float64, attrs map[string]string) Row {
	return Row{Rings: [][]shp.Point{Rect(minX, minY, maxX, maxY)}, Attrs: attrs}
}

// Write creates dir/name.shp with string fields and returns its path.
func Write(t testing.TB, dir, name string, fields []string, rows []Row) string {
	t.Helper()
	path := filepath.Join(dir, name+".shp")
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}

	defs := make([]shp.Field, len(fields))
	for i, f := range fields {
		defs[i] = shp.StringField(strings.ToUpper(f), 64)
	}
	if err := w.SetFields(defs); err != nil {
		t.Fatalf("set fields: %v", err)
	}

	for _, row := range rows {
		poly := shp.Polygon(*shp.NewPolyLine(row.Rings))
		n := w.Write(&poly)
		for i, f := range fields {
			v, ok := row.Attrs[f]
			if !ok {
				continue
			}
			if err := w.WriteAttribute(int(n), i, v); err != nil {
				t.Fatalf("write attribute %s: %v", f, err)
			}
		}
	}
	w.Close()
	return path
}

// WriteCodepage writes the .cpg sidecar declaring the DBF character set.
func WriteCodepage(t testing.TB, shpPath, enc string) {
	t.Helper()
	cpg := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".cpg"
	if err := os.WriteFile(cpg, []byte(enc), 0o644); err != nil {
		t.Fatalf("write %s: %v", cpg, err)
	}
}
