package characteristics

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

	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
)

type record map[string]string

func (r record) Get(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

func testJob() *config.Job {
	return &config.Job{
		Subjects: []config.SubjectConfig{
			{ID: "total", DisplayName: "Total"},
			{ID: "white", DisplayName: "White", PercentageDenominator: "total"},
			{ID: "pop_white", AliasFor: "white"},
		},
	}
}

func storedSubjects(t *testing.T, store geography.Store) map[string]geography.Subject {
	t.Helper()
	ctx := context.Background()
	total := &geography.Subject{Name: "total", DisplayName: "Total"}
	require.NoError(t, store.SaveSubject(ctx, total))
	white := &geography.Subject{Name: "white", DisplayName: "White", PercentageDenominator: &total.ID}
	require.NoError(t, store.SaveSubject(ctx, white))
	return map[string]geography.Subject{"total": *total, "white": *white}
}

func TestParseTruncatedNeverRounds(t *testing.T) {
	cases := map[string]string{
		"45.12345":  "45.1234",
		"45.12349":  "45.1234",
		"100.00000": "100",
		"7":         "7",
		"-3.99999":  "-3.9999",
	}
	for in, want := range cases {
		got, err := ParseTruncated("F", in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s -> %s", in, got)
	}
}

func TestParseTruncatedRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "n/a", "12,5"} {
		_, err := ParseTruncated("WHITE", in)
		var perr *AttributeParseError
		require.ErrorAs(t, err, &perr, in)
		assert.Equal(t, "WHITE", perr.Field)
	}
}

func TestPercentage(t *testing.T) {
	n := decimal.RequireFromString("45.1234")
	d := decimal.RequireFromString("100.0000")
	assert.Equal(t, "0.45123400", FormatPercentage(Percentage(n, d)))

	third := Percentage(decimal.NewFromInt(1), decimal.NewFromInt(3))
	assert.Equal(t, "0.33333333", FormatPercentage(third))
	twoThirds := Percentage(decimal.NewFromInt(2), decimal.NewFromInt(3))
	assert.Equal(t, "0.66666666", FormatPercentage(twoThirds))

	assert.Equal(t, ZeroSentinel, FormatPercentage(Percentage(n, decimal.Zero)))
	assert.Equal(t, ZeroSentinel, FormatPercentage(Percentage(n, decimal.NewFromInt(-5))))
	assert.True(t, Percentage(n, decimal.Zero).IsZero())
}

func TestNewFieldMapDerivesDenominatorField(t *testing.T) {
	store := geography.NewMemoryStore()
	subjects := storedSubjects(t, store)
	gl := config.GeolevelConfig{Name: "block", SubjectFields: []config.SubjectFieldConfig{
		{Subject: "total", Field: "TOTAL"},
		{Subject: "pop_white", Field: "WHITE"},
	}}

	fields, err := NewFieldMap(testJob(), gl, subjects)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "", fields[0].DenominatorSourceField)
	assert.Equal(t, subjects["white"].ID, fields[1].Subject.ID)
	assert.Equal(t, "TOTAL", fields[1].DenominatorSourceField)
	assert.Equal(t, []string{"TOTAL", "WHITE"}, SourceFields(fields))
}

func TestNewFieldMapMissingDenominatorField(t *testing.T) {
	store := geography.NewMemoryStore()
	subjects := storedSubjects(t, store)
	gl := config.GeolevelConfig{Name: "block", SubjectFields: []config.SubjectFieldConfig{
		{Subject: "white", Field: "WHITE"},
	}}

	_, err := NewFieldMap(testJob(), gl, subjects)
	var cerr *config.ConfigReferenceError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "denominator field", cerr.Ref)
}

func TestNewFieldMapUnknownSubject(t *testing.T) {
	gl := config.GeolevelConfig{Name: "block", SubjectFields: []config.SubjectFieldConfig{
		{Subject: "black", Field: "BLACK"},
	}}
	_, err := NewFieldMap(testJob(), gl, nil)
	var cerr *config.ConfigReferenceError
	assert.ErrorAs(t, err, &cerr)
}

func TestAssignStoresTruncatedValues(t *testing.T) {
	ctx := context.Background()
	store := geography.NewMemoryStore()
	subjects := storedSubjects(t, store)
	fields := []SubjectField{
		{Subject: subjects["total"], SourceField: "TOTAL"},
		{Subject: subjects["white"], SourceField: "WHITE", DenominatorSourceField: "TOTAL"},
	}
	unit := geography.Geounit{ID: uuid.New(), Name: "250"}
	log, _ := test.NewNullLogger()

	res, err := NewAssigner(store, logrus.NewEntry(log)).Assign(ctx, unit, record{"WHITE": "45.12345", "TOTAL": "100.00000"}, fields)
	require.NoError(t, err)
	assert.Equal(t, Result{Assigned: 2}, res)

	c, err := store.FindCharacteristic(ctx, unit.ID, subjects["white"].ID)
	require.NoError(t, err)
	assert.Equal(t, "45.1234", c.Number.StringFixed(4))
	assert.Equal(t, "0.45123400", FormatPercentage(c.Percentage))

	// A second assignment updates in place.
	_, err = NewAssigner(store, logrus.NewEntry(log)).Assign(ctx, unit, record{"WHITE": "50", "TOTAL": "100"}, fields)
	require.NoError(t, err)
	again, err := store.FindCharacteristic(ctx, unit.ID, subjects["white"].ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "0.50000000", FormatPercentage(again.Percentage))
}

func TestAssignSubstitutesZeroForBadValues(t *testing.T) {
	ctx := context.Background()
	store := geography.NewMemoryStore()
	subjects := storedSubjects(t, store)
	fields := []SubjectField{{Subject: subjects["white"], SourceField: "WHITE", DenominatorSourceField: "TOTAL"}}
	unit := geography.Geounit{ID: uuid.New(), Name: "251"}
	log, hook := test.NewNullLogger()

	res, err := NewAssigner(store, logrus.NewEntry(log)).Assign(ctx, unit, record{"WHITE": "n/a", "TOTAL": "100"}, fields)
	require.NoError(t, err)
	assert.Equal(t, Result{Assigned: 1, ParseErrors: 1}, res)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	c, err := store.FindCharacteristic(ctx, unit.ID, subjects["white"].ID)
	require.NoError(t, err)
	assert.True(t, c.Number.IsZero())
	assert.Equal(t, ZeroSentinel, FormatPercentage(c.Percentage))
}

type failingStore struct {
	*geography.MemoryStore
	err error
}

func (f failingStore) UpsertCharacteristic(context.Context, *geography.Characteristic) error {
	return f.err
}

func TestAssignCountsStoreErrors(t *testing.T) {
	ctx := context.Background()
	mem := geography.NewMemoryStore()
	subjects := storedSubjects(t, mem)
	fields := []SubjectField{{Subject: subjects["total"], SourceField: "TOTAL"}}
	log, _ := test.NewNullLogger()

	store := failingStore{MemoryStore: mem, err: &geography.StoreError{Op: "upsert characteristic", Err: errors.New("check constraint")}}
	res, err := NewAssigner(store, logrus.NewEntry(log)).Assign(ctx, geography.Geounit{ID: uuid.New()}, record{"TOTAL": "5"}, fields)
	require.NoError(t, err)
	assert.Equal(t, Result{StoreErrors: 1}, res)

	store.err = &geography.StoreError{Op: "upsert characteristic", Err: geography.ErrStoreClosed}
	_, err = NewAssigner(store, logrus.NewEntry(log)).Assign(ctx, geography.Geounit{ID: uuid.New()}, record{"TOTAL": "5"}, fields)
	assert.ErrorIs(t, err, geography.ErrStoreClosed)
}
