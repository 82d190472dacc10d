package main

import (
	"bytes"
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmpoweredVote/EV-Geography/internal/db"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
)

func TestStringListRepeats(t *testing.T) {
	var levels stringList
	fs := flag.NewFlagSet("geoimport", flag.ContinueOnError)
	fs.Var(&levels, "geolevel", "")
	require.NoError(t, fs.Parse([]string{"-geolevel", "block", "-geolevel", "2"}))
	assert.Equal(t, stringList{"block", "2"}, levels)
	assert.Equal(t, "block,2", levels.String())
}

func TestPrinterFormat(t *testing.T) {
	var buf bytes.Buffer
	report := printer(&buf)("import block")
	for _, pct := range []int{0, 10, 20, 100} {
		report(pct)
	}
	assert.Equal(t, "import block: 0% .. 10% .. 20% .. 100%\n", buf.String())
}

func TestOpenStoreDryRunStaysInMemory(t *testing.T) {
	store, closeStore, err := openStore(context.Background(), true, "postgres://unreachable.invalid/geo")
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &geography.MemoryStore{}, store)
}

func TestOpenStoreRequiresDatabase(t *testing.T) {
	_, _, err := openStore(context.Background(), false, "")
	assert.ErrorIs(t, err, db.ErrNoDSN)
}
