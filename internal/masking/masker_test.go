package masking

import (
	"context"
	"io"
	"log"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbp-data/monocbp/internal/catalogue"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// buildCatalogue assembles a catalogue through the CSV loader so tests use
// the same path as production.
func buildCatalogue(t *testing.T, rows string) *catalogue.Catalogue {
	t.Helper()
	fs := fsutil.OSFileSystem{}
	dir := t.TempDir()
	path := dir + "/catalogue.csv"
	header := "tess_id,period,bjd0,sectors,prim_pos,prim_width,sec_pos,sec_width\n"
	require.NoError(t, fs.WriteFile(path, []byte(header+rows), 0o644))
	cat, err := catalogue.Load(path, false)
	require.NoError(t, err)
	return cat
}

func TestMaskAllRemovesEclipseSamples(t *testing.T) {
	t.Parallel()

	// Period 2, epoch 0: eclipse mid-times at even times. Primary at
	// phase 0 with width 0.1 covers |t mod 2| <= 0.1.
	cat := buildCatalogue(t, "10,2.0,0.0,1,0.0,0.1,,\n")

	fs := fsutil.NewMemoryFileSystem()
	curve := &lightcurve.Curve{
		TIC:     10,
		Sector:  1,
		Time:    []float64{0.0, 0.05, 0.5, 1.0, 1.92, 2.0, 2.5},
		Flux:    []float64{0.8, 0.85, 1.0, 1.0, 0.9, 0.8, 1.0},
		FluxErr: []float64{0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.01},
	}
	require.NoError(t, lightcurve.Write(fs, "data", curve))

	m := NewMasker(cat, "data", fs, testLogger())
	require.NoError(t, m.MaskAll(context.Background()))

	got, err := lightcurve.Read(fs, "data", "TIC10_S1.csv")
	require.NoError(t, err)
	// 0.0, 0.05, 1.92 (phase 0.96 -> in wrapped window), 2.0 removed.
	assert.InDeltaSlice(t, []float64{0.5, 1.0, 2.5}, got.Time, 1e-9)
}

func TestMaskAllMasksBothEclipses(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "11,2.0,0.0,1,0.0,0.1,0.5,0.1\n")

	fs := fsutil.NewMemoryFileSystem()
	curve := &lightcurve.Curve{
		TIC:     11,
		Sector:  1,
		Time:    []float64{0.0, 0.5, 1.0, 1.5}, // phases 0, 0.25, 0.5, 0.75
		Flux:    []float64{0.8, 1.0, 0.9, 1.0},
		FluxErr: []float64{0.01, 0.01, 0.01, 0.01},
	}
	require.NoError(t, lightcurve.Write(fs, "data", curve))

	m := NewMasker(cat, "data", fs, testLogger())
	require.NoError(t, m.MaskAll(context.Background()))

	got, err := lightcurve.Read(fs, "data", "TIC11_S1.csv")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, got.Time, 1e-9)
}

func TestMaskAllNaNSecondaryIsNoEclipse(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "12,2.0,0.0,1,0.0,0.1,,\n")
	tgt, ok := cat.Lookup(12)
	require.True(t, ok)
	require.True(t, math.IsNaN(tgt.Secondary.Pos))

	fs := fsutil.NewMemoryFileSystem()
	curve := &lightcurve.Curve{
		TIC:     12,
		Sector:  1,
		Time:    []float64{0.5, 1.0, 1.5},
		Flux:    []float64{1.0, 0.9, 1.0},
		FluxErr: []float64{0.01, 0.01, 0.01},
	}
	require.NoError(t, lightcurve.Write(fs, "data", curve))

	m := NewMasker(cat, "data", fs, testLogger())
	require.NoError(t, m.MaskAll(context.Background()))

	got, err := lightcurve.Read(fs, "data", "TIC12_S1.csv")
	require.NoError(t, err)
	// Nothing near the primary, NaN secondary removes nothing.
	assert.Len(t, got.Time, 3)
}

func TestMaskAllSkipsUnknownTargets(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "10,2.0,0.0,1,0.0,0.1,,\n")

	fs := fsutil.NewMemoryFileSystem()
	curve := &lightcurve.Curve{
		TIC:     999,
		Sector:  1,
		Time:    []float64{0.0, 0.5},
		Flux:    []float64{0.8, 1.0},
		FluxErr: []float64{0.01, 0.01},
	}
	require.NoError(t, lightcurve.Write(fs, "data", curve))

	m := NewMasker(cat, "data", fs, testLogger())
	require.NoError(t, m.MaskAll(context.Background()))

	got, err := lightcurve.Read(fs, "data", "TIC999_S1.csv")
	require.NoError(t, err)
	assert.Len(t, got.Time, 2, "unknown target left untouched")
}

func TestMaskAllCancelled(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "10,2.0,0.0,1,0.0,0.1,,\n")
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("data/TIC10_S1.csv", []byte("0.0,0.8,0.01\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMasker(cat, "data", fs, testLogger())
	assert.ErrorIs(t, m.MaskAll(ctx), context.Canceled)
}
