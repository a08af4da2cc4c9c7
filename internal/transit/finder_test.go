package transit

import (
	"context"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbp-data/monocbp/internal/catalogue"
	"github.com/cbp-data/monocbp/internal/config"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func buildCatalogue(t *testing.T, rows string) *catalogue.Catalogue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.csv")
	header := "tess_id,period,bjd0,sectors,prim_pos,prim_width,sec_pos,sec_width\n"
	require.NoError(t, fsutil.OSFileSystem{}.WriteFile(path, []byte(header+rows), 0o644))
	cat, err := catalogue.Load(path, false)
	require.NoError(t, err)
	return cat
}

// syntheticCurve builds a deterministic curve: unit flux, a small
// incommensurate wiggle standing in for noise, and box dips of the given
// depth over each [start, end] interval.
func syntheticCurve(tic int64, sector int, tEnd float64, dips map[[2]float64]float64) *lightcurve.Curve {
	c := &lightcurve.Curve{TIC: tic, Sector: sector}
	for t := 0.0; t < tEnd; t += 0.01 {
		flux := 1.0 + 0.0002*math.Sin(2*math.Pi*t/0.37)
		for span, depth := range dips {
			if t >= span[0] && t <= span[1] {
				flux -= depth
			}
		}
		c.Time = append(c.Time, t)
		c.Flux = append(c.Flux, flux)
		c.FluxErr = append(c.FluxErr, 0.0002)
	}
	return c
}

func TestProcessCurveDetectsDipMovingMedian(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "50,1.7,0.0,1,0.5,0.04,,\n")
	cfg := config.New(map[string]any{
		"transit_finding": map[string]any{"detrending_method": config.DetrendCP},
	})
	f := NewFinder(cat, nil, cfg, fsutil.NewMemoryFileSystem(), testLogger())

	curve := syntheticCurve(50, 1, 5.0, map[[2]float64]float64{{2.0, 2.1}: 0.01})
	events, snippets, err := f.ProcessCurve(curve)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, int64(50), ev.TIC)
	assert.Equal(t, 1, ev.Sector)
	assert.InDelta(t, 2.05, ev.Time, 0.02)
	assert.InDelta(t, 0.11, ev.Duration, 0.03)
	assert.InDelta(t, 0.01, ev.Depth, 0.002)
	assert.Greater(t, ev.SNR, 10.0)
	assert.GreaterOrEqual(t, ev.NPoints, 9)

	// The phase of the mid-event time under the catalogue ephemeris.
	assert.InDelta(t, math.Mod(ev.Time/1.7, 1.0), ev.Phase, 1e-6)

	require.Len(t, snippets, 1)
	s := snippets[0]
	assert.Equal(t, ev.Time, s.EventTime)
	assert.NotEmpty(t, s.Time)
	// Snippet spans at least half a day either side of the event.
	assert.LessOrEqual(t, s.Time[0], ev.Time-0.45)
	assert.GreaterOrEqual(t, s.Time[len(s.Time)-1], ev.Time+0.45)
}

func TestProcessCurveDetectsDipPhaseBinned(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "51,0.5,0.0,1,0.5,0.04,,\n")
	cfg := config.New(nil) // cb is the default method
	f := NewFinder(cat, nil, cfg, fsutil.NewMemoryFileSystem(), testLogger())

	curve := syntheticCurve(51, 1, 5.0, map[[2]float64]float64{{2.0, 2.03}: 0.01})
	events, _, err := f.ProcessCurve(curve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 2.015, events[0].Time, 0.02)
	assert.GreaterOrEqual(t, events[0].NPoints, 3)
}

func TestProcessCurveQuietCurveHasNoEvents(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "52,1.7,0.0,1,0.5,0.04,,\n")
	cfg := config.New(map[string]any{
		"transit_finding": map[string]any{"detrending_method": config.DetrendCP},
	})
	f := NewFinder(cat, nil, cfg, fsutil.NewMemoryFileSystem(), testLogger())

	curve := syntheticCurve(52, 1, 5.0, nil)
	events, _, err := f.ProcessCurve(curve)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessCurveSectorEdgeCut(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "53,1.7,0.0,1,0.5,0.04,,\n")
	cfg := config.New(map[string]any{
		"transit_finding": map[string]any{"detrending_method": config.DetrendCP},
	})
	st := catalogue.SectorTimes{1: {Start: 0.0, End: 5.0}}
	f := NewFinder(cat, st, cfg, fsutil.NewMemoryFileSystem(), testLogger())

	// One dip well inside the sector, one within the edge buffer.
	curve := syntheticCurve(53, 1, 5.0, map[[2]float64]float64{
		{2.0, 2.1}: 0.01,
		{4.7, 4.8}: 0.01,
	})
	events, _, err := f.ProcessCurve(curve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 2.05, events[0].Time, 0.02)
}

func TestProcessDirectory(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "50,1.7,0.0,1,0.5,0.04,,\n")
	cfg := config.New(map[string]any{
		"transit_finding": map[string]any{"detrending_method": config.DetrendCP},
	})
	fs := fsutil.NewMemoryFileSystem()
	f := NewFinder(cat, nil, cfg, fs, testLogger())

	curve := syntheticCurve(50, 1, 5.0, map[[2]float64]float64{{2.0, 2.1}: 0.01})
	require.NoError(t, lightcurve.Write(fs, "data", curve))
	// A file with no catalogue entry is skipped, not an error.
	stray := syntheticCurve(999, 2, 1.0, nil)
	require.NoError(t, lightcurve.Write(fs, "data", stray))

	table, err := f.ProcessDirectory(context.Background(), "data", Options{
		OutputDir:  "out",
		SnippetDir: "out/event_snippets",
	})
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	// Event table artifact written.
	data, err := fs.ReadFile("out/transit_events.txt")
	require.NoError(t, err)
	assert.Contains(t, string(data), "tic\tsector")
	assert.Contains(t, string(data), "50\t1")

	// Snippets retained in memory and on disk.
	require.Len(t, f.LastSnippets(), 1)
	files, err := fs.List("out/event_snippets")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestProcessDirectorySnippetsDisabled(t *testing.T) {
	t.Parallel()

	cat := buildCatalogue(t, "50,1.7,0.0,1,0.5,0.04,,\n")
	cfg := config.New(map[string]any{
		"transit_finding": map[string]any{
			"detrending_method":       config.DetrendCP,
			"generate_event_snippets": false,
		},
	})
	fs := fsutil.NewMemoryFileSystem()
	f := NewFinder(cat, nil, cfg, fs, testLogger())

	curve := syntheticCurve(50, 1, 5.0, map[[2]float64]float64{{2.0, 2.1}: 0.01})
	require.NoError(t, lightcurve.Write(fs, "data", curve))

	table, err := f.ProcessDirectory(context.Background(), "data", Options{OutputDir: "out"})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	assert.Empty(t, f.LastSnippets())
}

func TestClusterByGap(t *testing.T) {
	t.Parallel()

	times := []float64{0.0, 0.01, 0.02, 0.5, 0.51, 2.0}
	clusters := clusterByGap(times, []int{0, 1, 2, 3, 4, 5}, 0.1)
	require.Len(t, clusters, 3)
	assert.Equal(t, []int{0, 1, 2}, clusters[0])
	assert.Equal(t, []int{3, 4}, clusters[1])
	assert.Equal(t, []int{5}, clusters[2])

	assert.Empty(t, clusterByGap(times, nil, 0.1))
}

func TestMedianAndMAD(t *testing.T) {
	t.Parallel()

	xs := []float64{1, 2, 3, 4, 100}
	assert.Equal(t, 3.0, median(xs))
	// Robust to the outlier.
	assert.Equal(t, 1.0, mad(xs))
	// Inputs are not mutated.
	assert.Equal(t, []float64{1, 2, 3, 4, 100}, xs)

	assert.True(t, math.IsNaN(median(nil)))
}
