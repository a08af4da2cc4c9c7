package pipeline

import (
	"context"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeCatalogue(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.csv")
	doc := "tess_id,period,bjd0,sectors,prim_pos,prim_width,sec_pos,sec_width\n" +
		"50,1.7,0.0,1,0.5,0.04,,\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"transit_finding": {"detrending_method": "cp"}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// testCurve builds a curve with a small deterministic wiggle, samples inside
// the primary eclipse, and one transit-like dip.
func testCurve() *lightcurve.Curve {
	c := &lightcurve.Curve{TIC: 50, Sector: 1}
	for t := 0.0; t < 5.0; t += 0.01 {
		flux := 1.0 + 0.0002*math.Sin(2*math.Pi*t/0.37)
		if t >= 2.0 && t <= 2.1 {
			flux -= 0.01
		}
		c.Time = append(c.Time, t)
		c.Flux = append(c.Flux, flux)
		c.FluxErr = append(c.FluxErr, 0.0002)
	}
	return c
}

func testOptions(t *testing.T) (Options, fsutil.FileSystem) {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, lightcurve.Write(fs, "lightcurves", testCurve()))
	return Options{
		CataloguePath: writeCatalogue(t),
		DataDir:       "lightcurves",
		OutputDir:     "output",
		ConfigPath:    writeConfig(t),
		FS:            fs,
		Logger:        testLogger(),
	}, fs
}

func writeModels(t *testing.T, fs fsutil.FileSystem) string {
	t.Helper()
	doc := `[{"name": "deep", "depth": 0.01, "duration": 0.2}]`
	require.NoError(t, fs.WriteFile("models.json", []byte(doc), 0o644))
	return "models.json"
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DataDir: "d"})
	assert.Error(t, err)

	_, err = New(Options{CataloguePath: "c"})
	assert.Error(t, err)

	_, err = New(Options{CataloguePath: "no/such/catalogue.csv", DataDir: "d", FS: fsutil.NewMemoryFileSystem()})
	assert.Error(t, err)
}

func TestNewAssignsRunID(t *testing.T) {
	opts, _ := testOptions(t)
	p1, err := New(opts)
	require.NoError(t, err)
	p2, err := New(opts)
	require.NoError(t, err)

	assert.NotEmpty(t, p1.RunID())
	assert.NotEqual(t, p1.RunID(), p2.RunID())
}

func TestNewAppliesConfigOverrides(t *testing.T) {
	opts, _ := testOptions(t)
	opts.ConfigOverrides = map[string]any{
		"transit_finding": map[string]any{"mad_threshold": 7.5},
	}
	p, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, 7.5, p.Config().GetMADThreshold())
	// The config file's own setting survives the override merge.
	assert.Equal(t, "cp", p.Config().GetDetrendingMethod())

	opts.ConfigOverrides = map[string]any{
		"transit_finding": map[string]any{"detrending_method": "bogus"},
	}
	_, err = New(opts)
	assert.Error(t, err)
}

func TestRunMaskFindVet(t *testing.T) {
	opts, fs := testOptions(t)
	p, err := New(opts)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), RunOptions{FindTransits: true, VetCandidates: true})
	require.NoError(t, err)

	require.NotNil(t, results.TransitFinding)
	require.GreaterOrEqual(t, results.TransitFinding.Len(), 1)
	ev := results.TransitFinding.Events[0]
	assert.InDelta(t, 2.05, ev.Time, 0.02)

	require.NotNil(t, results.Vetting)
	assert.Equal(t, results.TransitFinding.Len(), results.Vetting.Len())
	assert.GreaterOrEqual(t, results.Vetting.Candidates(), 1)
	assert.Nil(t, results.InjectionRetrieval)

	// Masking rewrote the curve without the eclipse samples.
	masked, err := lightcurve.Read(fs, "lightcurves", "TIC50_S1.csv")
	require.NoError(t, err)
	assert.Less(t, masked.Len(), testCurve().Len())

	// Stage artifacts land in the output directory.
	assert.True(t, fs.Exists("output/transit_events.txt"))
	assert.True(t, fs.Exists("output/model_comparison.csv"))
}

func TestRunVetWithoutFindIsSkipped(t *testing.T) {
	opts, _ := testOptions(t)
	p, err := New(opts)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), RunOptions{VetCandidates: true})
	require.NoError(t, err)
	assert.Nil(t, results.TransitFinding)
	assert.Nil(t, results.Vetting)
}

func TestRunInjectionWithoutModelsIsSoftSkip(t *testing.T) {
	opts, _ := testOptions(t)
	p, err := New(opts)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), RunOptions{InjectionRetrieval: true})
	require.NoError(t, err)
	assert.Nil(t, results.InjectionRetrieval)
}

func TestRunInjectionRetrievalDirectWithoutModelsErrors(t *testing.T) {
	opts, _ := testOptions(t)
	p, err := New(opts)
	require.NoError(t, err)

	_, err = p.RunInjectionRetrieval(context.Background(), InjectOptions{})
	assert.ErrorIs(t, err, ErrNoInjectionModels)
}

func TestRunWithInjectionModels(t *testing.T) {
	opts, fs := testOptions(t)
	opts.ModelsPath = writeModels(t, fs)
	p, err := New(opts)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), RunOptions{InjectionRetrieval: true, NInjections: 2})
	require.NoError(t, err)
	require.NotNil(t, results.InjectionRetrieval)
	assert.Len(t, results.InjectionRetrieval.Trials, 2)
	assert.True(t, fs.Exists("output/injection_retrieval.csv"))
}

func TestRegistryPersistsAcrossStageRuns(t *testing.T) {
	opts, fs := testOptions(t)
	opts.ModelsPath = writeModels(t, fs)
	p, err := New(opts)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), RunOptions{FindTransits: true})
	require.NoError(t, err)
	first := p.Results().TransitFinding
	require.NotNil(t, first)

	// A later injection-only run must not disturb the transit entry.
	_, err = p.Run(context.Background(), RunOptions{InjectionRetrieval: true, NInjections: 1})
	require.NoError(t, err)
	assert.Same(t, first, p.Results().TransitFinding)
	assert.NotNil(t, p.Results().InjectionRetrieval)

	// Re-running the search replaces only its own entry.
	injected := p.Results().InjectionRetrieval
	_, err = p.FindTransits(context.Background(), FindOptions{})
	require.NoError(t, err)
	assert.NotSame(t, first, p.Results().TransitFinding)
	assert.Same(t, injected, p.Results().InjectionRetrieval)
}

type fakeRecorder struct {
	started  []RunRecord
	finished []string // "status:note"
}

func (r *fakeRecorder) Start(_ context.Context, rec RunRecord) error {
	r.started = append(r.started, rec)
	return nil
}

func (r *fakeRecorder) Finish(_ context.Context, runID, status, note string) error {
	r.finished = append(r.finished, status)
	return nil
}

func TestRunRecordsLifecycle(t *testing.T) {
	opts, _ := testOptions(t)
	rec := &fakeRecorder{}
	opts.Recorder = rec
	p, err := New(opts)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), RunOptions{FindTransits: true})
	require.NoError(t, err)
	require.Len(t, rec.started, 1)
	assert.Equal(t, p.RunID(), rec.started[0].RunID)
	assert.Equal(t, []string{"completed"}, rec.finished)
}

func TestRunRecordsFailure(t *testing.T) {
	opts, _ := testOptions(t)
	opts.DataDir = "missing"
	rec := &fakeRecorder{}
	opts.Recorder = rec
	p, err := New(opts)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, []string{"failed"}, rec.finished)
}
