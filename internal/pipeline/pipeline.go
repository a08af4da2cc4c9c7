package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cbp-data/monocbp/internal/catalogue"
	"github.com/cbp-data/monocbp/internal/config"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/inject"
	"github.com/cbp-data/monocbp/internal/lightcurve"
	"github.com/cbp-data/monocbp/internal/masking"
	"github.com/cbp-data/monocbp/internal/transit"
	"github.com/cbp-data/monocbp/internal/vetting"
)

// ErrNoInjectionModels is returned when injection retrieval is invoked
// directly on a pipeline built without a models file.
var ErrNoInjectionModels = errors.New("injection retrieval requires a models file")

// snippetDirName is where the transit finder drops event snippets under the
// output directory, and where vetting looks for them by default.
const snippetDirName = "event_snippets"

// Results is the registry of stage outputs. Entries persist across stage
// invocations; re-running a stage replaces only its own entry.
type Results struct {
	TransitFinding     *transit.EventTable
	Vetting            *vetting.Table
	InjectionRetrieval *inject.Table
}

// RunRecord describes a pipeline run to a RunRecorder.
type RunRecord struct {
	RunID         string
	CataloguePath string
	DataDir       string
	OutputDir     string
	Params        map[string]any
}

// RunRecorder persists run lifecycle state. Optional; a nil recorder
// disables persistence.
type RunRecorder interface {
	Start(ctx context.Context, rec RunRecord) error
	Finish(ctx context.Context, runID, status, note string) error
}

// Options configures a Pipeline.
type Options struct {
	CataloguePath   string
	TEBC            bool // catalogue uses the TEBC twin-column format
	DataDir         string
	OutputDir       string
	ConfigPath      string         // optional JSON config merged over defaults
	ConfigOverrides map[string]any // merged over the loaded config, CLI flags land here
	SectorTimesPath string // optional sector window table
	ModelsPath      string // optional injection models; absent disables injection
	FS              fsutil.FileSystem
	Logger          *log.Logger
	Recorder        RunRecorder
}

// Pipeline wires the stage collaborators over one catalogue, data directory
// and merged configuration. Stages are independently re-invocable and share
// a results registry.
type Pipeline struct {
	runID      string
	cat        *catalogue.Catalogue
	cfg        config.Config
	fs         fsutil.FileSystem
	logger     *log.Logger
	dataDir    string
	outputDir  string
	masker     *masking.Masker
	finder     *transit.Finder
	comparator *vetting.Comparator
	injector   *inject.Injector
	recorder   RunRecorder
	opts       Options
	results    Results
}

func New(opts Options) (*Pipeline, error) {
	if opts.CataloguePath == "" {
		return nil, errors.New("catalogue path is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	fs := opts.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	cat, err := catalogue.Load(opts.CataloguePath, opts.TEBC)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	var cfg config.Config
	if opts.ConfigPath != "" {
		values, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = config.Config{Values: values}
	} else {
		cfg = config.New(nil)
	}
	if len(opts.ConfigOverrides) > 0 {
		cfg = config.Config{Values: config.Merge(opts.ConfigOverrides, cfg.Values)}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration override: %w", err)
		}
	}

	var sectorTimes catalogue.SectorTimes
	if opts.SectorTimesPath != "" {
		sectorTimes, err = catalogue.LoadSectorTimes(opts.SectorTimesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load sector times: %w", err)
		}
	}

	// Creating the output directory is idempotent so a pipeline can be
	// rebuilt over an earlier run's artifacts.
	if err := fs.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", opts.OutputDir, err)
	}

	p := &Pipeline{
		runID:      uuid.NewString(),
		cat:        cat,
		cfg:        cfg,
		fs:         fs,
		logger:     logger,
		dataDir:    opts.DataDir,
		outputDir:  opts.OutputDir,
		recorder:   opts.Recorder,
		opts:       opts,
		masker:     masking.NewMasker(cat, opts.DataDir, fs, logger),
		finder:     transit.NewFinder(cat, sectorTimes, cfg, fs, logger),
		comparator: vetting.NewComparator(cfg, fs, logger),
	}

	if opts.ModelsPath != "" {
		models, err := inject.LoadModels(fs, opts.ModelsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load injection models: %w", err)
		}
		p.injector = inject.NewInjector(models, p.finder, cfg, fs, logger)
	} else {
		logger.Printf("No injection models supplied, injection retrieval is disabled")
	}

	logger.Printf("Pipeline run %s: %d catalogue targets, data in %s", p.runID, cat.Len(), opts.DataDir)
	return p, nil
}

// RunID identifies this pipeline instance's run.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Config exposes the merged configuration.
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Results returns the current stage registry.
func (p *Pipeline) Results() *Results {
	return &p.results
}

// MaskEclipses removes eclipse samples from every light curve in the data
// directory, rewriting the files in place.
func (p *Pipeline) MaskEclipses(ctx context.Context) error {
	return p.masker.MaskAll(ctx)
}

// FindOptions tunes a transit search invocation.
type FindOptions struct {
	OutputFile string // event table artifact name, default transit_events.txt
}

// FindTransits searches the masked light curves and records the event table
// in the registry.
func (p *Pipeline) FindTransits(ctx context.Context, opts FindOptions) (*transit.EventTable, error) {
	table, err := p.finder.ProcessDirectory(ctx, p.dataDir, transit.Options{
		OutputFile: opts.OutputFile,
		OutputDir:  p.outputDir,
		SnippetDir: filepath.Join(p.outputDir, snippetDirName),
	})
	if err != nil {
		return nil, err
	}
	p.results.TransitFinding = table
	return table, nil
}

// VetOptions tunes a vetting invocation.
type VetOptions struct {
	Snippets   []lightcurve.Snippet // explicit snippets, highest priority
	SnippetDir string               // fallback directory, default <output>/event_snippets
}

// VetCandidates classifies event snippets against competing models and
// records the verdict table in the registry. Snippets come from the options,
// the last transit search, or the snippet directory, in that order.
func (p *Pipeline) VetCandidates(ctx context.Context, opts VetOptions) (*vetting.Table, error) {
	dir := opts.SnippetDir
	if dir == "" {
		dir = filepath.Join(p.outputDir, snippetDirName)
	}
	snippets, _, err := vetting.ResolveSnippets(opts.Snippets, p.finder.LastSnippets, dir, p.fs, p.logger)
	if err != nil {
		return nil, err
	}

	table, err := p.comparator.CompareEvents(ctx, snippets, p.outputDir)
	if err != nil {
		return nil, err
	}
	p.results.Vetting = table
	return table, nil
}

// InjectOptions tunes an injection-retrieval invocation.
type InjectOptions struct {
	NInjections int // <= 0 uses the configured count
}

// RunInjectionRetrieval measures search sensitivity on the masked light
// curves and records the trial table in the registry. Calling it on a
// pipeline without injection models is a configuration error.
func (p *Pipeline) RunInjectionRetrieval(ctx context.Context, opts InjectOptions) (*inject.Table, error) {
	if p.injector == nil {
		return nil, ErrNoInjectionModels
	}
	table, err := p.injector.Run(ctx, p.dataDir, opts.NInjections, inject.Options{OutputDir: p.outputDir})
	if err != nil {
		return nil, err
	}
	p.results.InjectionRetrieval = table
	return table, nil
}

// RunOptions selects which optional stages a full run performs. Eclipse
// masking always runs.
type RunOptions struct {
	FindTransits       bool
	VetCandidates      bool
	InjectionRetrieval bool
	NInjections        int
	TransitsOutputFile string
}

// Run drives the stages in order. Vetting requires the transit search, so
// VetCandidates without FindTransits is skipped. A requested injection run
// on a pipeline without models is skipped with a warning rather than
// failing, matching the behaviour of unattended batch runs.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Results, error) {
	if err := p.recordStart(ctx, opts); err != nil {
		return nil, err
	}

	if err := p.runStages(ctx, opts); err != nil {
		p.recordFinish(ctx, "failed", err.Error())
		return nil, err
	}

	p.recordFinish(ctx, "completed", "")
	return &p.results, nil
}

func (p *Pipeline) runStages(ctx context.Context, opts RunOptions) error {
	if err := p.MaskEclipses(ctx); err != nil {
		return err
	}

	if opts.FindTransits {
		if _, err := p.FindTransits(ctx, FindOptions{OutputFile: opts.TransitsOutputFile}); err != nil {
			return err
		}
		if opts.VetCandidates {
			if _, err := p.VetCandidates(ctx, VetOptions{}); err != nil {
				return err
			}
		}
	}

	if opts.InjectionRetrieval {
		if p.injector == nil {
			p.logger.Printf("Warning: injection retrieval requested but no models file was supplied, skipping")
		} else if _, err := p.RunInjectionRetrieval(ctx, InjectOptions{NInjections: opts.NInjections}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) recordStart(ctx context.Context, opts RunOptions) error {
	if p.recorder == nil {
		return nil
	}
	rec := RunRecord{
		RunID:         p.runID,
		CataloguePath: p.opts.CataloguePath,
		DataDir:       p.dataDir,
		OutputDir:     p.outputDir,
		Params: map[string]any{
			"find_transits":       opts.FindTransits,
			"vet_candidates":      opts.VetCandidates,
			"injection_retrieval": opts.InjectionRetrieval,
			"config":              p.cfg.Values,
		},
	}
	if err := p.recorder.Start(ctx, rec); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

func (p *Pipeline) recordFinish(ctx context.Context, status, note string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Finish(ctx, p.runID, status, note); err != nil {
		p.logger.Printf("Warning: failed to record run %s as %s: %v", p.runID, status, err)
	}
}
