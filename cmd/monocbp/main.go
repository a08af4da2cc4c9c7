package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/cbp-data/monocbp/internal/db"
	"github.com/cbp-data/monocbp/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "run":
		runCommand(args)
	case "mask-eclipses":
		maskCommand(args)
	case "find-transits":
		findCommand(args)
	case "compare-models":
		vetCommand(args)
	case "inject-retrieve":
		injectCommand(args)
	case "migrate":
		migrateCommand(args)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: monocbp <command> [flags]

Commands:
  run             mask eclipses and run the configured analysis stages
  mask-eclipses   remove eclipse samples from the light curves in place
  find-transits   search masked light curves for transit-like events
  compare-models  vet detected events against competing models
  inject-retrieve measure search sensitivity with synthetic transits
  migrate         manage the run database schema (up, down, version, force, to)
  help            show this message

Run 'monocbp <command> -h' for the flags of a command.`)
}

// commonFlags are shared by every analysis command.
type commonFlags struct {
	catalogue   string
	tebc        bool
	dataDir     string
	outputDir   string
	configPath  string
	sectorTimes string
	models      string
	dbPath      string
}

func (cf *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&cf.catalogue, "catalogue", "", "path to the binary catalogue CSV")
	fs.BoolVar(&cf.tebc, "tebc", false, "catalogue uses the TEBC twin-column format")
	fs.StringVar(&cf.dataDir, "data-dir", "lightcurves", "directory of light-curve CSV files")
	fs.StringVar(&cf.outputDir, "output-dir", "output", "directory for stage artifacts")
	fs.StringVar(&cf.configPath, "config", "", "optional JSON configuration file")
	fs.StringVar(&cf.sectorTimes, "sector-times", "", "optional sector window CSV")
	fs.StringVar(&cf.models, "models", "", "optional injection models JSON file")
	fs.StringVar(&cf.dbPath, "db", "", "optional sqlite run database path")
}

// buildPipeline constructs the pipeline and, when a database path is given,
// its run store. The returned cleanup closes the database.
func buildPipeline(cf *commonFlags, overrides map[string]any) (*pipeline.Pipeline, *db.RunStore, func()) {
	opts := pipeline.Options{
		CataloguePath:   cf.catalogue,
		TEBC:            cf.tebc,
		DataDir:         cf.dataDir,
		OutputDir:       cf.outputDir,
		ConfigPath:      cf.configPath,
		ConfigOverrides: overrides,
		SectorTimesPath: cf.sectorTimes,
		ModelsPath:      cf.models,
	}

	cleanup := func() {}
	var store *db.RunStore
	if cf.dbPath != "" {
		database, err := db.NewDB(cf.dbPath)
		if err != nil {
			log.Fatalf("Failed to open run database: %v", err)
		}
		cleanup = func() { database.Close() }
		store = db.NewRunStore(database)
		opts.Recorder = store
	}

	p, err := pipeline.New(opts)
	if err != nil {
		cleanup()
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	return p, store, cleanup
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	find := fs.Bool("find", true, "run the transit search")
	vet := fs.Bool("vet", true, "vet detected events against competing models")
	injectFlag := fs.Bool("inject", false, "run injection retrieval")
	nInjections := fs.Int("n-injections", 0, "injection trials per model (0 uses the configured count)")
	fs.Parse(args)

	p, store, cleanup := buildPipeline(&cf, nil)
	defer cleanup()

	ctx := context.Background()
	results, err := p.Run(ctx, pipeline.RunOptions{
		FindTransits:       *find,
		VetCandidates:      *vet,
		InjectionRetrieval: *injectFlag,
		NInjections:        *nInjections,
	})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if results.TransitFinding != nil {
		fmt.Printf("Found %d transit-like events\n", results.TransitFinding.Len())
		if store != nil {
			if err := store.RecordEvents(ctx, p.RunID(), results.TransitFinding); err != nil {
				log.Printf("Warning: failed to persist events: %v", err)
			}
		}
	}
	if results.Vetting != nil {
		fmt.Printf("%d events survived vetting as high-confidence candidates\n", results.Vetting.Candidates())
	}
	if results.InjectionRetrieval != nil {
		for name, s := range results.InjectionRetrieval.Stats() {
			fmt.Printf("Injection model %s: recovery rate %.1f%% (%d/%d)\n",
				name, 100*s.RecoveryRate, s.Recovered, s.Trials)
		}
	}
}

func maskCommand(args []string) {
	fs := flag.NewFlagSet("mask-eclipses", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	p, _, cleanup := buildPipeline(&cf, nil)
	defer cleanup()

	if err := p.MaskEclipses(context.Background()); err != nil {
		log.Fatalf("Eclipse masking failed: %v", err)
	}
}

func findCommand(args []string) {
	fs := flag.NewFlagSet("find-transits", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	threshold := fs.Float64("threshold", 0, "detection threshold in MAD sigmas (0 uses the configured value)")
	method := fs.String("method", "", "detrending method, cb or cp (empty uses the configured value)")
	outputFile := fs.String("output", "", "event table file name (default transit_events.txt)")
	fs.Parse(args)

	finding := map[string]any{}
	if *threshold > 0 {
		finding["mad_threshold"] = *threshold
	}
	if *method != "" {
		finding["detrending_method"] = *method
	}
	var overrides map[string]any
	if len(finding) > 0 {
		overrides = map[string]any{"transit_finding": finding}
	}

	p, store, cleanup := buildPipeline(&cf, overrides)
	defer cleanup()

	ctx := context.Background()
	table, err := p.FindTransits(ctx, pipeline.FindOptions{OutputFile: *outputFile})
	if err != nil {
		log.Fatalf("Transit search failed: %v", err)
	}
	fmt.Printf("Found %d transit-like events\n", table.Len())

	if store != nil {
		if err := store.RecordEvents(ctx, p.RunID(), table); err != nil {
			log.Printf("Warning: failed to persist events: %v", err)
		}
	}
}

func vetCommand(args []string) {
	fs := flag.NewFlagSet("compare-models", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	snippetDir := fs.String("snippet-dir", "", "event snippet directory (default <output-dir>/event_snippets)")
	fs.Parse(args)

	p, _, cleanup := buildPipeline(&cf, nil)
	defer cleanup()

	table, err := p.VetCandidates(context.Background(), pipeline.VetOptions{SnippetDir: *snippetDir})
	if err != nil {
		log.Fatalf("Model comparison failed: %v", err)
	}
	fmt.Printf("Vetted %d events, %d high-confidence candidates\n", table.Len(), table.Candidates())
}

func injectCommand(args []string) {
	fs := flag.NewFlagSet("inject-retrieve", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	nInjections := fs.Int("n", 0, "injection trials per model (0 uses the configured count)")
	fs.Parse(args)

	p, _, cleanup := buildPipeline(&cf, nil)
	defer cleanup()

	table, err := p.RunInjectionRetrieval(context.Background(), pipeline.InjectOptions{NInjections: *nInjections})
	if err != nil {
		log.Fatalf("Injection retrieval failed: %v", err)
	}
	for name, s := range table.Stats() {
		fmt.Printf("Model %s: recovery rate %.1f%% (%d/%d)\n", name, 100*s.RecoveryRate, s.Recovered, s.Trials)
	}
}

func migrateCommand(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "monocbp.db", "sqlite run database path")
	migrationsDir := fs.String("migrations", "internal/db/migrations", "migrations directory")
	fs.Parse(args)

	if fs.NArg() < 1 {
		log.Fatal("Usage: monocbp migrate [flags] <up|down|version|force N|to N>")
	}
	action := fs.Arg(0)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("All migrations applied")
	case "down":
		if err := database.MigrateDown(*migrationsDir); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "version":
		version, dirty, err := database.MigrateVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		fmt.Printf("version %d, dirty %t\n", version, dirty)
	case "force":
		version := requireVersionArg(fs, action)
		if err := database.MigrateForce(*migrationsDir, version); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
	case "to":
		version := requireVersionArg(fs, action)
		if err := database.MigrateTo(*migrationsDir, uint(version)); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	default:
		log.Fatalf("Unknown migrate action: %s", action)
	}
}

func requireVersionArg(fs *flag.FlagSet, action string) int {
	if fs.NArg() < 2 {
		log.Fatalf("Usage: monocbp migrate %s <version>", action)
	}
	version, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		log.Fatalf("Invalid version %q: %v", fs.Arg(1), err)
	}
	return version
}
