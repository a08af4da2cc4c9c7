// Package transit searches masked light curves for transit-like dips. Flux
// is detrended, residuals are thresholded in MAD units, and flagged samples
// are clustered into candidate events by time continuity.
package transit

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"

	"github.com/cbp-data/monocbp/internal/catalogue"
	"github.com/cbp-data/monocbp/internal/config"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
	"github.com/cbp-data/monocbp/internal/phase"
)

// sectorEdgeBuffer is how close to a sector boundary, in days, an event may
// sit before it is discarded as a detrending artifact.
const sectorEdgeBuffer = 0.5

// Event is one candidate transit.
type Event struct {
	TIC      int64
	Sector   int
	Time     float64 // mid-event time
	Duration float64 // days
	Depth    float64 // fractional flux deficit
	SNR      float64
	Phase    float64 // orbital phase of the binary at mid-event
	NPoints  int
}

// EventTable is the transit finder's output: one row per detected event.
type EventTable struct {
	Events []Event
}

// Len returns the number of events.
func (t *EventTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Events)
}

// Finder detects transit-like events in a directory of masked light curves.
type Finder struct {
	cat         *catalogue.Catalogue
	sectorTimes catalogue.SectorTimes
	cfg         config.Config
	fs          fsutil.FileSystem
	logger      *log.Logger

	lastSnippets []lightcurve.Snippet
}

// NewFinder creates a Finder. sectorTimes may be nil, which disables the
// sector-edge cut.
func NewFinder(cat *catalogue.Catalogue, sectorTimes catalogue.SectorTimes, cfg config.Config, fs fsutil.FileSystem, logger *log.Logger) *Finder {
	if logger == nil {
		logger = log.Default()
	}
	return &Finder{cat: cat, sectorTimes: sectorTimes, cfg: cfg, fs: fs, logger: logger}
}

// Options configures one ProcessDirectory call.
type Options struct {
	OutputFile string // event table artifact name, default transit_events.txt
	OutputDir  string // artifact directory
	SnippetDir string // where snippet files go; empty keeps snippets in memory only
}

// ProcessDirectory runs the transit search over every light-curve file in
// dataDir, writes the event table artifact, and returns the table. When
// snippet generation is configured the snippets of this run are retained
// and available from LastSnippets.
func (f *Finder) ProcessDirectory(ctx context.Context, dataDir string, opts Options) (*EventTable, error) {
	if opts.OutputFile == "" {
		opts.OutputFile = "transit_events.txt"
	}

	names, err := lightcurve.Scan(f.fs, dataDir)
	if err != nil {
		return nil, err
	}

	table := &EventTable{}
	f.lastSnippets = nil
	generateSnippets := f.cfg.GetGenerateEventSnippets()

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tic, _, _ := lightcurve.ParseFileName(name)
		if _, ok := f.cat.Lookup(tic); !ok {
			f.logger.Printf("TIC %d not in catalogue, skipping %s", tic, name)
			continue
		}

		curve, err := lightcurve.Read(f.fs, dataDir, name)
		if err != nil {
			return nil, err
		}

		events, snippets, err := f.ProcessCurve(curve)
		if err != nil {
			return nil, err
		}

		for i, ev := range events {
			table.Events = append(table.Events, ev)
			if !generateSnippets {
				continue
			}
			f.lastSnippets = append(f.lastSnippets, snippets[i])
			if opts.SnippetDir != "" {
				if err := lightcurve.WriteSnippet(f.fs, opts.SnippetDir, &snippets[i], i+1); err != nil {
					return nil, err
				}
			}
		}
	}

	if opts.OutputDir != "" {
		if err := f.writeTable(table, opts.OutputDir, opts.OutputFile); err != nil {
			return nil, err
		}
	}

	f.logger.Printf("Transit finding complete: %d events from %d curves", table.Len(), len(names))
	return table, nil
}

// LastSnippets returns the event snippets generated by the most recent
// ProcessDirectory call. Empty when snippet generation is disabled.
func (f *Finder) LastSnippets() []lightcurve.Snippet {
	return f.lastSnippets
}

// ProcessCurve runs detection on a single curve. The curve's target must be
// in the catalogue. Exposed for injection-retrieval, which searches
// synthetic curves without touching the data directory.
func (f *Finder) ProcessCurve(curve *lightcurve.Curve) ([]Event, []lightcurve.Snippet, error) {
	target, ok := f.cat.Lookup(curve.TIC)
	if !ok {
		return nil, nil, fmt.Errorf("TIC %d not in catalogue", curve.TIC)
	}
	if curve.Len() < f.cfg.GetMinEventPoints() {
		return nil, nil, nil
	}

	var resid []float64
	switch f.cfg.GetDetrendingMethod() {
	case config.DetrendCP:
		resid = detrendMovingMedian(curve.Time, curve.Flux, f.cfg.GetWindowSize())
	default:
		resid = detrendPhaseBinned(curve.Time, curve.Flux, target.Period, target.Epoch)
	}

	sigma := madToSigma * mad(resid)
	if sigma == 0 || math.IsNaN(sigma) {
		return nil, nil, nil
	}
	cut := median(resid) - f.cfg.GetMADThreshold()*sigma

	var flagged []int
	for i, r := range resid {
		if r < cut {
			flagged = append(flagged, i)
		}
	}

	var events []Event
	var snippets []lightcurve.Snippet
	for _, cluster := range clusterByGap(curve.Time, flagged, f.cfg.GetMaxEventGap()) {
		if len(cluster) < f.cfg.GetMinEventPoints() {
			continue
		}
		ev := f.summarize(curve, target, resid, sigma, cluster)
		if f.nearSectorEdge(curve.Sector, ev) {
			f.logger.Printf("TIC %d sector %d: event at %.4f too close to sector edge, dropped", curve.TIC, curve.Sector, ev.Time)
			continue
		}
		events = append(events, ev)
		snippets = append(snippets, f.snippet(curve, ev))
	}

	return events, snippets, nil
}

// clusterByGap groups flagged sample indices into runs whose consecutive
// times are no more than maxGap days apart.
func clusterByGap(times []float64, flagged []int, maxGap float64) [][]int {
	var clusters [][]int
	var current []int
	for _, i := range flagged {
		if len(current) > 0 && times[i]-times[current[len(current)-1]] > maxGap {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, i)
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

func (f *Finder) summarize(curve *lightcurve.Curve, target catalogue.Target, resid []float64, sigma float64, cluster []int) Event {
	first := cluster[0]
	last := cluster[len(cluster)-1]

	depths := make([]float64, len(cluster))
	for i, idx := range cluster {
		depths[i] = -resid[idx]
	}
	depth := median(depths)

	// Pad the duration by one median cadence so single-cadence events have
	// nonzero width.
	cadence := medianCadence(curve.Time)
	duration := curve.Time[last] - curve.Time[first] + cadence
	mid := (curve.Time[last] + curve.Time[first]) / 2

	snr := depth / (sigma / math.Sqrt(float64(len(cluster))))
	ph := phase.ToPhase([]float64{mid}, target.Period, target.Epoch, 0.5)[0]

	return Event{
		TIC:      curve.TIC,
		Sector:   curve.Sector,
		Time:     mid,
		Duration: duration,
		Depth:    depth,
		SNR:      snr,
		Phase:    ph,
		NPoints:  len(cluster),
	}
}

func medianCadence(times []float64) float64 {
	if len(times) < 2 {
		return 0
	}
	diffs := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		diffs[i-1] = times[i] - times[i-1]
	}
	return median(diffs)
}

func (f *Finder) nearSectorEdge(sector int, ev Event) bool {
	window, ok := f.sectorTimes[sector]
	if !ok {
		return false
	}
	return ev.Time-window.Start < sectorEdgeBuffer || window.End-ev.Time < sectorEdgeBuffer
}

// snippet extracts the samples around an event. The half-width is a
// configured multiple of the event duration, floored at half a day so
// vetting always sees enough out-of-event baseline.
func (f *Finder) snippet(curve *lightcurve.Curve, ev Event) lightcurve.Snippet {
	half := f.cfg.GetSnippetHalfWidth() * ev.Duration
	if half < 0.5 {
		half = 0.5
	}

	s := lightcurve.Snippet{
		TIC:        ev.TIC,
		Sector:     ev.Sector,
		EventTime:  ev.Time,
		EventWidth: ev.Duration,
	}
	for i, t := range curve.Time {
		if t >= ev.Time-half && t <= ev.Time+half {
			s.Time = append(s.Time, t)
			s.Flux = append(s.Flux, curve.Flux[i])
			s.FluxErr = append(s.FluxErr, curve.FluxErr[i])
		}
	}
	return s
}

func (f *Finder) writeTable(table *EventTable, dir, file string) error {
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("tic\tsector\ttime\tduration\tdepth\tsnr\tphase\tn_points\n")
	for _, ev := range table.Events {
		fmt.Fprintf(&buf, "%d\t%d\t%.6f\t%.6f\t%.6f\t%.2f\t%.4f\t%d\n",
			ev.TIC, ev.Sector, ev.Time, ev.Duration, ev.Depth, ev.SNR, ev.Phase, ev.NPoints)
	}

	path := filepath.Join(dir, file)
	if err := f.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write event table: %w", err)
	}
	return nil
}
