package vetting

import (
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cbp-data/monocbp/internal/config"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
)

// Verdict is the model-comparison outcome for one event snippet.
type Verdict struct {
	TIC       int64
	Sector    int
	EventTime float64
	BestFit   string
	Depth     float64
	Duration  float64
	SNR       float64
	BIC       map[string]float64
}

// IsCandidate reports whether the verdict keeps the event as a planet
// candidate.
func (v Verdict) IsCandidate() bool {
	return v.BestFit == LabelTransit || v.BestFit == LabelAsymmetric
}

// Table is the vetting stage's output: one verdict per event snippet.
type Table struct {
	Verdicts []Verdict
}

// Len returns the number of vetted events.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Verdicts)
}

// Candidates returns how many events survived vetting as planet candidates.
func (t *Table) Candidates() int {
	n := 0
	if t == nil {
		return 0
	}
	for _, v := range t.Verdicts {
		if v.IsCandidate() {
			n++
		}
	}
	return n
}

// Comparator vets event snippets by fitting the five candidate models and
// ranking them by BIC.
type Comparator struct {
	cfg    config.Config
	fs     fsutil.FileSystem
	logger *log.Logger
}

func NewComparator(cfg config.Config, fs fsutil.FileSystem, logger *log.Logger) *Comparator {
	if logger == nil {
		logger = log.Default()
	}
	return &Comparator{cfg: cfg, fs: fs, logger: logger}
}

// CompareEvents vets every snippet and, when outputDir is non-empty, writes
// a model_comparison.csv artifact. Events whose best fit is transit-like but
// whose refit depth falls below the configured minimum signal-to-noise are
// demoted to the null model.
func (c *Comparator) CompareEvents(ctx context.Context, snippets []lightcurve.Snippet, outputDir string) (*Table, error) {
	minSNR := c.cfg.GetMinSNR()
	verdicts := make([]Verdict, 0, len(snippets))
	for _, s := range snippets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := c.compareOne(s)
		if err != nil {
			return nil, fmt.Errorf("failed to vet event for TIC %d sector %d: %w", s.TIC, s.Sector, err)
		}
		if v.IsCandidate() && v.SNR < minSNR {
			c.logger.Printf("TIC %d sector %d: %s fit below min SNR (%.2f < %.2f), demoting to %s",
				s.TIC, s.Sector, v.BestFit, v.SNR, minSNR, LabelNull)
			v.BestFit = LabelNull
		}
		verdicts = append(verdicts, v)
	}

	table := &Table{Verdicts: verdicts}
	c.logger.Printf("Vetted %d events, %d remain planet candidates", table.Len(), table.Candidates())

	if outputDir != "" {
		if err := c.writeTable(table, outputDir); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (c *Comparator) compareOne(s lightcurve.Snippet) (Verdict, error) {
	n := len(s.Time)
	if n < 3 || len(s.Flux) != n {
		return Verdict{}, fmt.Errorf("snippet has %d samples, need at least 3", n)
	}

	w := weights(s)
	fits := []modelFit{
		fitNull(s, w),
		fitSinusoid(s, w),
		fitBox(s, w),
		fitAsymmetricBox(s, w),
		fitVShape(s, w),
	}

	bic := make(map[string]float64, len(fits))
	best := fits[0]
	bestBIC := math.Inf(1)
	for _, f := range fits {
		fb := f.BIC(n)
		bic[f.Label] = fb
		if fb < bestBIC {
			bestBIC = fb
			best = f
		}
	}

	return Verdict{
		TIC:       s.TIC,
		Sector:    s.Sector,
		EventTime: s.EventTime,
		BestFit:   best.Label,
		Depth:     best.Depth,
		Duration:  best.Duration,
		SNR:       depthSNR(s, best),
		BIC:       bic,
	}, nil
}

// depthSNR estimates the significance of the fitted dip from the snippet's
// reported flux errors, falling back to the out-of-event scatter.
func depthSNR(s lightcurve.Snippet, fit modelFit) float64 {
	if fit.Depth <= 0 || fit.Duration <= 0 {
		return 0
	}
	inEvent := 0
	var outFlux []float64
	for i, t := range s.Time {
		if math.Abs(t-s.EventTime) <= fit.Duration/2 {
			inEvent++
		} else {
			outFlux = append(outFlux, s.Flux[i])
		}
	}
	if inEvent == 0 {
		return 0
	}

	sigma := medianPositive(s.FluxErr)
	if sigma == 0 {
		sigma = stddev(outFlux)
	}
	if sigma == 0 {
		return math.Inf(1)
	}
	return fit.Depth / (sigma / math.Sqrt(float64(inEvent)))
}

func medianPositive(v []float64) float64 {
	vals := make([]float64, 0, len(v))
	for _, x := range v {
		if x > 0 && !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}

func (c *Comparator) writeTable(table *Table, outputDir string) error {
	var b strings.Builder
	b.WriteString("tic,sector,event_time,best_fit,depth,duration,snr,bic_t,bic_at,bic_e,bic_s,bic_n\n")
	for _, v := range table.Verdicts {
		fmt.Fprintf(&b, "%d,%d,%.6f,%s,%.6g,%.6g,%.3f,%.3f,%.3f,%.3f,%.3f,%.3f\n",
			v.TIC, v.Sector, v.EventTime, v.BestFit, v.Depth, v.Duration, v.SNR,
			v.BIC[LabelTransit], v.BIC[LabelAsymmetric], v.BIC[LabelEclipse],
			v.BIC[LabelSinusoid], v.BIC[LabelNull])
	}

	path := filepath.Join(outputDir, "model_comparison.csv")
	if err := c.fs.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	if err := c.fs.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write model comparison table: %w", err)
	}
	c.logger.Printf("Wrote model comparison table to %s", path)
	return nil
}
