// Package masking removes in-eclipse samples from light-curve files so the
// transit search only sees out-of-eclipse flux.
package masking

import (
	"context"
	"fmt"
	"log"

	"github.com/cbp-data/monocbp/internal/catalogue"
	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
	"github.com/cbp-data/monocbp/internal/phase"
)

// Masker applies the catalogue's eclipse geometry to every light curve in a
// data directory, rewriting the files in place. Masks are recomputed from
// the catalogue on every call; nothing is cached across catalogue updates.
type Masker struct {
	cat     *catalogue.Catalogue
	dataDir string
	fs      fsutil.FileSystem
	logger  *log.Logger
}

// NewMasker creates a Masker over a catalogue and data directory.
func NewMasker(cat *catalogue.Catalogue, dataDir string, fs fsutil.FileSystem, logger *log.Logger) *Masker {
	if logger == nil {
		logger = log.Default()
	}
	return &Masker{cat: cat, dataDir: dataDir, fs: fs, logger: logger}
}

// MaskAll masks eclipses in every light-curve file in the data directory.
// Files whose target is not in the catalogue are left untouched and logged.
func (m *Masker) MaskAll(ctx context.Context) error {
	names, err := lightcurve.Scan(m.fs, m.dataDir)
	if err != nil {
		return err
	}

	masked := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed, err := m.maskFile(name)
		if err != nil {
			return err
		}
		if removed >= 0 {
			masked++
		}
	}

	m.logger.Printf("Eclipse masking complete: %d of %d files masked", masked, len(names))
	return nil
}

// maskFile masks one curve file. It returns the number of samples removed,
// or -1 when the file was skipped.
func (m *Masker) maskFile(name string) (int, error) {
	tic, _, _ := lightcurve.ParseFileName(name)
	target, ok := m.cat.Lookup(tic)
	if !ok {
		m.logger.Printf("TIC %d not in catalogue, skipping %s", tic, name)
		return -1, nil
	}

	curve, err := lightcurve.Read(m.fs, m.dataDir, name)
	if err != nil {
		return 0, err
	}

	phases := phase.ToPhase(curve.Time, target.Period, target.Epoch, 0.5)
	mask := phase.EclipseMask(phases, target.Primary.Pos, target.Primary.Width)
	for _, i := range phase.EclipseIndices(phases, target.Secondary.Pos, target.Secondary.Width) {
		mask[i] = true
	}

	removed := 0
	for _, inEclipse := range mask {
		if inEclipse {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	clean := curve.Drop(mask)
	if err := lightcurve.Write(m.fs, m.dataDir, clean); err != nil {
		return 0, fmt.Errorf("failed to rewrite %s: %w", name, err)
	}

	return removed, nil
}
