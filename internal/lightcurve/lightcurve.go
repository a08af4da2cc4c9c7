// Package lightcurve reads and writes per-target light-curve files and the
// event-snippet artifacts passed from transit finding to vetting.
//
// A light-curve file holds one target's samples for one sector as CSV rows
// of time, normalized flux, and flux error, named TIC<id>_S<sector>.csv.
// Eclipse masking rewrites these files in place; every later stage only
// reads them.
package lightcurve

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cbp-data/monocbp/internal/fsutil"
)

// Curve is one target's light curve for one sector.
type Curve struct {
	TIC     int64
	Sector  int
	Time    []float64
	Flux    []float64
	FluxErr []float64
}

// Len returns the number of samples.
func (c *Curve) Len() int { return len(c.Time) }

// FileName returns the canonical file name for this curve.
func (c *Curve) FileName() string {
	return fmt.Sprintf("TIC%d_S%d.csv", c.TIC, c.Sector)
}

var curveFileRe = regexp.MustCompile(`^TIC(\d+)_S(\d+)\.csv$`)

// ParseFileName extracts the TIC id and sector from a curve file name.
func ParseFileName(name string) (tic int64, sector int, ok bool) {
	m := curveFileRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	tic, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	sector, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return tic, sector, true
}

// Read loads a curve file from dir.
func Read(fs fsutil.FileSystem, dir, name string) (*Curve, error) {
	tic, sector, ok := ParseFileName(name)
	if !ok {
		return nil, fmt.Errorf("not a light-curve file name: %q", name)
	}

	data, err := fs.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read light curve %s: %w", name, err)
	}

	c := &Curve{TIC: tic, Sector: sector}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s line %d: expected 3 fields, got %d", name, i+1, len(parts))
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid time: %w", name, i+1, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid flux: %w", name, i+1, err)
		}
		e, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid flux_err: %w", name, i+1, err)
		}
		c.Time = append(c.Time, t)
		c.Flux = append(c.Flux, f)
		c.FluxErr = append(c.FluxErr, e)
	}

	return c, nil
}

// Write stores the curve in dir under its canonical file name, replacing
// any existing file.
func Write(fs fsutil.FileSystem, dir string, c *Curve) error {
	var buf bytes.Buffer
	for i := range c.Time {
		fmt.Fprintf(&buf, "%.10g,%.10g,%.10g\n", c.Time[i], c.Flux[i], c.FluxErr[i])
	}
	path := filepath.Join(dir, c.FileName())
	if err := fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write light curve %s: %w", c.FileName(), err)
	}
	return nil
}

// Scan lists the light-curve files in dir, sorted by name.
func Scan(fs fsutil.FileSystem, dir string) ([]string, error) {
	names, err := fs.List(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory %s: %w", dir, err)
	}
	var curves []string
	for _, name := range names {
		if _, _, ok := ParseFileName(name); ok {
			curves = append(curves, name)
		}
	}
	return curves, nil
}

// Select returns a copy of the curve keeping only the samples at the given
// indices, which must be sorted.
func (c *Curve) Select(idx []int) *Curve {
	out := &Curve{
		TIC:     c.TIC,
		Sector:  c.Sector,
		Time:    make([]float64, 0, len(idx)),
		Flux:    make([]float64, 0, len(idx)),
		FluxErr: make([]float64, 0, len(idx)),
	}
	for _, i := range idx {
		out.Time = append(out.Time, c.Time[i])
		out.Flux = append(out.Flux, c.Flux[i])
		out.FluxErr = append(out.FluxErr, c.FluxErr[i])
	}
	return out
}

// Drop returns a copy of the curve with the masked samples removed.
func (c *Curve) Drop(mask []bool) *Curve {
	var idx []int
	for i, m := range mask {
		if !m {
			idx = append(idx, i)
		}
	}
	return c.Select(idx)
}
