// Package catalogue loads the eclipsing-binary target catalogue and the
// per-sector observation times. A catalogue is immutable once loaded and is
// shared read-only by every pipeline stage.
package catalogue

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Eclipse describes one eclipse in phase units. NaN position or width, or a
// zero width, is the sentinel for "no eclipse known"; stages pass these
// straight to the phase helpers, which treat them as an absent eclipse.
type Eclipse struct {
	Pos   float64
	Width float64
}

// Target is one catalogue row: an eclipsing binary with its ephemeris and
// eclipse geometry.
type Target struct {
	TIC       int64
	Period    float64
	Epoch     float64
	Sectors   []int
	Primary   Eclipse
	Secondary Eclipse
}

// Catalogue is the loaded set of targets, indexed by TIC id.
type Catalogue struct {
	targets []Target
	byTIC   map[int64]int
}

// Len returns the number of targets.
func (c *Catalogue) Len() int { return len(c.targets) }

// Targets returns all targets in file order.
func (c *Catalogue) Targets() []Target { return c.targets }

// Lookup returns the target with the given TIC id.
func (c *Catalogue) Lookup(tic int64) (Target, bool) {
	i, ok := c.byTIC[tic]
	if !ok {
		return Target{}, false
	}
	return c.targets[i], true
}

// Load reads a catalogue CSV. The standard format has columns tess_id,
// period, bjd0, sectors, prim_pos, prim_width, sec_pos, sec_width. With
// tebc set, the eclipse columns instead come in twin pairs suffixed _2g and
// _pf (two-Gaussian and polyfit model fits); the _pf value is preferred
// when finite, falling back to _2g. Blank eclipse fields parse to NaN.
func Load(path string, tebc bool) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("catalogue %s is empty", path)
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}

	required := []string{"tess_id", "period", "bjd0", "sectors"}
	if tebc {
		required = append(required,
			"prim_pos_2g", "prim_width_2g", "sec_pos_2g", "sec_width_2g",
			"prim_pos_pf", "prim_width_pf", "sec_pos_pf", "sec_width_pf")
	} else {
		required = append(required, "prim_pos", "prim_width", "sec_pos", "sec_width")
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("catalogue %s missing column %q", path, name)
		}
	}

	cat := &Catalogue{byTIC: make(map[int64]int)}
	for line, rec := range records[1:] {
		rowNum := line + 2

		tic, err := strconv.ParseInt(strings.TrimSpace(rec[cols["tess_id"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid tess_id: %w", rowNum, err)
		}
		period, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["period"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid period: %w", rowNum, err)
		}
		epoch, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["bjd0"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid bjd0: %w", rowNum, err)
		}
		sectors, err := parseSectors(rec[cols["sectors"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}

		t := Target{TIC: tic, Period: period, Epoch: epoch, Sectors: sectors}
		if tebc {
			t.Primary = Eclipse{
				Pos:   preferFinite(field(rec, cols, "prim_pos_pf"), field(rec, cols, "prim_pos_2g")),
				Width: preferFinite(field(rec, cols, "prim_width_pf"), field(rec, cols, "prim_width_2g")),
			}
			t.Secondary = Eclipse{
				Pos:   preferFinite(field(rec, cols, "sec_pos_pf"), field(rec, cols, "sec_pos_2g")),
				Width: preferFinite(field(rec, cols, "sec_width_pf"), field(rec, cols, "sec_width_2g")),
			}
		} else {
			t.Primary = Eclipse{
				Pos:   field(rec, cols, "prim_pos"),
				Width: field(rec, cols, "prim_width"),
			}
			t.Secondary = Eclipse{
				Pos:   field(rec, cols, "sec_pos"),
				Width: field(rec, cols, "sec_width"),
			}
		}

		cat.byTIC[tic] = len(cat.targets)
		cat.targets = append(cat.targets, t)
	}

	return cat, nil
}

// field parses a catalogue float field, mapping blanks and unparseable
// values to the NaN sentinel rather than failing the whole load.
func field(rec []string, cols map[string]int, name string) float64 {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return math.NaN()
	}
	s := strings.TrimSpace(rec[i])
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func preferFinite(pf, twoG float64) float64 {
	if !math.IsNaN(pf) {
		return pf
	}
	return twoG
}

// parseSectors splits a sectors field like "6;7;33" (semicolons or spaces)
// into sector numbers.
func parseSectors(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ' ' || r == ','
	})
	var sectors []int
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid sector %q", f)
		}
		sectors = append(sectors, n)
	}
	return sectors, nil
}
