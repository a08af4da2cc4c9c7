package catalogue

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SectorWindow is the observation time span of one sector.
type SectorWindow struct {
	Start float64
	End   float64
}

// SectorTimes maps sector numbers to their observation windows. The transit
// finder uses it to discard events too close to a sector edge, where
// detrending is unreliable.
type SectorTimes map[int]SectorWindow

// LoadSectorTimes reads a CSV with columns sector, start, end.
func LoadSectorTimes(path string) (SectorTimes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sector times: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse sector times: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("sector times %s is empty", path)
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range []string{"sector", "start", "end"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("sector times %s missing column %q", path, name)
		}
	}

	st := make(SectorTimes, len(records)-1)
	for line, rec := range records[1:] {
		sector, err := strconv.Atoi(strings.TrimSpace(rec[cols["sector"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid sector: %w", line+2, err)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["start"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid start: %w", line+2, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["end"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid end: %w", line+2, err)
		}
		st[sector] = SectorWindow{Start: start, End: end}
	}

	return st, nil
}
