package lightcurve

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cbp-data/monocbp/internal/fsutil"
)

// Snippet is the short excerpt of a light curve around one candidate
// transit, handed from the transit finder to model-comparison vetting
// either in memory or as a JSON artifact on disk.
type Snippet struct {
	TIC        int64     `json:"tic"`
	Sector     int       `json:"sector"`
	EventTime  float64   `json:"event_time"`
	EventWidth float64   `json:"event_width"`
	Time       []float64 `json:"time"`
	Flux       []float64 `json:"flux"`
	FluxErr    []float64 `json:"flux_err"`
}

// FileName returns the canonical artifact name for the n-th event of a
// target/sector pair.
func (s *Snippet) FileName(n int) string {
	return fmt.Sprintf("TIC%d_S%d_E%d.json", s.TIC, s.Sector, n)
}

// WriteSnippet stores a snippet artifact in dir.
func WriteSnippet(fs fsutil.FileSystem, dir string, s *Snippet, n int) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snippet: %w", err)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snippet directory: %w", err)
	}
	if err := fs.WriteFile(filepath.Join(dir, s.FileName(n)), data, 0o644); err != nil {
		return fmt.Errorf("failed to write snippet: %w", err)
	}
	return nil
}

// ReadSnippet loads one snippet artifact.
func ReadSnippet(fs fsutil.FileSystem, path string) (*Snippet, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snippet %s: %w", path, err)
	}
	var s Snippet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snippet %s: %w", path, err)
	}
	return &s, nil
}

// ReadSnippetDir loads every snippet artifact in dir, sorted by file name.
func ReadSnippetDir(fs fsutil.FileSystem, dir string) ([]Snippet, error) {
	names, err := fs.List(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snippet directory %s: %w", dir, err)
	}
	var snippets []Snippet
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := ReadSnippet(fs, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, *s)
	}
	return snippets, nil
}
