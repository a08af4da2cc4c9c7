package vetting

import (
	"fmt"
	"log"

	"github.com/cbp-data/monocbp/internal/fsutil"
	"github.com/cbp-data/monocbp/internal/lightcurve"
)

// Snippet sources, reported by ResolveSnippets for logging and tests.
const (
	SourceExplicit  = "explicit"
	SourceFinder    = "finder"
	SourceDirectory = "directory"
)

// ResolveSnippets picks the snippet collection to vet, in priority order:
// an explicitly supplied in-memory collection, then the transit finder's
// last results, then snippet artifacts read from dir. Snippet generation is
// optional and file-based vetting must keep working for resumed or
// out-of-process runs, so all three tiers stay live.
func ResolveSnippets(explicit []lightcurve.Snippet, finderLast func() []lightcurve.Snippet, dir string, fs fsutil.FileSystem, logger *log.Logger) ([]lightcurve.Snippet, string, error) {
	if logger == nil {
		logger = log.Default()
	}

	if len(explicit) > 0 {
		logger.Printf("Vetting %d in-memory event snippets", len(explicit))
		return explicit, SourceExplicit, nil
	}

	if finderLast != nil {
		if snippets := finderLast(); len(snippets) > 0 {
			logger.Printf("Vetting %d event snippets from the last transit search", len(snippets))
			return snippets, SourceFinder, nil
		}
	}

	logger.Printf("No event snippets in memory, reading %s", dir)
	snippets, err := lightcurve.ReadSnippetDir(fs, dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load event snippets from %s: %w", dir, err)
	}
	return snippets, SourceDirectory, nil
}
