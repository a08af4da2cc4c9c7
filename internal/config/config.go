// Package config holds pipeline configuration: canonical defaults, a
// recursive merge for user-supplied overrides, and a typed view with
// defaulting accessors for the options each stage consumes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Detrending method identifiers accepted by the transit finder.
const (
	DetrendCB = "cb" // binary-aware phase-binned median detrend
	DetrendCP = "cp" // common-pattern moving-median detrend
)

// Default returns the canonical default configuration. Callers receive a
// fresh copy on every call and may modify it freely.
func Default() map[string]any {
	return map[string]any{
		"transit_finding": map[string]any{
			"mad_threshold":           5.0,
			"detrending_method":       DetrendCB,
			"window_size":             1.0,
			"min_event_points":        3,
			"max_event_gap":           0.1,
			"generate_event_snippets": true,
			"snippet_half_width":      1.5,
		},
		"model_comparison": map[string]any{
			"min_snr": 3.0,
		},
		"injection_retrieval": map[string]any{
			"n_injections": 100,
			"seed":         int(42),
		},
	}
}

// Merge combines a user configuration with defaults. Every key present in
// defaults survives into the result; user leaf values win over default
// leaves; nested maps merge recursively; keys only the user defines pass
// through unchanged. Neither argument is mutated, and merging an already
// merged result with the same defaults is a no-op.
func Merge(user, defaults map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(user))
	for k, v := range defaults {
		merged[k] = deepCopyValue(v)
	}
	for k, uv := range user {
		dv, ok := merged[k]
		if !ok {
			merged[k] = deepCopyValue(uv)
			continue
		}
		um, uIsMap := uv.(map[string]any)
		dm, dIsMap := dv.(map[string]any)
		if uIsMap && dIsMap {
			merged[k] = Merge(um, dm)
		} else {
			merged[k] = deepCopyValue(uv)
		}
	}
	return merged
}

func deepCopyValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, mv := range m {
			out[k] = deepCopyValue(mv)
		}
		return out
	}
	return v
}

// Load reads a user configuration JSON file and merges it over Default().
// The file must have a .json extension and be under 1MB, matching the
// conventions for other runtime config files.
func Load(path string) (map[string]any, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	merged := Merge(user, Default())
	cfg := Config{Values: merged}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return merged, nil
}

// Config is a typed view over a merged configuration map. The Get* methods
// fall back to the canonical defaults when a key is missing or has the
// wrong type, so a partially populated map is always usable.
type Config struct {
	Values map[string]any
}

// New wraps a user configuration map, merging it over Default(). A nil map
// yields the pure defaults.
func New(user map[string]any) Config {
	if user == nil {
		return Config{Values: Default()}
	}
	return Config{Values: Merge(user, Default())}
}

// Validate checks that configured values are usable by the stages.
func (c Config) Validate() error {
	if v := c.GetMADThreshold(); v <= 0 {
		return fmt.Errorf("transit_finding.mad_threshold must be positive, got %v", v)
	}
	if m := c.GetDetrendingMethod(); m != DetrendCB && m != DetrendCP {
		return fmt.Errorf("transit_finding.detrending_method must be %q or %q, got %q", DetrendCB, DetrendCP, m)
	}
	if n := c.GetNInjections(); n <= 0 {
		return fmt.Errorf("injection_retrieval.n_injections must be positive, got %d", n)
	}
	if n := c.GetMinEventPoints(); n < 1 {
		return fmt.Errorf("transit_finding.min_event_points must be at least 1, got %d", n)
	}
	return nil
}

func (c Config) section(name string) map[string]any {
	if c.Values == nil {
		return nil
	}
	m, _ := c.Values[name].(map[string]any)
	return m
}

func (c Config) getFloat(section, key string, fallback float64) float64 {
	v, ok := c.section(section)[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

func (c Config) getInt(section, key string, fallback int) int {
	v, ok := c.section(section)[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func (c Config) getBool(section, key string, fallback bool) bool {
	if v, ok := c.section(section)[key].(bool); ok {
		return v
	}
	return fallback
}

func (c Config) getString(section, key string, fallback string) string {
	if v, ok := c.section(section)[key].(string); ok {
		return v
	}
	return fallback
}

// GetMADThreshold returns the transit detection threshold in MAD units.
func (c Config) GetMADThreshold() float64 {
	return c.getFloat("transit_finding", "mad_threshold", 5.0)
}

// GetDetrendingMethod returns the configured detrending method.
func (c Config) GetDetrendingMethod() string {
	return c.getString("transit_finding", "detrending_method", DetrendCB)
}

// GetWindowSize returns the moving-median window in days for cp detrending.
func (c Config) GetWindowSize() float64 {
	return c.getFloat("transit_finding", "window_size", 1.0)
}

// GetMinEventPoints returns the minimum consecutive flagged samples per event.
func (c Config) GetMinEventPoints() int {
	return c.getInt("transit_finding", "min_event_points", 3)
}

// GetMaxEventGap returns the maximum time gap in days between samples of
// the same event.
func (c Config) GetMaxEventGap() float64 {
	return c.getFloat("transit_finding", "max_event_gap", 0.1)
}

// GetGenerateEventSnippets reports whether the finder keeps in-memory
// snippets around each detected event.
func (c Config) GetGenerateEventSnippets() bool {
	return c.getBool("transit_finding", "generate_event_snippets", true)
}

// GetSnippetHalfWidth returns the snippet half-width as a multiple of the
// event duration.
func (c Config) GetSnippetHalfWidth() float64 {
	return c.getFloat("transit_finding", "snippet_half_width", 1.5)
}

// GetMinSNR returns the minimum SNR for an event to be vetted.
func (c Config) GetMinSNR() float64 {
	return c.getFloat("model_comparison", "min_snr", 3.0)
}

// GetNInjections returns the number of injection tests per transit model.
func (c Config) GetNInjections() int {
	return c.getInt("injection_retrieval", "n_injections", 100)
}

// GetSeed returns the RNG seed for injection sampling.
func (c Config) GetSeed() int64 {
	return int64(c.getInt("injection_retrieval", "seed", 42))
}
