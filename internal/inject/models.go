package inject

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cbp-data/monocbp/internal/fsutil"
)

// Model shapes.
const (
	ShapeBox = "box"
	ShapeV   = "v"
)

// Model is one synthetic transit shape to inject. Depth is the fractional
// flux deficit at mid-transit, Duration the full width in days.
type Model struct {
	Name     string  `json:"name"`
	Shape    string  `json:"shape"`
	Depth    float64 `json:"depth"`
	Duration float64 `json:"duration"`
}

// Deficit returns the fractional flux loss at time t for an injection
// centred on epoch.
func (m Model) Deficit(t, epoch float64) float64 {
	d := math.Abs(t - epoch)
	half := m.Duration / 2
	if d > half {
		return 0
	}
	if m.Shape == ShapeV {
		return m.Depth * (1 - d/half)
	}
	return m.Depth
}

// LoadModels reads a JSON array of injection models.
func LoadModels(fs fsutil.FileSystem, path string) ([]Model, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %s: %w", path, err)
	}

	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("models file %s defines no models", path)
	}

	for i := range models {
		m := &models[i]
		if m.Name == "" {
			return nil, fmt.Errorf("models file %s: model %d has no name", path, i)
		}
		if m.Shape == "" {
			m.Shape = ShapeBox
		}
		if m.Shape != ShapeBox && m.Shape != ShapeV {
			return nil, fmt.Errorf("models file %s: model %q has unknown shape %q", path, m.Name, m.Shape)
		}
		if m.Depth < 0 || m.Duration <= 0 {
			return nil, fmt.Errorf("models file %s: model %q needs depth >= 0 and duration > 0", path, m.Name)
		}
	}
	return models, nil
}
