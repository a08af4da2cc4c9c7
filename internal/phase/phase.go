// Package phase converts light-curve times to orbital phase and computes
// eclipse windows in phase space. All functions are pure and safe to call
// concurrently on independent data.
package phase

import "math"

// ToPhase folds an array of time values onto the orbital phase of a binary.
// The returned phases lie in [centre-0.5, centre+0.5); mid-eclipse times
// (the reference epoch plus whole periods) fold to phase 0, wrapped into
// that interval.
//
// period must be finite and non-zero; callers are responsible for checking.
func ToPhase(times []float64, period, epoch, centre float64) []float64 {
	start := centre - 0.5
	t0 := epoch + start*period

	phases := make([]float64, len(times))
	for i, t := range times {
		p := math.Mod((t-t0)/period, 1.0)
		if p < 0 {
			p += 1.0
		}
		phases[i] = p + start
	}
	return phases
}

// EclipseIndices returns the indices of samples that fall inside the eclipse
// window centred at pos with the given width, both in phase units.
//
// A NaN pos or width, or a zero width, means the eclipse is absent (the
// catalogue convention for unknown secondaries) and yields no indices.
// Windows near the phase seam wrap: pos > 0.95 may spill past phase 1 back
// to 0, pos < 0.05 may spill past phase 0 back to 1. A width of 1 or more
// covers the whole circle and selects every sample.
func EclipseIndices(phases []float64, pos, width float64) []int {
	if math.IsNaN(pos) || math.IsNaN(width) || width == 0 {
		return nil
	}

	if width >= 1 {
		idx := make([]int, len(phases))
		for i := range phases {
			idx[i] = i
		}
		return idx
	}

	var idx []int
	lo := pos - width/2
	hi := pos + width/2
	switch {
	case pos > 0.95:
		for i, p := range phases {
			if p >= lo || p <= hi-1 {
				idx = append(idx, i)
			}
		}
	case pos < 0.05:
		for i, p := range phases {
			if p >= lo+1 || p <= hi {
				idx = append(idx, i)
			}
		}
	default:
		for i, p := range phases {
			if p >= lo && p <= hi {
				idx = append(idx, i)
			}
		}
	}
	return idx
}

// EclipseMask materializes EclipseIndices as a boolean mask with the same
// length as phases. True marks in-eclipse samples.
func EclipseMask(phases []float64, pos, width float64) []bool {
	mask := make([]bool, len(phases))
	for _, i := range EclipseIndices(phases, pos, width) {
		mask[i] = true
	}
	return mask
}
