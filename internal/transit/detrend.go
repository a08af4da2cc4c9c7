package transit

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cbp-data/monocbp/internal/phase"
)

// median returns the empirical median of xs without mutating it.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// mad returns the median absolute deviation of xs about its median.
func mad(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	med := median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return median(dev)
}

// madToSigma scales a MAD to the standard deviation of a normal
// distribution with the same MAD.
const madToSigma = 1.4826

// detrendMovingMedian removes the common trend by subtracting, from each
// sample, the median flux inside a window of the given width in days
// centred on the sample. Times must be sorted ascending.
func detrendMovingMedian(times, flux []float64, window float64) []float64 {
	resid := make([]float64, len(flux))
	half := window / 2
	lo, hi := 0, 0
	for i, t := range times {
		for lo < len(times) && times[lo] < t-half {
			lo++
		}
		if hi < lo {
			hi = lo
		}
		for hi < len(times) && times[hi] <= t+half {
			hi++
		}
		resid[i] = flux[i] - median(flux[lo:hi])
	}
	return resid
}

// phaseBins is the number of bins used by the binary-aware detrend. Narrow
// enough to follow out-of-eclipse ellipsoidal variation, wide enough that a
// bin still holds several samples per sector.
const phaseBins = 50

// detrendPhaseBinned removes the residual binary signal by folding on the
// binary ephemeris and subtracting each sample's phase-bin median flux.
// Bins with no samples fall back to the global median.
func detrendPhaseBinned(times, flux []float64, period, epoch float64) []float64 {
	phases := phase.ToPhase(times, period, epoch, 0.5)

	binned := make([][]float64, phaseBins)
	binOf := make([]int, len(phases))
	for i, p := range phases {
		b := int(p * phaseBins)
		if b < 0 {
			b = 0
		}
		if b >= phaseBins {
			b = phaseBins - 1
		}
		binOf[i] = b
		binned[b] = append(binned[b], flux[i])
	}

	global := median(flux)
	binMedian := make([]float64, phaseBins)
	for b, vals := range binned {
		if len(vals) == 0 {
			binMedian[b] = global
			continue
		}
		binMedian[b] = median(vals)
	}

	resid := make([]float64, len(flux))
	for i := range flux {
		resid[i] = flux[i] - binMedian[binOf[i]]
	}
	return resid
}
