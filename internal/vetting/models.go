package vetting

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cbp-data/monocbp/internal/lightcurve"
)

// Model labels, ordered from most to least planet-like.
const (
	LabelTransit    = "T"  // flat-bottomed box
	LabelAsymmetric = "AT" // box with unequal ingress and egress depths
	LabelEclipse    = "E"  // V-shaped stellar eclipse
	LabelSinusoid   = "S"  // periodic variability
	LabelNull       = "N"  // constant flux
)

// modelFit is the outcome of fitting one candidate model to a snippet.
type modelFit struct {
	Label    string
	Chi2     float64
	Params   int
	Depth    float64
	Duration float64
}

// BIC returns the Bayesian information criterion for the fit. Lower wins.
func (f modelFit) BIC(n int) float64 {
	return f.Chi2 + float64(f.Params)*math.Log(float64(n))
}

// weights returns inverse-variance weights, substituting unit weights when a
// flux error is missing or non-positive.
func weights(s lightcurve.Snippet) []float64 {
	w := make([]float64, len(s.Time))
	for i := range w {
		sigma := 0.0
		if i < len(s.FluxErr) {
			sigma = s.FluxErr[i]
		}
		if sigma > 0 && !math.IsNaN(sigma) {
			w[i] = 1 / (sigma * sigma)
		} else {
			w[i] = 1
		}
	}
	return w
}

func weightedMean(y, w []float64, include func(i int) bool) (mean float64, sumW float64) {
	for i := range y {
		if include != nil && !include(i) {
			continue
		}
		mean += w[i] * y[i]
		sumW += w[i]
	}
	if sumW == 0 {
		return math.NaN(), 0
	}
	return mean / sumW, sumW
}

func chi2(y, w []float64, model func(i int) float64) float64 {
	var total float64
	for i := range y {
		r := y[i] - model(i)
		total += w[i] * r * r
	}
	return total
}

// fitNull models the snippet as constant flux.
func fitNull(s lightcurve.Snippet, w []float64) modelFit {
	mean, _ := weightedMean(s.Flux, w, nil)
	return modelFit{
		Label:  LabelNull,
		Chi2:   chi2(s.Flux, w, func(int) float64 { return mean }),
		Params: 1,
	}
}

// fitSinusoid models the snippet as a + b sin(2πt/P) + c cos(2πt/P), solving
// the linear coefficients by weighted least squares for each trial period.
func fitSinusoid(s lightcurve.Snippet, w []float64) modelFit {
	span := s.Time[len(s.Time)-1] - s.Time[0]
	best := modelFit{Label: LabelSinusoid, Chi2: math.Inf(1), Params: 4}
	if span <= 0 {
		return best
	}
	for _, scale := range []float64{0.25, 0.5, 1, 2} {
		period := span * scale
		fit, ok := sinusoidAtPeriod(s, w, period)
		if ok && fit < best.Chi2 {
			best.Chi2 = fit
		}
	}
	return best
}

func sinusoidAtPeriod(s lightcurve.Snippet, w []float64, period float64) (float64, bool) {
	n := len(s.Time)
	a := mat.NewDense(3, 3, nil)
	b := mat.NewVecDense(3, nil)
	basis := make([][3]float64, n)
	for i, t := range s.Time {
		arg := 2 * math.Pi * t / period
		basis[i] = [3]float64{1, math.Sin(arg), math.Cos(arg)}
		for j := 0; j < 3; j++ {
			b.SetVec(j, b.AtVec(j)+w[i]*basis[i][j]*s.Flux[i])
			for k := 0; k < 3; k++ {
				a.Set(j, k, a.At(j, k)+w[i]*basis[i][j]*basis[i][k])
			}
		}
	}
	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return 0, false
	}
	model := func(i int) float64 {
		return coef.AtVec(0)*basis[i][0] + coef.AtVec(1)*basis[i][1] + coef.AtVec(2)*basis[i][2]
	}
	return chi2(s.Flux, w, model), true
}

// boxGrid enumerates trial centres and widths around the detected event.
func boxGrid(s lightcurve.Snippet) (centres, widths []float64) {
	for _, dt := range []float64{-0.5, -0.25, 0, 0.25, 0.5} {
		centres = append(centres, s.EventTime+dt*s.EventWidth)
	}
	for _, scale := range []float64{0.5, 0.75, 1, 1.25, 1.5} {
		widths = append(widths, s.EventWidth*scale)
	}
	return centres, widths
}

// fitBox models the snippet as a flat baseline with a flat-bottomed dip.
func fitBox(s lightcurve.Snippet, w []float64) modelFit {
	best := modelFit{Label: LabelTransit, Chi2: math.Inf(1), Params: 4}
	centres, widths := boxGrid(s)
	for _, t0 := range centres {
		for _, width := range widths {
			inside := func(i int) bool { return math.Abs(s.Time[i]-t0) <= width/2 }
			outside := func(i int) bool { return !inside(i) }
			out, outW := weightedMean(s.Flux, w, outside)
			in, inW := weightedMean(s.Flux, w, inside)
			if outW == 0 || inW == 0 {
				continue
			}
			depth := out - in
			if depth < 0 {
				depth = 0
			}
			c := chi2(s.Flux, w, func(i int) float64 {
				if inside(i) {
					return out - depth
				}
				return out
			})
			if c < best.Chi2 {
				best.Chi2 = c
				best.Depth = depth
				best.Duration = width
			}
		}
	}
	return best
}

// fitAsymmetricBox is fitBox with independent depths either side of the
// trial centre.
func fitAsymmetricBox(s lightcurve.Snippet, w []float64) modelFit {
	best := modelFit{Label: LabelAsymmetric, Chi2: math.Inf(1), Params: 5}
	centres, widths := boxGrid(s)
	for _, t0 := range centres {
		for _, width := range widths {
			inside := func(i int) bool { return math.Abs(s.Time[i]-t0) <= width/2 }
			before := func(i int) bool { return inside(i) && s.Time[i] < t0 }
			after := func(i int) bool { return inside(i) && s.Time[i] >= t0 }
			outside := func(i int) bool { return !inside(i) }
			out, outW := weightedMean(s.Flux, w, outside)
			inBefore, beforeW := weightedMean(s.Flux, w, before)
			inAfter, afterW := weightedMean(s.Flux, w, after)
			if outW == 0 || beforeW == 0 || afterW == 0 {
				continue
			}
			depthBefore := math.Max(out-inBefore, 0)
			depthAfter := math.Max(out-inAfter, 0)
			c := chi2(s.Flux, w, func(i int) float64 {
				switch {
				case before(i):
					return out - depthBefore
				case after(i):
					return out - depthAfter
				default:
					return out
				}
			})
			if c < best.Chi2 {
				best.Chi2 = c
				best.Depth = math.Max(depthBefore, depthAfter)
				best.Duration = width
			}
		}
	}
	return best
}

// fitVShape models the snippet as a baseline with a V-shaped dip, the
// signature of a grazing or diluted stellar eclipse. Eclipses can be wider
// than the detected event, so the width grid extends past the box grid.
func fitVShape(s lightcurve.Snippet, w []float64) modelFit {
	best := modelFit{Label: LabelEclipse, Chi2: math.Inf(1), Params: 4}
	centres, _ := boxGrid(s)
	for _, t0 := range centres {
		for _, scale := range []float64{0.75, 1, 1.5, 2, 3} {
			width := s.EventWidth * scale
			shape := func(i int) float64 {
				d := math.Abs(s.Time[i] - t0)
				if d > width/2 {
					return 0
				}
				return 1 - d/(width/2)
			}
			outside := func(i int) bool { return shape(i) == 0 }
			out, outW := weightedMean(s.Flux, w, outside)
			if outW == 0 {
				continue
			}
			var num, den float64
			for i := range s.Flux {
				si := shape(i)
				num += w[i] * (out - s.Flux[i]) * si
				den += w[i] * si * si
			}
			if den == 0 {
				continue
			}
			depth := math.Max(num/den, 0)
			c := chi2(s.Flux, w, func(i int) float64 {
				return out - depth*shape(i)
			})
			if c < best.Chi2 {
				best.Chi2 = c
				best.Depth = depth
				best.Duration = width
			}
		}
	}
	return best
}
