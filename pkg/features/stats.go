package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// summarize returns mean, std, min, max, p25, p50, p75 and the
// interquartile range of v. An empty track yields NaN for every field.
func summarize(v []float64) []float64 {
	out := make([]float64, len(statSuffixes))
	if len(v) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	mean, std := stat.PopMeanStdDev(v, nil)
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	p25 := percentile(sorted, 25)
	p75 := percentile(sorted, 75)

	out[0] = mean
	out[1] = std
	out[2] = floats.Min(v)
	out[3] = floats.Max(v)
	out[4] = p25
	out[5] = percentile(sorted, 50)
	out[6] = p75
	out[7] = p75 - p25
	return out
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// delta computes the regression-based time derivative of track over a
// window of 2*width+1 frames, clamping indices at the edges.
func delta(track []float64, width int) []float64 {
	n := len(track)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	var denom float64
	for k := 1; k <= width; k++ {
		denom += float64(k * k)
	}
	denom *= 2
	for t := 0; t < n; t++ {
		var num float64
		for k := 1; k <= width; k++ {
			next := min(t+k, n-1)
			prev := max(t-k, 0)
			num += float64(k) * (track[next] - track[prev])
		}
		out[t] = num / denom
	}
	return out
}

// finite replaces every NaN and infinity in v with zero, in place.
func finite(v []float64) {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
}
