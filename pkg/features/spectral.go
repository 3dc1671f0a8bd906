package features

import (
	"math"
	"slices"
)

const (
	amin      = 1e-10
	topDBClip = 80.0
)

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// hzToMel converts frequency in Hz to the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts HTK mel scale back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}

// melFilterBank builds numMels area-normalised triangular filters over the
// fftSize/2+1 spectrum bins between lowFreq and highFreq.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	bins := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	points := make([]float64, numMels+2)
	for i := range points {
		points[i] = melToHz(lowMel + float64(i)*(highMel-lowMel)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		left, center, right := points[m], points[m+1], points[m+2]
		norm := 2.0 / (right - left)
		filter := make([]float64, bins)
		for k := 0; k < bins; k++ {
			f := float64(k) * float64(sampleRate) / float64(fftSize)
			switch {
			case f > left && f <= center:
				filter[k] = norm * (f - left) / (center - left)
			case f > center && f < right:
				filter[k] = norm * (right - f) / (right - center)
			}
		}
		bank[m] = filter
	}
	return bank
}

// dctScale converts coefficient k of CosSequence, which is an unnormalized
// DCT-II scaled by 4, to the orthonormal DCT-II of length n.
func dctScale(k, n int) float64 {
	if k == 0 {
		return math.Sqrt(1/float64(n)) / 4
	}
	return math.Sqrt(2/float64(n)) / 4
}

// chromaMap assigns each spectrum bin to a pitch class (0 = C), or -1 for
// bins below the lowest musical pitch.
func chromaMap(fftSize, sampleRate int) []int {
	bins := fftSize/2 + 1
	m := make([]int, bins)
	for k := range m {
		f := float64(k) * float64(sampleRate) / float64(fftSize)
		if f < 27.5 {
			m[k] = -1
			continue
		}
		midi := int(math.Round(69 + 12*math.Log2(f/440)))
		m[k] = ((midi % 12) + 12) % 12
	}
	return m
}

// contrastBins returns [lo, hi) bin ranges for the octave contrast bands:
// [0, fmin), then octaves from fmin, the last band extending to Nyquist.
func contrastBins(fftSize, sampleRate int, fmin float64, bands int) [][2]int {
	bins := fftSize/2 + 1
	edges := []float64{0}
	for i := 0; i < bands; i++ {
		edges = append(edges, fmin*math.Pow(2, float64(i)))
	}
	binOf := func(f float64) int {
		k := int(math.Ceil(f * float64(fftSize) / float64(sampleRate)))
		return min(max(k, 0), bins)
	}
	out := make([][2]int, 0, bands+1)
	for i := 0; i < len(edges); i++ {
		lo := binOf(edges[i])
		hi := bins
		if i+1 < len(edges) {
			hi = binOf(edges[i+1])
		}
		if hi <= lo {
			hi = min(lo+1, bins)
			lo = hi - 1
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// bandContrast returns the peak-to-valley level difference in dB of the
// magnitude bins in band, using the top and bottom alpha fraction.
func bandContrast(mag []float64, band [2]int, alpha float64) float64 {
	sub := slices.Clone(mag[band[0]:band[1]])
	if len(sub) == 0 {
		return 0
	}
	slices.Sort(sub)
	n := max(1, int(math.Round(alpha*float64(len(sub)))))
	var valley, peak float64
	for _, v := range sub[:n] {
		valley += v
	}
	for _, v := range sub[len(sub)-n:] {
		peak += v
	}
	valley /= float64(n)
	peak /= float64(n)
	return powerToDB(peak) - powerToDB(valley)
}

func powerToDB(p float64) float64 {
	return 10 * math.Log10(math.Max(p, amin))
}

// clipDB floors every value of a dB spectrogram at its global maximum
// minus topDBClip.
func clipDB(rows [][]float64) {
	peak := math.Inf(-1)
	for _, r := range rows {
		for _, v := range r {
			peak = math.Max(peak, v)
		}
	}
	floor := peak - topDBClip
	for _, r := range rows {
		for i, v := range r {
			if v < floor {
				r[i] = floor
			}
		}
	}
}

// reflectPad pads y by pad samples on each side, mirroring around the
// edges. Short inputs fall back to edge repetition.
func reflectPad(y []float64, pad int) []float64 {
	n := len(y)
	out := make([]float64, n+2*pad)
	copy(out[pad:], y)
	for i := 1; i <= pad; i++ {
		out[pad-i] = y[reflectIndex(i, n)]
		out[pad+n-1+i] = y[reflectIndex(n-1-i, n)]
	}
	return out
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
