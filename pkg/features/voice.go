package features

import "math"

// VoiceMeasures are the voice-quality statistics appended to the vector
// when an estimator is configured. F0 holds the per-frame pitch of voiced
// frames in Hz.
type VoiceMeasures struct {
	F0          []float64
	JitterLocal float64
	ShimmerDB   float64
	HNR         float64
}

// VoiceEstimator computes voice-quality measures from a trimmed,
// normalised mono signal.
type VoiceEstimator interface {
	Estimate(y []float64, sampleRate int) VoiceMeasures
}

// AutocorrEstimator is a deterministic short-time autocorrelation pitch
// tracker. Jitter and shimmer are computed over consecutive voiced frames.
type AutocorrEstimator struct {
	FloorHz      float64 // lowest admissible pitch (default 60)
	CeilingHz    float64 // highest admissible pitch (default 400)
	FrameSec     float64 // analysis window (default 0.04)
	HopSec       float64 // hop (default 0.01)
	VoicingLevel float64 // minimum normalised autocorrelation peak (default 0.45)
	SilenceRMS   float64 // frames below this RMS are unvoiced (default 0.01)
}

// NewAutocorrEstimator returns an estimator with default parameters.
func NewAutocorrEstimator() *AutocorrEstimator {
	return &AutocorrEstimator{
		FloorHz:      60,
		CeilingHz:    400,
		FrameSec:     0.04,
		HopSec:       0.01,
		VoicingLevel: 0.45,
		SilenceRMS:   0.01,
	}
}

type voicedFrame struct {
	period float64
	amp    float64
	r      float64
}

func (e *AutocorrEstimator) Estimate(y []float64, sampleRate int) VoiceMeasures {
	frameLen := int(e.FrameSec * float64(sampleRate))
	hop := max(1, int(e.HopSec*float64(sampleRate)))
	minLag := max(1, int(float64(sampleRate)/e.CeilingHz))
	maxLag := int(float64(sampleRate) / e.FloorHz)
	if frameLen <= maxLag+1 {
		frameLen = 2*maxLag + 2
	}

	var voiced []voicedFrame
	frame := make([]float64, frameLen)
	for start := 0; start+frameLen <= len(y); start += hop {
		copy(frame, y[start:start+frameLen])
		if f, ok := e.analyze(frame, minLag, maxLag); ok {
			f.period /= float64(sampleRate)
			voiced = append(voiced, f)
		}
	}

	m := VoiceMeasures{JitterLocal: math.NaN(), ShimmerDB: math.NaN(), HNR: math.NaN()}
	if len(voiced) == 0 {
		return m
	}

	var hnr float64
	for _, f := range voiced {
		m.F0 = append(m.F0, 1/f.period)
		r := math.Min(math.Max(f.r, 1e-6), 1-1e-6)
		hnr += 10 * math.Log10(r/(1-r))
	}
	m.HNR = hnr / float64(len(voiced))

	if len(voiced) >= 2 {
		var diff, total, shimmer float64
		shimmerN := 0
		for i, f := range voiced {
			total += f.period
			if i == 0 {
				continue
			}
			prev := voiced[i-1]
			diff += math.Abs(f.period - prev.period)
			if prev.amp > 0 && f.amp > 0 {
				shimmer += math.Abs(20 * math.Log10(f.amp/prev.amp))
				shimmerN++
			}
		}
		meanPeriod := total / float64(len(voiced))
		m.JitterLocal = diff / float64(len(voiced)-1) / meanPeriod
		if shimmerN > 0 {
			m.ShimmerDB = shimmer / float64(shimmerN)
		}
	}
	return m
}

// analyze estimates the pitch period of one frame in samples.
func (e *AutocorrEstimator) analyze(x []float64, minLag, maxLag int) (voicedFrame, bool) {
	n := len(x)
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)
	var energy, amp float64
	for i := range x {
		x[i] -= mean
		energy += x[i] * x[i]
		amp = math.Max(amp, math.Abs(x[i]))
	}
	if math.Sqrt(energy/float64(n)) < e.SilenceRMS {
		return voicedFrame{}, false
	}

	maxLag = min(maxLag, n-2)
	if maxLag <= minLag {
		return voicedFrame{}, false
	}
	r := make([]float64, maxLag+2)
	for lag := minLag - 1; lag <= maxLag+1; lag++ {
		if lag < 1 {
			continue
		}
		var num, e0, e1 float64
		for i := 0; i+lag < n; i++ {
			num += x[i] * x[i+lag]
			e0 += x[i] * x[i]
			e1 += x[i+lag] * x[i+lag]
		}
		if e0 > 0 && e1 > 0 {
			r[lag] = num / math.Sqrt(e0*e1)
		}
	}

	best := minLag
	for lag := minLag; lag <= maxLag; lag++ {
		if r[lag] > r[best] {
			best = lag
		}
	}
	// Prefer the shortest lag that is a local peak close to the global one,
	// which avoids locking onto period multiples.
	for lag := minLag; lag < best; lag++ {
		if r[lag] >= 0.95*r[best] && r[lag] >= r[lag-1] && r[lag] >= r[lag+1] {
			best = lag
			break
		}
	}
	if r[best] < e.VoicingLevel {
		return voicedFrame{}, false
	}

	period := float64(best)
	if best > 1 && best+1 < len(r) {
		a, b, c := r[best-1], r[best], r[best+1]
		if d := a - 2*b + c; d != 0 {
			shift := 0.5 * (a - c) / d
			if math.Abs(shift) < 1 {
				period += shift
			}
		}
	}
	return voicedFrame{period: period, amp: amp, r: r[best]}, true
}
