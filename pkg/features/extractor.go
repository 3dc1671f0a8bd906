// Package features turns a voice recording into the fixed-length feature
// vector the scoring bundles were fitted on.
//
// The vector is a sequence of per-track statistics (see Names) over
// short-time energy, zero-crossing rate, spectral shape, spectral contrast,
// chroma, MFCC with first and second derivatives and log-mel bands,
// optionally followed by voice-quality measures. Its layout is versioned
// by Version and must match the bundles that consume it.
package features

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"parkinson-voice/pkg/audio"
	"parkinson-voice/pkg/models"
)

var (
	// ErrInsufficientAudio is returned when less than the minimum duration
	// remains after silence trimming. It is a client input error.
	ErrInsufficientAudio = errors.New("insufficient audio")

	// ErrExtraction wraps failures of the underlying signal processing.
	ErrExtraction = errors.New("feature extraction failed")
)

const (
	trimFrame     = 2048
	trimHop       = 512
	deltaWidth    = 4
	contrastAlpha = 0.02
)

// Extractor computes feature vectors. It holds only read-only tables and
// is safe for concurrent use.
type Extractor struct {
	cfg      Config
	names    []string
	window   []float64
	freqs    []float64
	melBank  [][]float64
	mfccBank [][]float64
	chroma   []int
	contrast [][2]int
	voice    VoiceEstimator
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithVoiceEstimator installs est as the voice-quality estimator. It only
// takes effect when cfg.VoiceQuality is set.
func WithVoiceEstimator(est VoiceEstimator) Option {
	return func(e *Extractor) { e.voice = est }
}

// New creates an Extractor for cfg.
func New(cfg Config, opts ...Option) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := cfg.FrameLength
	e := &Extractor{
		cfg:      cfg,
		names:    Names(cfg),
		window:   hannWindow(n),
		melBank:  melFilterBank(cfg.NumMels, n, cfg.SampleRate, 0, float64(cfg.SampleRate)/2),
		mfccBank: melFilterBank(cfg.MFCCMels, n, cfg.SampleRate, 0, float64(cfg.SampleRate)/2),
		chroma:   chromaMap(n, cfg.SampleRate),
		contrast: contrastBins(n, cfg.SampleRate, cfg.ContrastFMin, cfg.ContrastBands),
	}
	e.freqs = make([]float64, n/2+1)
	for k := range e.freqs {
		e.freqs[k] = float64(k) * float64(cfg.SampleRate) / float64(n)
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.VoiceQuality && e.voice == nil {
		e.voice = NewAutocorrEstimator()
	}
	if !cfg.VoiceQuality {
		e.voice = nil
	}
	return e, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Len returns the length of every vector the extractor produces.
func (e *Extractor) Len() int { return len(e.names) }

// Extract computes the feature vector of clip. The clip is not modified.
func (e *Extractor) Extract(clip *audio.Clip) (vec models.FeatureVector, err error) {
	if clip == nil {
		return vec, fmt.Errorf("%w: nil clip", ErrExtraction)
	}
	defer func() {
		if r := recover(); r != nil {
			vec = models.FeatureVector{}
			err = fmt.Errorf("%w: %v", ErrExtraction, r)
		}
	}()

	resampled, err := audio.Resample(clip, e.cfg.SampleRate)
	if err != nil {
		return vec, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	trimmed := audio.Trim(resampled.Samples, e.cfg.TopDB, trimFrame, trimHop)
	need := int(e.cfg.MinDuration * float64(e.cfg.SampleRate))
	if len(trimmed) < need || len(trimmed) == 0 {
		return vec, fmt.Errorf("%w: %.2fs after trimming, need %.2fs",
			ErrInsufficientAudio, float64(len(trimmed))/float64(e.cfg.SampleRate), e.cfg.MinDuration)
	}
	y := make([]float64, len(trimmed))
	copy(y, trimmed)
	audio.Normalize(y)

	values := make([]float64, 0, len(e.names))
	for _, track := range e.tracks(y) {
		values = append(values, summarize(track)...)
	}
	if e.voice != nil {
		m := e.voice.Estimate(y, e.cfg.SampleRate)
		values = append(values, summarize(m.F0)...)
		values = append(values, m.JitterLocal, m.ShimmerDB, m.HNR)
	}
	if len(values) != len(e.names) {
		return vec, fmt.Errorf("%w: produced %d values for %d names", ErrExtraction, len(values), len(e.names))
	}
	finite(values)

	return models.FeatureVector{
		Version: Version(e.cfg),
		Names:   e.names,
		Values:  values,
	}, nil
}

// tracks computes every per-frame track in trackNames order.
func (e *Extractor) tracks(y []float64) [][]float64 {
	cfg := e.cfg
	n := cfg.FrameLength
	bins := n/2 + 1
	padded := reflectPad(y, n/2)
	numFrames := 1 + len(y)/cfg.HopLength

	rms := make([]float64, numFrames)
	zcr := make([]float64, numFrames)
	centroid := make([]float64, numFrames)
	bandwidth := make([]float64, numFrames)
	rolloff := make([]float64, numFrames)
	flatness := make([]float64, numFrames)
	contrast := make2D(len(e.contrast), numFrames)
	chroma := make2D(12, numFrames)
	logmel := make2D(numFrames, cfg.NumMels)
	mfccMel := make2D(numFrames, cfg.MFCCMels)

	fft := fourier.NewFFT(n)
	frame := make([]float64, n)
	coeffs := make([]complex128, bins)
	mag := make([]float64, bins)
	power := make([]float64, bins)

	for t := 0; t < numFrames; t++ {
		raw := padded[t*cfg.HopLength : t*cfg.HopLength+n]

		var energy float64
		crossings := 0
		for i, s := range raw {
			energy += s * s
			if i > 0 && (s >= 0) != (raw[i-1] >= 0) {
				crossings++
			}
			frame[i] = s * e.window[i]
		}
		rms[t] = math.Sqrt(energy / float64(n))
		zcr[t] = float64(crossings) / float64(n)

		coeffs = fft.Coefficients(coeffs, frame)
		var magSum, powSum, logPowSum float64
		for k, c := range coeffs {
			mag[k] = cmplx.Abs(c)
			power[k] = mag[k] * mag[k]
			magSum += mag[k]
			p := math.Max(power[k], amin)
			powSum += p
			logPowSum += math.Log(p)
		}

		if magSum > 0 {
			var c float64
			for k, m := range mag {
				c += e.freqs[k] * m
			}
			c /= magSum
			var bw float64
			for k, m := range mag {
				d := e.freqs[k] - c
				bw += m * d * d
			}
			centroid[t] = c
			bandwidth[t] = math.Sqrt(bw / magSum)

			threshold := cfg.RolloffPct * magSum
			var cum float64
			for k, m := range mag {
				cum += m
				if cum >= threshold {
					rolloff[t] = e.freqs[k]
					break
				}
			}
		}
		flatness[t] = math.Exp(logPowSum/float64(bins)) / (powSum / float64(bins))

		for b, band := range e.contrast {
			contrast[b][t] = bandContrast(mag, band, contrastAlpha)
		}

		var peak float64
		for k, pc := range e.chroma {
			if pc >= 0 {
				chroma[pc][t] += power[k]
			}
		}
		for pc := range chroma {
			peak = math.Max(peak, chroma[pc][t])
		}
		if peak > 0 {
			for pc := range chroma {
				chroma[pc][t] /= peak
			}
		}

		applyBank(e.melBank, power, logmel[t])
		applyBank(e.mfccBank, power, mfccMel[t])
	}

	clipDB(logmel)
	clipDB(mfccMel)

	mfcc := make2D(cfg.NumMFCC, numFrames)
	dct := fourier.NewQuarterWaveFFT(cfg.MFCCMels)
	cos := make([]float64, cfg.MFCCMels)
	for t, row := range mfccMel {
		cos = dct.CosSequence(cos, row)
		for k := range mfcc {
			mfcc[k][t] = cos[k] * dctScale(k, cfg.MFCCMels)
		}
	}

	out := [][]float64{rms, zcr, centroid, bandwidth, rolloff, flatness}
	out = append(out, contrast...)
	out = append(out, chroma...)
	for _, c := range mfcc {
		d := delta(c, deltaWidth)
		out = append(out, c, d, delta(d, deltaWidth))
	}
	for m := 0; m < cfg.NumMels; m++ {
		col := make([]float64, numFrames)
		for t := range logmel {
			col[t] = logmel[t][m]
		}
		out = append(out, col)
	}
	return out
}

// applyBank writes the dB energy of power under each filter of bank to dst.
func applyBank(bank [][]float64, power, dst []float64) {
	for m, filter := range bank {
		var s float64
		for k, w := range filter {
			if w != 0 {
				s += w * power[k]
			}
		}
		dst[m] = powerToDB(s)
	}
}

func make2D(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}
