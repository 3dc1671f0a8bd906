package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts clip to the target sample rate, flushing the filter so
// no tail is lost. The input clip is not modified; a clip already at rate is
// returned as is.
func Resample(clip *Clip, rate int) (*Clip, error) {
	if clip.SampleRate == rate {
		return clip, nil
	}
	if rate <= 0 || clip.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d -> %d", clip.SampleRate, rate)
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(clip.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	out, err := r.Process(clip.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	out = append(out, tail...)

	// The filter may still hold a few samples after Flush; the output is
	// always exactly as long as the input scaled by the rate ratio.
	want := int(math.Round(float64(len(clip.Samples)) * float64(rate) / float64(clip.SampleRate)))
	if len(out) > want {
		out = out[:want]
	} else if len(out) < want {
		out = append(out, make([]float64, want-len(out))...)
	}
	return &Clip{Samples: out, SampleRate: rate}, nil
}

// Trim removes leading and trailing frames whose RMS energy is more than
// topDB below the loudest frame. A completely silent signal trims to an
// empty slice. The returned slice aliases samples.
func Trim(samples []float64, topDB float64, frameLength, hop int) []float64 {
	n := len(samples)
	if n == 0 || frameLength <= 0 || hop <= 0 {
		return samples[:0]
	}

	var rms []float64
	for start := 0; start < n; start += hop {
		end := min(start+frameLength, n)
		var sum float64
		for _, s := range samples[start:end] {
			sum += s * s
		}
		rms = append(rms, math.Sqrt(sum/float64(frameLength)))
		if end == n {
			break
		}
	}

	peak := 0.0
	for _, v := range rms {
		peak = math.Max(peak, v)
	}
	if peak <= 0 || math.IsNaN(peak) {
		return samples[:0]
	}

	threshold := peak * math.Pow(10, -topDB/20)
	first, last := -1, -1
	for i, v := range rms {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return samples[:0]
	}
	start := first * hop
	end := min(last*hop+frameLength, n)
	return samples[start:end]
}

// Normalize scales samples in place so the peak magnitude is 1.
func Normalize(samples []float64) {
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}
