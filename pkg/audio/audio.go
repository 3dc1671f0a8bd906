// Package audio loads voice recordings (WAV, FLAC or MP3) into mono float64
// clips and prepares them for feature extraction: resampling, silence
// trimming and peak normalisation.
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrDecode is returned when an input cannot be decoded into PCM samples.
var ErrDecode = errors.New("audio: decode failed")

// Clip is a mono waveform normalised to [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Seconds returns the length of the clip in seconds.
func (c *Clip) Seconds() float64 {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Load opens and decodes the recording at path.
func Load(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()
	return Decode(f)
}

// Save writes clip as a 16-bit mono PCM WAV file.
func Save(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, clip.SampleRate, 16, 1, 1)
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
