package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

type container int

const (
	unknownContainer container = iota
	wavContainer
	flacContainer
	mp3Container
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// sniff identifies a container from its first bytes.
func sniff(magic []byte) container {
	switch {
	case bytes.HasPrefix(magic, []byte("RIFF")):
		return wavContainer
	case bytes.HasPrefix(magic, []byte("fLaC")):
		return flacContainer
	case bytes.HasPrefix(magic, []byte("ID3")):
		return mp3Container
	case len(magic) >= 2 && magic[0] == 0xff && magic[1]&0xe0 == 0xe0:
		// MPEG audio frame sync without an ID3 tag.
		return mp3Container
	}
	return unknownContainer
}

// Decode reads a WAV (integer or IEEE float PCM), FLAC or MP3 stream and
// downmixes it to mono. The container is chosen by its magic bytes.
func Decode(r io.ReadSeeker) (*Clip, error) {
	var magic [4]byte
	n, _ := io.ReadFull(r, magic[:])
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var (
		clip *Clip
		err  error
	)
	switch sniff(magic[:n]) {
	case wavContainer:
		clip, err = decodeWAV(r)
	case flacContainer:
		clip, err = decodeFLAC(r)
	case mp3Container:
		clip, err = decodeMP3(r)
	default:
		return nil, fmt.Errorf("%w: unrecognised container", ErrDecode)
	}
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return clip, nil
}

func decodeWAV(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav stream", ErrDecode)
	}
	switch d.WavAudioFormat {
	case wavFormatPCM:
		return decodeWAVInt(d)
	case wavFormatFloat:
		return decodeWAVFloat(d)
	}
	return nil, fmt.Errorf("%w: unsupported wav format %d", ErrDecode, d.WavAudioFormat)
}

func decodeWAVInt(d *wav.Decoder) (*Clip, error) {
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format", ErrDecode)
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, depth)
	}

	scale := math.Ldexp(1, depth-1)
	offset := 0.0
	if depth == 8 {
		// 8-bit WAV samples are unsigned.
		offset = 128
	}
	samples := downmix(len(buf.Data), buf.Format.NumChannels, func(i int) float64 {
		return (float64(buf.Data[i]) - offset) / scale
	})
	return &Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// decodeWAVFloat reads IEEE float PCM, which the wav package only exposes
// as raw chunk bytes.
func decodeWAVFloat(d *wav.Decoder) (*Clip, error) {
	if err := d.FwdToPCM(); err != nil {
		return nil, err
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if d.PCMChunk == nil || d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%w: missing format", ErrDecode)
	}

	width := int(d.BitDepth) / 8
	if width != 4 && width != 8 {
		return nil, fmt.Errorf("%w: unsupported float depth %d", ErrDecode, d.BitDepth)
	}
	data := make([]byte, d.PCMSize)
	n, err := io.ReadFull(d.PCMChunk, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	data = data[:n-n%width]

	samples := downmix(len(data)/width, int(d.NumChans), func(i int) float64 {
		b := data[i*width:]
		if width == 4 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	})
	return &Clip{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

func decodeFLAC(r io.Reader) (*Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("%w: missing flac stream info", ErrDecode)
	}
	scale := math.Ldexp(1, int(info.BitsPerSample)-1)

	samples := make([]float64, 0, info.NSamples)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(f.Subframes) == 0 {
			continue
		}
		for i := 0; i < int(f.BlockSize); i++ {
			var sum float64
			for _, sub := range f.Subframes {
				sum += float64(sub.Samples[i])
			}
			samples = append(samples, sum/float64(len(f.Subframes))/scale)
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: flac stream has no samples", ErrDecode)
	}
	return &Clip{Samples: samples, SampleRate: int(info.SampleRate)}, nil
}

// decodeMP3 reads MP3 through go-mp3, which always yields 16-bit stereo.
func decodeMP3(r io.Reader) (*Clip, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, err
	}
	if len(pcm) < 4 {
		return nil, fmt.Errorf("%w: mp3 stream has no samples", ErrDecode)
	}
	samples := downmix(len(pcm)/2, 2, func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	})
	return &Clip{Samples: samples, SampleRate: d.SampleRate()}, nil
}

// downmix averages n interleaved samples over channels.
func downmix(n, channels int, at func(i int) float64) []float64 {
	frames := n / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += at(i*channels + ch)
		}
		out[i] = sum / float64(channels)
	}
	return out
}
