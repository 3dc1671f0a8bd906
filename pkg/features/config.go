package features

import "fmt"

const (
	coreVersion  = "core-v1"
	voiceVersion = "vq-v1"
)

// Config controls feature extraction. The feature layout, and with it the
// vector length, is a function of Config alone.
type Config struct {
	SampleRate    int     `yaml:"sample_rate"`    // target rate in Hz (default 16000)
	MinDuration   float64 `yaml:"min_duration"`   // seconds required after trimming (default 1.0)
	TopDB         float64 `yaml:"top_db"`         // trim threshold below peak (default 30)
	FrameLength   int     `yaml:"frame_length"`   // analysis window / FFT size (default 512 = 32 ms)
	HopLength     int     `yaml:"hop_length"`     // hop in samples (default 160 = 10 ms)
	NumMFCC       int     `yaml:"num_mfcc"`       // cepstral coefficients (default 20)
	MFCCMels      int     `yaml:"mfcc_mels"`      // mel bands feeding the DCT (default 128)
	NumMels       int     `yaml:"num_mels"`       // log-mel bands kept as features (default 30)
	ContrastFMin  float64 `yaml:"contrast_fmin"`  // lowest contrast band edge (default 200)
	ContrastBands int     `yaml:"contrast_bands"` // octave bands above fmin (default 6)
	RolloffPct    float64 `yaml:"rolloff_pct"`    // spectral rolloff fraction (default 0.85)
	VoiceQuality  bool    `yaml:"voice_quality"`  // append pitch/jitter/shimmer/HNR
}

// DefaultConfig returns the configuration the scoring bundles were fitted on.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		MinDuration:   1.0,
		TopDB:         30,
		FrameLength:   512,
		HopLength:     160,
		NumMFCC:       20,
		MFCCMels:      128,
		NumMels:       30,
		ContrastFMin:  200,
		ContrastBands: 6,
		RolloffPct:    0.85,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("features: sample_rate must be positive")
	case c.FrameLength <= 0 || c.FrameLength&(c.FrameLength-1) != 0:
		return fmt.Errorf("features: frame_length must be a power of two, got %d", c.FrameLength)
	case c.HopLength <= 0:
		return fmt.Errorf("features: hop_length must be positive")
	case c.NumMFCC <= 0 || c.MFCCMels < c.NumMFCC:
		return fmt.Errorf("features: need 0 < num_mfcc <= mfcc_mels")
	case c.NumMels <= 0:
		return fmt.Errorf("features: num_mels must be positive")
	case c.ContrastBands <= 0 || c.ContrastFMin <= 0:
		return fmt.Errorf("features: invalid contrast bands")
	case c.RolloffPct <= 0 || c.RolloffPct >= 1:
		return fmt.Errorf("features: rolloff_pct must be in (0, 1)")
	}
	return nil
}

// Version returns the layout tag recorded on vectors produced with c.
func Version(c Config) string {
	if c.VoiceQuality {
		return coreVersion + "+" + voiceVersion
	}
	return coreVersion
}

var statSuffixes = []string{"mean", "std", "min", "max", "p25", "p50", "p75", "qrange"}

// trackNames lists the per-frame tracks in vector order.
func trackNames(c Config) []string {
	names := []string{"rms", "zcr", "centroid", "bandwidth", "rolloff", "flatness"}
	for i := 0; i <= c.ContrastBands; i++ {
		names = append(names, fmt.Sprintf("contrast_b%d", i))
	}
	for i := 0; i < 12; i++ {
		names = append(names, fmt.Sprintf("chroma_b%d", i))
	}
	for i := 0; i < c.NumMFCC; i++ {
		names = append(names,
			fmt.Sprintf("mfcc_b%d", i),
			fmt.Sprintf("d_mfcc_b%d", i),
			fmt.Sprintf("dd_mfcc_b%d", i))
	}
	for i := 0; i < c.NumMels; i++ {
		names = append(names, fmt.Sprintf("logmel_b%d", i))
	}
	return names
}

func statNames(track string) []string {
	out := make([]string, len(statSuffixes))
	for i, s := range statSuffixes {
		out[i] = track + "_" + s
	}
	return out
}

func voiceNames() []string {
	names := statNames("vq_f0")
	return append(names, "vq_jitter_local", "vq_shimmer_local_db", "vq_hnr")
}

// Names returns the ordered feature names produced with c.
func Names(c Config) []string {
	var names []string
	for _, t := range trackNames(c) {
		names = append(names, statNames(t)...)
	}
	if c.VoiceQuality {
		names = append(names, voiceNames()...)
	}
	return names
}
