package bundle_test

import (
	"errors"
	"math"
	"testing"

	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/bundle/bundletest"
)

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPredictProbaCalibrated(t *testing.T) {
	b := bundletest.Audio(bundletest.Names(4), "v")

	p, err := b.PredictProba([]float64{2, 2, 2, 2})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if !near(p, sigmoid(2)) {
		t.Errorf("p = %v, want %v", p, sigmoid(2))
	}

	p, _ = b.PredictProba(make([]float64, 4))
	if !near(p, 0.5) {
		t.Errorf("p(0) = %v, want 0.5", p)
	}
}

func TestPredictProbaPipeline(t *testing.T) {
	b := bundletest.Bridge(bundletest.Names(5), "v", 3)
	x := []float64{1, 2, 3, 4, 5}

	reduced, err := b.TransformUntil("pca", x)
	if err != nil {
		t.Fatalf("TransformUntil: %v", err)
	}
	want := []float64{1, 2, 3}
	if len(reduced) != len(want) {
		t.Fatalf("len(reduced) = %d, want %d", len(reduced), len(want))
	}
	for i := range want {
		if !near(reduced[i], want[i]) {
			t.Errorf("reduced[%d] = %v, want %v", i, reduced[i], want[i])
		}
	}

	p, err := b.PredictProba(x)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if !near(p, sigmoid(0.6)) {
		t.Errorf("p = %v, want %v", p, sigmoid(0.6))
	}

	if got := b.Steps(); len(got) != 3 || got[1] != "pca" {
		t.Errorf("Steps() = %v", got)
	}
	if s, err := b.Step("pca"); err != nil || s.Type() != "pca" {
		t.Errorf("Step(pca) = %v, %v", s, err)
	}
}

func TestTransformUntilMissingStep(t *testing.T) {
	b := bundletest.Audio(bundletest.Names(2), "v")
	if _, err := b.TransformUntil("pca", []float64{1, 2}); !errors.Is(err, bundle.ErrNoStep) {
		t.Errorf("err = %v, want ErrNoStep", err)
	}
	if _, err := b.Step("pca"); !errors.Is(err, bundle.ErrNoStep) {
		t.Errorf("Step err = %v, want ErrNoStep", err)
	}
}

func TestShapeMismatch(t *testing.T) {
	b := bundletest.Audio(bundletest.Names(4), "v")
	if _, err := b.PredictProba([]float64{1, 2, 3}); !errors.Is(err, bundle.ErrShape) {
		t.Errorf("err = %v, want ErrShape", err)
	}
	if b.InputDim() != 4 {
		t.Errorf("InputDim = %d", b.InputDim())
	}
}

func TestIsotonicCalibration(t *testing.T) {
	b := &bundle.Bundle{
		Format: bundle.FormatVersion,
		Name:   "iso",
		Kind:   bundle.KindScoring,
		Model: &bundle.Classifier{
			Type: "calibrated",
			Folds: []bundle.CalibratedFold{
				{
					Base:       bundle.Linear{Coef: []float64{1}},
					Calibrator: bundle.Calibrator{Method: "isotonic", X: []float64{0, 1, 2}, Y: []float64{0.1, 0.5, 0.9}},
				},
				{
					Base:       bundle.Linear{Coef: []float64{1}},
					Calibrator: bundle.Calibrator{Method: "sigmoid", A: 0, B: 0},
				},
			},
		},
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		x    float64
		want float64
	}{
		{-5, (0.1 + 0.5) / 2},
		{0.5, (0.3 + 0.5) / 2},
		{1.5, (0.7 + 0.5) / 2},
		{9, (0.9 + 0.5) / 2},
	}
	for _, tt := range tests {
		p, err := b.PredictProba([]float64{tt.x})
		if err != nil {
			t.Fatalf("PredictProba(%v): %v", tt.x, err)
		}
		if !near(p, tt.want) {
			t.Errorf("PredictProba(%v) = %v, want %v", tt.x, p, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	logistic := func(n int) *bundle.Classifier {
		return &bundle.Classifier{Type: "logistic", Logistic: &bundle.Linear{Coef: make([]float64, n)}}
	}

	tests := []struct {
		name string
		b    bundle.Bundle
		want error
	}{
		{
			name: "format",
			b:    bundle.Bundle{Format: 2, Kind: bundle.KindScoring, Model: logistic(2)},
			want: bundle.ErrVersion,
		},
		{
			name: "kind",
			b:    bundle.Bundle{Format: 1, Kind: "tree", Model: logistic(2)},
			want: bundle.ErrCorrupt,
		},
		{
			name: "empty",
			b:    bundle.Bundle{Format: 1, Kind: bundle.KindScoring},
			want: bundle.ErrCorrupt,
		},
		{
			name: "pipeline and model",
			b: bundle.Bundle{
				Format:   1,
				Kind:     bundle.KindScoring,
				Model:    logistic(2),
				Pipeline: []bundle.Step{{Name: "clf", Classifier: logistic(2)}},
			},
			want: bundle.ErrCorrupt,
		},
		{
			name: "scaler dimension",
			b: bundle.Bundle{
				Format: 1,
				Kind:   bundle.KindScoring,
				Scaler: &bundle.Scaler{Mean: []float64{0, 0, 0}, Scale: []float64{1, 1, 1}},
				Model:  logistic(2),
			},
			want: bundle.ErrCorrupt,
		},
		{
			name: "classifier not last",
			b: bundle.Bundle{
				Format: 1,
				Kind:   bundle.KindScoring,
				Pipeline: []bundle.Step{
					{Name: "clf", Classifier: logistic(2)},
					{Name: "scaler", Scaler: &bundle.Scaler{Mean: []float64{0}, Scale: []float64{1}}},
				},
			},
			want: bundle.ErrCorrupt,
		},
		{
			name: "duplicate step",
			b: bundle.Bundle{
				Format: 1,
				Kind:   bundle.KindScoring,
				Pipeline: []bundle.Step{
					{Name: "a", Scaler: &bundle.Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}},
					{Name: "a", Classifier: logistic(2)},
				},
			},
			want: bundle.ErrCorrupt,
		},
		{
			name: "feature names",
			b: bundle.Bundle{
				Format:       1,
				Kind:         bundle.KindScoring,
				FeatureNames: []string{"a"},
				Model:        logistic(2),
			},
			want: bundle.ErrCorrupt,
		},
		{
			name: "unsorted isotonic",
			b: bundle.Bundle{
				Format: 1,
				Kind:   bundle.KindScoring,
				Model: &bundle.Classifier{Type: "calibrated", Folds: []bundle.CalibratedFold{{
					Base:       bundle.Linear{Coef: []float64{1}},
					Calibrator: bundle.Calibrator{Method: "isotonic", X: []float64{2, 1}, Y: []float64{0, 1}},
				}}},
			},
			want: bundle.ErrCorrupt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.b.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnvalidatedBundle(t *testing.T) {
	b := &bundle.Bundle{Format: 1, Kind: bundle.KindScoring}
	if _, err := b.PredictProba([]float64{1}); !errors.Is(err, bundle.ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	src := bundletest.Bridge(bundletest.Names(4), "core-v1", 2)
	x := []float64{0.5, -1, 2, 3}
	want, _ := src.PredictProba(x)

	for _, enc := range []bundle.Encoding{bundle.Msgpack, bundle.YAML} {
		t.Run(string(enc), func(t *testing.T) {
			data, err := bundle.Encode(src, enc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := bundle.Decode(data, enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Name != "bridge" || got.FeatureVersion != "core-v1" || len(got.FeatureNames) != 4 {
				t.Errorf("metadata = %q %q %d", got.Name, got.FeatureVersion, len(got.FeatureNames))
			}
			p, err := got.PredictProba(x)
			if err != nil {
				t.Fatalf("PredictProba: %v", err)
			}
			if !near(p, want) {
				t.Errorf("p = %v, want %v", p, want)
			}
		})
	}
}

func TestDecodeYAMLDocument(t *testing.T) {
	doc := `
format: 1
name: fusion
kind: fusion
version: hand-v1
feature_names: [p_tab_like_from_pca22, p_audio_full]
model:
  type: logistic
  logistic:
    coef: [1, 1]
    intercept: -1
`
	b, err := bundle.Decode([]byte(doc), bundle.EncodingOf("fusion.yaml"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, _ := b.PredictProba([]float64{0.5, 0.5})
	if !near(p, 0.5) {
		t.Errorf("p = %v, want 0.5", p)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := bundle.Decode([]byte{0xc1, 0x00, 0x13}, bundle.Msgpack); !errors.Is(err, bundle.ErrCorrupt) {
		t.Errorf("msgpack err = %v, want ErrCorrupt", err)
	}
	if _, err := bundle.Decode([]byte("format: [unterminated"), bundle.YAML); !errors.Is(err, bundle.ErrCorrupt) {
		t.Errorf("yaml err = %v, want ErrCorrupt", err)
	}
	if _, err := bundle.Decode([]byte("format: 7\nkind: scoring\n"), bundle.YAML); !errors.Is(err, bundle.ErrVersion) {
		t.Errorf("version err = %v, want ErrVersion", err)
	}
}

func TestEncodingOf(t *testing.T) {
	tests := map[string]bundle.Encoding{
		"audio.msgpack": bundle.Msgpack,
		"audio.bin":     bundle.Msgpack,
		"fusion.YAML":   bundle.YAML,
		"fusion.yml":    bundle.YAML,
		"bridge.json":   bundle.YAML,
	}
	for name, want := range tests {
		if got := bundle.EncodingOf(name); got != want {
			t.Errorf("EncodingOf(%q) = %q, want %q", name, got, want)
		}
	}
}
