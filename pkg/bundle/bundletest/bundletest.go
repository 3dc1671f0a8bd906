// Package bundletest builds small, deterministic bundles for tests.
package bundletest

import (
	"fmt"

	"parkinson-voice/pkg/bundle"
)

// Names returns dim synthetic feature names.
func Names(dim int) []string {
	names := make([]string, dim)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	return names
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func mustValidate(b *bundle.Bundle) *bundle.Bundle {
	if err := b.Validate(); err != nil {
		panic(err)
	}
	return b
}

// Audio returns a scoring bundle with a unit scaler and a single-fold
// sigmoid-calibrated classifier over dim features whose probability
// increases with the mean feature value.
func Audio(names []string, featureVersion string) *bundle.Bundle {
	dim := len(names)
	return mustValidate(&bundle.Bundle{
		Format:         bundle.FormatVersion,
		Name:           "audio",
		Kind:           bundle.KindScoring,
		Version:        "test-audio-v1",
		FeatureVersion: featureVersion,
		FeatureNames:   names,
		Scaler:         &bundle.Scaler{Mean: fill(dim, 0), Scale: fill(dim, 1)},
		Model: &bundle.Classifier{
			Type: "calibrated",
			Folds: []bundle.CalibratedFold{{
				Base:       bundle.Linear{Coef: fill(dim, 1/float64(dim))},
				Calibrator: bundle.Calibrator{Method: "sigmoid", A: -1, B: 0},
			}},
		},
	})
}

// Bridge returns a pipeline bundle (scaler, pca, clf) projecting dim
// features onto the first k coordinates.
func Bridge(names []string, featureVersion string, k int) *bundle.Bundle {
	dim := len(names)
	components := make([][]float64, k)
	for i := range components {
		row := make([]float64, dim)
		row[i%dim] = 1
		components[i] = row
	}
	return mustValidate(&bundle.Bundle{
		Format:         bundle.FormatVersion,
		Name:           "bridge",
		Kind:           bundle.KindScoring,
		Version:        "test-bridge-v1",
		FeatureVersion: featureVersion,
		FeatureNames:   names,
		Pipeline: []bundle.Step{
			{Name: "scaler", Scaler: &bundle.Scaler{Mean: fill(dim, 0), Scale: fill(dim, 1)}},
			{Name: "pca", PCA: &bundle.PCA{Mean: fill(dim, 0), Components: components}},
			{Name: "clf", Classifier: &bundle.Classifier{
				Type:     "logistic",
				Logistic: &bundle.Linear{Coef: fill(k, 0.1)},
			}},
		},
	})
}

// Fusion returns a logistic meta-model over the given input names.
// Every input has weight 4 and the intercept is -2 per input, so equal
// inputs of 0.5 give exactly 0.5.
func Fusion(names ...string) *bundle.Bundle {
	if len(names) == 0 {
		names = []string{"p_tab_like_from_pca22", "p_audio_full"}
	}
	return mustValidate(&bundle.Bundle{
		Format:       bundle.FormatVersion,
		Name:         "fusion",
		Kind:         bundle.KindFusion,
		Version:      "test-fusion-v1",
		FeatureNames: names,
		Model: &bundle.Classifier{
			Type:     "logistic",
			Logistic: &bundle.Linear{Coef: fill(len(names), 4), Intercept: -2 * float64(len(names))},
		},
	})
}
