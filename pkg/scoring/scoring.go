// Package scoring turns feature vectors into probabilities using decoded
// bundles. AudioStage and Bridge score the full feature vector
// independently; Fusion combines their outputs into the final label.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/models"
)

// ErrFeatureShapeMismatch is returned when a vector does not match the
// layout a bundle was fitted on. Vectors are never padded or truncated.
var ErrFeatureShapeMismatch = errors.New("feature shape mismatch")

// DefaultReduceStep is the pipeline step whose output the bridge exposes.
const DefaultReduceStep = "pca"

func checkVector(b *bundle.Bundle, vec models.FeatureVector) error {
	if b.FeatureVersion != "" && vec.Version != b.FeatureVersion {
		return fmt.Errorf("%w: bundle %q fitted on feature layout %q, got %q",
			ErrFeatureShapeMismatch, b.Name, b.FeatureVersion, vec.Version)
	}
	if want := b.InputDim(); vec.Len() != want {
		return fmt.Errorf("%w: bundle %q expects %d features, got %d",
			ErrFeatureShapeMismatch, b.Name, want, vec.Len())
	}
	if len(b.FeatureNames) > 0 && len(vec.Names) > 0 {
		if len(vec.Names) != len(b.FeatureNames) {
			return fmt.Errorf("%w: bundle %q has %d feature names, vector has %d",
				ErrFeatureShapeMismatch, b.Name, len(b.FeatureNames), len(vec.Names))
		}
		for i, name := range b.FeatureNames {
			if vec.Names[i] != name {
				return fmt.Errorf("%w: bundle %q feature %d is %q, vector has %q",
					ErrFeatureShapeMismatch, b.Name, i, name, vec.Names[i])
			}
		}
	}
	return nil
}

// probability maps bundle shape errors to ErrFeatureShapeMismatch and
// rejects non-finite outputs before clamping to [0, 1].
func probability(b *bundle.Bundle, p float64, err error) (float64, error) {
	if err != nil {
		if errors.Is(err, bundle.ErrShape) {
			return 0, fmt.Errorf("%w: %w", ErrFeatureShapeMismatch, err)
		}
		return 0, err
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("scoring: bundle %q produced non-finite probability %v", b.Name, p)
	}
	return min(max(p, 0), 1), nil
}

// AudioStage scores the full feature vector with a scaler and calibrated
// classifier.
type AudioStage struct {
	Bundle *bundle.Bundle
}

func (s AudioStage) Score(vec models.FeatureVector) (float64, error) {
	if err := checkVector(s.Bundle, vec); err != nil {
		return 0, err
	}
	p, err := s.Bundle.PredictProba(vec.Values)
	return probability(s.Bundle, p, err)
}

// BridgeScore is the bridge probability and the reduced representation it
// was computed from.
type BridgeScore struct {
	P       float64
	Reduced []float64
}

// Bridge scores the feature vector through a dimensionality-reducing
// pipeline and exposes the output of ReduceStep.
type Bridge struct {
	Bundle     *bundle.Bundle
	ReduceStep string
}

func (s Bridge) Score(vec models.FeatureVector) (BridgeScore, error) {
	if err := checkVector(s.Bundle, vec); err != nil {
		return BridgeScore{}, err
	}
	step := s.ReduceStep
	if step == "" {
		step = DefaultReduceStep
	}
	reduced, err := s.Bundle.TransformUntil(step, vec.Values)
	if err != nil {
		if errors.Is(err, bundle.ErrShape) {
			return BridgeScore{}, fmt.Errorf("%w: %w", ErrFeatureShapeMismatch, err)
		}
		return BridgeScore{}, err
	}
	p, err := s.Bundle.PredictProba(vec.Values)
	if p, err = probability(s.Bundle, p, err); err != nil {
		return BridgeScore{}, err
	}
	return BridgeScore{P: p, Reduced: reduced}, nil
}
