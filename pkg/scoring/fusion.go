package scoring

import (
	"fmt"
	"strings"

	"parkinson-voice/pkg/bundle"
	"parkinson-voice/pkg/models"
)

// Threshold is the fused probability at or above which the label is
// LabelParkinson.
const Threshold = 0.5

type input int

const (
	inputAudio input = iota
	inputBridge
	inputAge
	inputSex
)

// aliases maps the column names meta-models have been fitted with to the
// value that fills them.
var aliases = map[string]input{
	"p_audio_full": inputAudio,
	"audio_proba":  inputAudio,
	"audio_prob":   inputAudio,
	"p_audio":      inputAudio,

	"p_tab_like_from_pca22": inputBridge,
	"pca22_proba":           inputBridge,
	"bridge_proba":          inputBridge,
	"p_bridge":              inputBridge,
	"tabular_proba":         inputBridge,

	"age": inputAge,
	"sex": inputSex,
}

// Fusion combines the audio and bridge probabilities, and any covariates
// the meta-model was fitted with, into a single probability.
type Fusion struct {
	Bundle *bundle.Bundle
}

// Row assembles the meta-model input in the order of the bundle's
// feature names.
func (f Fusion) Row(pAudio, pBridge float64, cov *models.Covariates) ([]float64, error) {
	names := f.Bundle.FeatureNames
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: fusion bundle %q records no feature names", ErrFeatureShapeMismatch, f.Bundle.Name)
	}
	row := make([]float64, len(names))
	for i, name := range names {
		in, ok := aliases[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%w: fusion bundle %q wants unknown input %q", ErrFeatureShapeMismatch, f.Bundle.Name, name)
		}
		switch in {
		case inputAudio:
			row[i] = pAudio
		case inputBridge:
			row[i] = pBridge
		case inputAge:
			if cov == nil || cov.Age == nil {
				return nil, fmt.Errorf("%w: fusion bundle %q requires age", ErrFeatureShapeMismatch, f.Bundle.Name)
			}
			row[i] = *cov.Age
		case inputSex:
			v, ok := encodeSex(cov)
			if !ok {
				return nil, fmt.Errorf("%w: fusion bundle %q requires sex", ErrFeatureShapeMismatch, f.Bundle.Name)
			}
			row[i] = v
		}
	}
	return row, nil
}

// encodeSex maps male to 1 and female to 0.
func encodeSex(cov *models.Covariates) (float64, bool) {
	if cov == nil {
		return 0, false
	}
	s := strings.ToLower(strings.TrimSpace(cov.Sex))
	switch {
	case strings.HasPrefix(s, "m"):
		return 1, true
	case strings.HasPrefix(s, "f"):
		return 0, true
	}
	return 0, false
}

// Fuse returns the label and fused probability.
func (f Fusion) Fuse(pAudio, pBridge float64, cov *models.Covariates) (models.Label, float64, error) {
	row, err := f.Row(pAudio, pBridge, cov)
	if err != nil {
		return "", 0, err
	}
	p, err := f.Bundle.PredictProba(row)
	if p, err = probability(f.Bundle, p, err); err != nil {
		return "", 0, err
	}
	return Classify(p), p, nil
}

// Classify thresholds a fused probability.
func Classify(p float64) models.Label {
	if p >= Threshold {
		return models.LabelParkinson
	}
	return models.LabelHealthy
}

// Summary describes a fused probability in words. The bands are a
// presentation policy for end users and carry no statistical meaning
// beyond the probability itself.
func Summary(p float64) string {
	switch {
	case p < 0.40:
		return "Voice patterns appear stable, with no notable irregularities."
	case p < 0.65:
		return "Voice patterns show mild irregularities. Consider a follow-up recording."
	default:
		return "Voice patterns show significant variation. Consulting a clinician is recommended."
	}
}
