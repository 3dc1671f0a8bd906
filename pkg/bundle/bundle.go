// Package bundle defines the serialized model bundle consumed by the
// scoring and fusion stages.
//
// A bundle is self-describing: it records its own name, kind, version, the
// feature layout version it was fitted on and the ordered feature names it
// expects. The fitted transform is either a classifier with an optional
// companion scaler, or an ordered pipeline of named steps whose last step
// is a classifier. Intermediate steps (for example "pca") are addressable
// by name so their output can be exposed for diagnostics.
//
// Bundles are produced offline and are read-only once decoded; a decoded
// bundle is safe for concurrent use.
package bundle

import (
	"errors"
	"fmt"
	"slices"
)

// FormatVersion is the only bundle format this package reads.
const FormatVersion = 1

var (
	// ErrCorrupt is returned when a bundle cannot be deserialized or is
	// internally inconsistent.
	ErrCorrupt = errors.New("bundle: corrupt")

	// ErrVersion is returned for bundles written in an unsupported format.
	ErrVersion = errors.New("bundle: unsupported format version")

	// ErrShape is returned when an input does not have the dimension the
	// bundle was fitted on.
	ErrShape = errors.New("bundle: input shape mismatch")

	// ErrNoStep is returned when a named pipeline step does not exist.
	ErrNoStep = errors.New("bundle: no such step")
)

// Kind distinguishes first-level scoring bundles from fusion meta-models.
type Kind string

const (
	KindScoring Kind = "scoring"
	KindFusion  Kind = "fusion"
)

// Bundle is a fitted, versioned model package.
type Bundle struct {
	Format         int         `msgpack:"format" yaml:"format"`
	Name           string      `msgpack:"name" yaml:"name"`
	Kind           Kind        `msgpack:"kind" yaml:"kind"`
	Version        string      `msgpack:"version" yaml:"version"`
	FeatureVersion string      `msgpack:"feature_version,omitempty" yaml:"feature_version,omitempty"`
	FeatureNames   []string    `msgpack:"feature_names" yaml:"feature_names"`
	Scaler         *Scaler     `msgpack:"scaler,omitempty" yaml:"scaler,omitempty"`
	Model          *Classifier `msgpack:"model,omitempty" yaml:"model,omitempty"`
	Pipeline       []Step      `msgpack:"pipeline,omitempty" yaml:"pipeline,omitempty"`

	steps []Step
}

// Step is one named stage of a pipeline. Exactly one of the transform
// fields is set.
type Step struct {
	Name       string      `msgpack:"name" yaml:"name"`
	Scaler     *Scaler     `msgpack:"scaler,omitempty" yaml:"scaler,omitempty"`
	Select     *Selector   `msgpack:"select,omitempty" yaml:"select,omitempty"`
	PCA        *PCA        `msgpack:"pca,omitempty" yaml:"pca,omitempty"`
	Classifier *Classifier `msgpack:"classifier,omitempty" yaml:"classifier,omitempty"`
}

type transformer interface {
	inputDim() int
	outputDim() int
	transform(x []float64) []float64
}

func (s *Step) transformer() transformer {
	switch {
	case s.Scaler != nil:
		return s.Scaler
	case s.Select != nil:
		return s.Select
	case s.PCA != nil:
		return s.PCA
	}
	return nil
}

// Type returns the kind of transform the step holds.
func (s *Step) Type() string {
	switch {
	case s.Scaler != nil:
		return "standard_scaler"
	case s.Select != nil:
		return "select"
	case s.PCA != nil:
		return "pca"
	case s.Classifier != nil:
		return s.Classifier.Type
	}
	return "empty"
}

func (s *Step) count() int {
	n := 0
	if s.Scaler != nil {
		n++
	}
	if s.Select != nil {
		n++
	}
	if s.PCA != nil {
		n++
	}
	if s.Classifier != nil {
		n++
	}
	return n
}

// Validate checks format version and shape consistency and prepares the
// bundle for prediction. Decode calls it; bundles built in code must call
// it before use.
func (b *Bundle) Validate() error {
	if b.Format != FormatVersion {
		return fmt.Errorf("%w: %d (want %d)", ErrVersion, b.Format, FormatVersion)
	}
	if b.Kind != KindScoring && b.Kind != KindFusion {
		return fmt.Errorf("%w: unknown kind %q", ErrCorrupt, b.Kind)
	}

	var steps []Step
	switch {
	case len(b.Pipeline) > 0 && (b.Model != nil || b.Scaler != nil):
		return fmt.Errorf("%w: both pipeline and model set", ErrCorrupt)
	case len(b.Pipeline) > 0:
		steps = b.Pipeline
	case b.Model != nil:
		if b.Scaler != nil {
			steps = append(steps, Step{Name: "scaler", Scaler: b.Scaler})
		}
		steps = append(steps, Step{Name: "model", Classifier: b.Model})
	default:
		return fmt.Errorf("%w: no model or pipeline", ErrCorrupt)
	}

	names := make(map[string]bool, len(steps))
	dim := -1
	for i := range steps {
		s := &steps[i]
		if s.count() != 1 {
			return fmt.Errorf("%w: step %q must hold exactly one transform", ErrCorrupt, s.Name)
		}
		if s.Name == "" || names[s.Name] {
			return fmt.Errorf("%w: step %d has an empty or duplicate name", ErrCorrupt, i)
		}
		names[s.Name] = true

		last := i == len(steps)-1
		if (s.Classifier != nil) != last {
			return fmt.Errorf("%w: only the last step may be a classifier", ErrCorrupt)
		}

		var in, out int
		if last {
			if err := s.Classifier.prepare(); err != nil {
				return fmt.Errorf("%w: step %q: %v", ErrCorrupt, s.Name, err)
			}
			in, out = s.Classifier.inputDim(), 1
		} else {
			t := s.transformer()
			if p, ok := t.(*PCA); ok {
				if err := p.prepare(); err != nil {
					return fmt.Errorf("%w: step %q: %v", ErrCorrupt, s.Name, err)
				}
			} else if err := validateTransform(t); err != nil {
				return fmt.Errorf("%w: step %q: %v", ErrCorrupt, s.Name, err)
			}
			in, out = t.inputDim(), t.outputDim()
		}
		if dim >= 0 && in != dim {
			return fmt.Errorf("%w: step %q expects %d inputs, previous step yields %d", ErrCorrupt, s.Name, in, dim)
		}
		dim = out
	}

	b.steps = steps
	if in := b.InputDim(); len(b.FeatureNames) > 0 && len(b.FeatureNames) != in {
		return fmt.Errorf("%w: %d feature names for %d inputs", ErrCorrupt, len(b.FeatureNames), in)
	}
	return nil
}

func validateTransform(t transformer) error {
	switch v := t.(type) {
	case *Scaler:
		return v.validate()
	case *Selector:
		return v.validate()
	}
	return nil
}

func (b *Bundle) ready() error {
	if b.steps == nil {
		return fmt.Errorf("%w: bundle %q not validated", ErrCorrupt, b.Name)
	}
	return nil
}

// InputDim returns the number of features the bundle was fitted on.
func (b *Bundle) InputDim() int {
	if len(b.steps) == 0 {
		return 0
	}
	s := &b.steps[0]
	if s.Classifier != nil {
		return s.Classifier.inputDim()
	}
	return s.transformer().inputDim()
}

// Steps returns the names of the bundle's steps in order.
func (b *Bundle) Steps() []string {
	out := make([]string, len(b.steps))
	for i, s := range b.steps {
		out[i] = s.Name
	}
	return out
}

// Step returns the named step.
func (b *Bundle) Step(name string) (*Step, error) {
	i := slices.IndexFunc(b.steps, func(s Step) bool { return s.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("%w: %q in bundle %q", ErrNoStep, name, b.Name)
	}
	return &b.steps[i], nil
}

func (b *Bundle) checkInput(x []float64) error {
	if err := b.ready(); err != nil {
		return err
	}
	if want := b.InputDim(); len(x) != want {
		return fmt.Errorf("%w: bundle %q expects %d features, got %d", ErrShape, b.Name, want, len(x))
	}
	return nil
}

// TransformUntil applies the pipeline up to and including the named
// non-classifier step and returns its output.
func (b *Bundle) TransformUntil(name string, x []float64) ([]float64, error) {
	if err := b.checkInput(x); err != nil {
		return nil, err
	}
	for i := range b.steps {
		s := &b.steps[i]
		if s.Classifier != nil {
			break
		}
		x = s.transformer().transform(x)
		if s.Name == name {
			return x, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in bundle %q", ErrNoStep, name, b.Name)
}

// PredictProba returns the positive-class probability for x.
func (b *Bundle) PredictProba(x []float64) (float64, error) {
	if err := b.checkInput(x); err != nil {
		return 0, err
	}
	for i := range b.steps {
		s := &b.steps[i]
		if s.Classifier != nil {
			return s.Classifier.proba(x), nil
		}
		x = s.transformer().transform(x)
	}
	return 0, fmt.Errorf("%w: bundle %q has no classifier", ErrCorrupt, b.Name)
}
