package bundle

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Scaler standardises features: (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `msgpack:"mean" yaml:"mean"`
	Scale []float64 `msgpack:"scale" yaml:"scale"`
}

func (s *Scaler) validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler has %d means and %d scales", len(s.Mean), len(s.Scale))
	}
	return nil
}

func (s *Scaler) inputDim() int  { return len(s.Mean) }
func (s *Scaler) outputDim() int { return len(s.Mean) }

func (s *Scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out
}

// Selector keeps the features at Indices, in that order.
type Selector struct {
	InputDim int   `msgpack:"input_dim" yaml:"input_dim"`
	Indices  []int `msgpack:"indices" yaml:"indices"`
}

func (s *Selector) validate() error {
	if len(s.Indices) == 0 {
		return fmt.Errorf("selector keeps no features")
	}
	for _, i := range s.Indices {
		if i < 0 || i >= s.InputDim {
			return fmt.Errorf("selector index %d out of range [0, %d)", i, s.InputDim)
		}
	}
	return nil
}

func (s *Selector) inputDim() int  { return s.InputDim }
func (s *Selector) outputDim() int { return len(s.Indices) }

func (s *Selector) transform(x []float64) []float64 {
	out := make([]float64, len(s.Indices))
	for j, i := range s.Indices {
		out[j] = x[i]
	}
	return out
}

// PCA projects centred features onto its principal components. Components
// holds one row per component.
type PCA struct {
	Mean       []float64   `msgpack:"mean" yaml:"mean"`
	Components [][]float64 `msgpack:"components" yaml:"components"`

	basis *mat.Dense
}

func (p *PCA) prepare() error {
	if len(p.Components) == 0 || len(p.Mean) == 0 {
		return fmt.Errorf("pca has no components")
	}
	cols := len(p.Mean)
	data := make([]float64, 0, len(p.Components)*cols)
	for i, row := range p.Components {
		if len(row) != cols {
			return fmt.Errorf("pca component %d has %d values, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	p.basis = mat.NewDense(len(p.Components), cols, data)
	return nil
}

func (p *PCA) inputDim() int  { return len(p.Mean) }
func (p *PCA) outputDim() int { return len(p.Components) }

func (p *PCA) transform(x []float64) []float64 {
	centred := make([]float64, len(x))
	floats.SubTo(centred, x, p.Mean)
	var out mat.VecDense
	out.MulVec(p.basis, mat.NewVecDense(len(centred), centred))
	return out.RawVector().Data
}

// Linear is a fitted logistic-regression decision function.
type Linear struct {
	Coef      []float64 `msgpack:"coef" yaml:"coef"`
	Intercept float64   `msgpack:"intercept" yaml:"intercept"`
}

func (l *Linear) decision(x []float64) float64 {
	return floats.Dot(l.Coef, x) + l.Intercept
}

// Calibrator maps a decision value to a probability, either with a
// fitted sigmoid 1/(1+exp(A*f+B)) or by isotonic interpolation over (X, Y).
type Calibrator struct {
	Method string    `msgpack:"method" yaml:"method"`
	A      float64   `msgpack:"a,omitempty" yaml:"a,omitempty"`
	B      float64   `msgpack:"b,omitempty" yaml:"b,omitempty"`
	X      []float64 `msgpack:"x,omitempty" yaml:"x,omitempty"`
	Y      []float64 `msgpack:"y,omitempty" yaml:"y,omitempty"`
}

func (c *Calibrator) validate() error {
	switch c.Method {
	case "sigmoid":
		return nil
	case "isotonic":
		if len(c.X) == 0 || len(c.X) != len(c.Y) {
			return fmt.Errorf("isotonic calibrator has %d thresholds and %d values", len(c.X), len(c.Y))
		}
		if !sort.Float64sAreSorted(c.X) {
			return fmt.Errorf("isotonic thresholds are not sorted")
		}
		return nil
	}
	return fmt.Errorf("unknown calibration method %q", c.Method)
}

func (c *Calibrator) apply(f float64) float64 {
	if c.Method == "sigmoid" {
		return 1 / (1 + math.Exp(c.A*f+c.B))
	}
	n := len(c.X)
	switch {
	case f <= c.X[0]:
		return c.Y[0]
	case f >= c.X[n-1]:
		return c.Y[n-1]
	}
	i := sort.SearchFloat64s(c.X, f)
	x0, x1 := c.X[i-1], c.X[i]
	y0, y1 := c.Y[i-1], c.Y[i]
	if x1 == x0 {
		return y1
	}
	return y0 + (f-x0)*(y1-y0)/(x1-x0)
}

// CalibratedFold is one cross-validation fold of a calibrated classifier.
type CalibratedFold struct {
	Base       Linear     `msgpack:"base" yaml:"base"`
	Calibrator Calibrator `msgpack:"calibrator" yaml:"calibrator"`
}

// Classifier yields a positive-class probability. Type "logistic" uses
// Logistic directly; "calibrated" averages the calibrated probability of
// every fold.
type Classifier struct {
	Type     string           `msgpack:"type" yaml:"type"`
	Logistic *Linear          `msgpack:"logistic,omitempty" yaml:"logistic,omitempty"`
	Folds    []CalibratedFold `msgpack:"folds,omitempty" yaml:"folds,omitempty"`
}

func (c *Classifier) prepare() error {
	switch c.Type {
	case "logistic":
		if c.Logistic == nil || len(c.Logistic.Coef) == 0 {
			return fmt.Errorf("logistic classifier has no coefficients")
		}
	case "calibrated":
		if len(c.Folds) == 0 {
			return fmt.Errorf("calibrated classifier has no folds")
		}
		dim := len(c.Folds[0].Base.Coef)
		for i := range c.Folds {
			f := &c.Folds[i]
			if len(f.Base.Coef) == 0 || len(f.Base.Coef) != dim {
				return fmt.Errorf("fold %d has %d coefficients, want %d", i, len(f.Base.Coef), dim)
			}
			if err := f.Calibrator.validate(); err != nil {
				return fmt.Errorf("fold %d: %v", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown classifier type %q", c.Type)
	}
	return nil
}

func (c *Classifier) inputDim() int {
	if c.Type == "logistic" {
		return len(c.Logistic.Coef)
	}
	return len(c.Folds[0].Base.Coef)
}

func (c *Classifier) proba(x []float64) float64 {
	var p float64
	if c.Type == "logistic" {
		p = 1 / (1 + math.Exp(-c.Logistic.decision(x)))
	} else {
		for i := range c.Folds {
			f := &c.Folds[i]
			p += f.Calibrator.apply(f.Base.decision(x))
		}
		p /= float64(len(c.Folds))
	}
	return p
}
