package model

import (
	"bytes"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Transform names accepted for a variable in a model file.
const (
	TransformNone = "none"
	TransformLog  = "log"
)

// GaussianVar is one variable of a model file. Mean and Sigma describe the
// independent normal prior of each element on the unconstrained scale; with
// the log transform the expanded (constrained) value is exp of that.
type GaussianVar struct {
	Name      string   `yaml:"name"`
	Shape     []int    `yaml:"shape"`
	Dims      []string `yaml:"dims"`
	Mean      float64  `yaml:"mean"`
	Sigma     float64  `yaml:"sigma"`
	Transform string   `yaml:"transform"`
}

// GaussianDoc is the YAML document describing a model.
type GaussianDoc struct {
	Name      string              `yaml:"name"`
	Variables []GaussianVar       `yaml:"variables"`
	Coords    map[string][]string `yaml:"coords"`
}

// NewModelFromFile reads and compiles the model file at filename. The model
// is named after the file when the document has no name.
func NewModelFromFile(filename string) (*CompiledModel, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ model from %s", filename)
	}

	m, err := ReadModel(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Model file %s", filename)
	}

	if len(m.Name) < 1 {
		ext := filepath.Ext(filename)
		m.Name = filepath.Base(filename[0 : len(filename)-len(ext)])
	}

	return m, nil
}

// ReadModel parses a YAML model document and compiles it.
func ReadModel(data []byte) (*CompiledModel, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	doc := &GaussianDoc{}
	if err := dec.Decode(doc); err != nil {
		return nil, errors.Wrapf(err, "Could not PARSE model")
	}

	m, err := doc.Compile()
	if err != nil {
		return nil, err
	}

	if err := m.Check(); err != nil {
		return nil, errors.Wrapf(err, "Parsed model is not valid")
	}
	return m, nil
}

// Compile builds the log density, expansion and shape info the document describes.
func (s *GaussianDoc) Compile() (*CompiledModel, error) {
	if len(s.Variables) < 1 {
		return nil, errors.Errorf("Model %s has no variables", s.Name)
	}

	vars := make([]VarInfo, 0, len(s.Variables))
	dims := make(map[string][]string)
	means := []float64{}
	sigmas := []float64{}
	logged := []bool{}

	pos := 0
	for _, gv := range s.Variables {
		if gv.Sigma <= 0 {
			return nil, errors.Errorf("Variable %s has sigma %f (must be > 0)", gv.Name, gv.Sigma)
		}

		isLog := false
		switch gv.Transform {
		case "", TransformNone:
		case TransformLog:
			isLog = true
		default:
			return nil, errors.Errorf("Variable %s has unknown transform %s", gv.Name, gv.Transform)
		}

		v, err := NewVarInfo(gv.Name, pos, gv.Shape...)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
		if len(gv.Dims) > 0 {
			dims[gv.Name] = gv.Dims
		}

		for i := 0; i < v.Size(); i++ {
			means = append(means, gv.Mean)
			sigmas = append(sigmas, gv.Sigma)
			logged = append(logged, isLog)
		}
		pos = v.End
	}

	logNorm := 0.5 * math.Log(2*math.Pi)
	logp := func(x []float64, grad []float64) (float64, error) {
		if len(x) != len(means) {
			return 0, errors.Errorf("Position has length %d, model has %d", len(x), len(means))
		}
		var lp float64
		for i, xi := range x {
			z := (xi - means[i]) / sigmas[i]
			lp -= 0.5*z*z + math.Log(sigmas[i]) + logNorm
			if grad != nil {
				grad[i] = -z / sigmas[i]
			}
		}
		return lp, nil
	}

	expand := func(x []float64) ([]float64, error) {
		if len(x) != len(means) {
			return nil, errors.Errorf("Position has length %d, model has %d", len(x), len(means))
		}
		out := make([]float64, len(x))
		for i, xi := range x {
			if logged[i] {
				out[i] = math.Exp(xi)
			} else {
				out[i] = xi
			}
		}
		return out, nil
	}

	return &CompiledModel{
		Name:       s.Name,
		NDim:       len(means),
		LogDensity: logp,
		Expand:     expand,
		Vars:       vars,
		Dims:       dims,
		Coords:     s.Coords,
		KeepAlive:  s,
	}, nil
}
