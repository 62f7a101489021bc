package model

import (
	"sort"

	"github.com/pkg/errors"
)

// LogDensityFunc evaluates the log density of the target at x (on the
// unconstrained space) and writes its gradient into grad, which has the same
// length as x.
type LogDensityFunc func(x []float64, grad []float64) (float64, error)

// ExpandFunc maps a raw sampler position into the full variable space. It
// must be deterministic and return the same length for every input of a run.
type ExpandFunc func(x []float64) ([]float64, error)

// IdentityExpand is the expansion for models whose raw positions already are
// the full variable space.
func IdentityExpand(x []float64) ([]float64, error) {
	out := make([]float64, len(x))
	copy(out, x)
	return out, nil
}

// CompiledModel is an immutable description of a target distribution: its
// dimensionality, how to evaluate it, how to expand raw draws and how the
// expanded vector splits into named, shaped variables.
type CompiledModel struct {
	Name         string
	NDim         int                         // Length of a raw sampler position
	LogDensity   LogDensityFunc              // Log-density handle handed to the engine
	MakeUserData func() (interface{}, error) // Optional per-chain user data factory
	Expand       ExpandFunc                  // Raw position => expanded draw
	Vars         []VarInfo                   // Shape info: partitions the expanded draw
	Dims         map[string][]string         // Variable name => dimension labels
	Coords       map[string][]string         // Dimension name => coordinate labels
	KeepAlive    interface{}                 // Held for the lifetime of the model
}

// ExpandedLen expands the zero vector once and returns the expanded length.
func (m *CompiledModel) ExpandedLen() (int, error) {
	if m.Expand == nil {
		return 0, errors.Errorf("Model %s has no expansion function", m.Name)
	}
	out, err := m.Expand(make([]float64, m.NDim))
	if err != nil {
		return 0, errors.Wrapf(err, "Model %s could not expand the zero vector", m.Name)
	}
	return len(out), nil
}

// Var returns the shape info for the named variable.
func (m *CompiledModel) Var(name string) (VarInfo, bool) {
	for _, v := range m.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return VarInfo{}, false
}

// VarDims returns the dimension labels for a variable's own axes, falling
// back to <name>_dim_<i> for any the model does not label.
func (m *CompiledModel) VarDims(v VarInfo) []string {
	labels := m.Dims[v.Name]
	dims := make([]string, len(v.Shape))
	for i := range v.Shape {
		if i < len(labels) {
			dims[i] = labels[i]
		} else {
			dims[i] = defaultDimName(v.Name, i)
		}
	}
	return dims
}

// Check returns an error if there is a problem with the model
func (m *CompiledModel) Check() error {
	if m.NDim < 1 {
		return errors.Errorf("Model %s has dimensionality %d (must be > 0)", m.Name, m.NDim)
	}
	if m.LogDensity == nil {
		return errors.Errorf("Model %s has no log density", m.Name)
	}

	n, err := m.ExpandedLen()
	if err != nil {
		return err
	}

	names := make(map[string]bool)
	for _, v := range m.Vars {
		if e := v.Check(); e != nil {
			return errors.Wrapf(e, "Model %s has an invalid Variable %s", m.Name, v.Name)
		}
		if names[v.Name] {
			return errors.Errorf("Duplicate variable name %s", v.Name)
		}
		names[v.Name] = true
	}

	if err := checkPartition(m.Vars, n); err != nil {
		return errors.Wrapf(err, "Model %s shape info", m.Name)
	}

	for name, labels := range m.Dims {
		v, ok := m.Var(name)
		if !ok {
			return errors.Errorf("Dims given for unknown variable %s", name)
		}
		if len(labels) != len(v.Shape) {
			return errors.Errorf("Variable %s has %d axes but %d dim labels", name, len(v.Shape), len(labels))
		}
		for i, dim := range labels {
			if c, ok := m.Coords[dim]; ok && len(c) != v.Shape[i] {
				return errors.Errorf("Dim %s has %d coords but axis %d of %s has length %d", dim, len(c), i, name, v.Shape[i])
			}
		}
	}

	return nil
}

// checkPartition insures the variable slices cover [0, n) with no gaps and
// no overlaps.
func checkPartition(vars []VarInfo, n int) error {
	sorted := make([]VarInfo, len(vars))
	copy(sorted, vars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	pos := 0
	for _, v := range sorted {
		if v.Start < pos {
			return errors.Errorf("Variable %s slice [%d:%d] overlaps previous variable", v.Name, v.Start, v.End)
		}
		if v.Start > pos {
			return errors.Errorf("Gap in expanded draw at [%d:%d] before %s", pos, v.Start, v.Name)
		}
		pos = v.End
	}
	if pos != n {
		return errors.Errorf("Variables cover %d of %d expanded values", pos, n)
	}

	return nil
}
