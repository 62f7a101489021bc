package sampler

import (
	"github.com/pkg/errors"

	"github.com/CraigKelly/nutsgo/trace"
)

// UnconstrainedDim names the extra axis of the vector valued stats. Its
// length is the model dimensionality.
const UnconstrainedDim = "unconstrained_parameter"

// StatField describes one per-draw statistic. Dims lists its axes beyond
// chain and draw; enabled is nil for stats every run records.
type StatField struct {
	Name    string
	Dims    []string
	Kind    trace.Kind
	enabled func(*Settings) bool
}

// Simple reports whether the stat has no axes beyond chain and draw.
func (f StatField) Simple() bool {
	return len(f.Dims) == 0
}

var statFields = []StatField{
	{Name: "index_in_trajectory", Kind: trace.Int64},
	{Name: "mean_tree_accept", Kind: trace.Float64},
	{Name: "depth", Kind: trace.Int64},
	{Name: "maxdepth_reached", Kind: trace.Bool},
	{Name: "logp", Kind: trace.Float64},
	{Name: "energy", Kind: trace.Float64},
	{Name: "diverging", Kind: trace.Bool},
	{Name: "step_size", Kind: trace.Float64},
	{Name: "step_size_bar", Kind: trace.Float64},
	{Name: "n_steps", Kind: trace.Int64},

	{
		Name: "mass_matrix_inv", Dims: []string{UnconstrainedDim}, Kind: trace.Float64,
		enabled: func(s *Settings) bool { return s.StoreMassMatrix },
	},
	{
		Name: "gradient", Dims: []string{UnconstrainedDim}, Kind: trace.Float64,
		enabled: func(s *Settings) bool { return s.StoreGradient },
	},
	{
		Name: "divergence_start", Dims: []string{UnconstrainedDim}, Kind: trace.Float64,
		enabled: func(s *Settings) bool { return s.StoreDivergences },
	},
	{
		Name: "divergence_end", Dims: []string{UnconstrainedDim}, Kind: trace.Float64,
		enabled: func(s *Settings) bool { return s.StoreDivergences },
	},
	{
		Name: "unconstrained_draw", Dims: []string{UnconstrainedDim}, Kind: trace.Float64,
		enabled: func(s *Settings) bool { return s.StoreUnconstrained },
	},
}

// ResolvedStat is a StatField with the lengths of its extra axes bound.
type ResolvedStat struct {
	StatField
	Shape []int
}

// StatSchema is the fixed list of stats one run records.
type StatSchema struct {
	Fields []ResolvedStat
	NDim   int
}

// ResolveStats computes the stats recorded by a run with the given settings
// on a model of dimensionality ndim.
func ResolveStats(s *Settings, ndim int) (*StatSchema, error) {
	if s == nil {
		return nil, errors.Wrapf(ErrConfig, "No settings")
	}
	if ndim < 1 {
		return nil, errors.Wrapf(ErrSchema, "Invalid dimensionality %d", ndim)
	}

	dimLen := map[string]int{
		UnconstrainedDim: ndim,
	}

	schema := &StatSchema{NDim: ndim}
	for _, f := range statFields {
		if f.enabled != nil && !f.enabled(s) {
			continue
		}
		shape := make([]int, len(f.Dims))
		for i, d := range f.Dims {
			shape[i] = dimLen[d]
		}
		schema.Fields = append(schema.Fields, ResolvedStat{StatField: f, Shape: shape})
	}

	return schema, nil
}

// Field looks up a stat by name.
func (s *StatSchema) Field(name string) (ResolvedStat, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ResolvedStat{}, false
}

// Simple returns the stats without extra axes.
func (s *StatSchema) Simple() []ResolvedStat {
	out := []ResolvedStat{}
	for _, f := range s.Fields {
		if f.Simple() {
			out = append(out, f)
		}
	}
	return out
}

// Shaped returns the stats with extra axes.
func (s *StatSchema) Shaped() []ResolvedStat {
	out := []ResolvedStat{}
	for _, f := range s.Fields {
		if !f.Simple() {
			out = append(out, f)
		}
	}
	return out
}

// Size is the number of values one draw contributes to the stat.
func (f ResolvedStat) Size() int {
	n := 1
	for _, l := range f.Shape {
		n *= l
	}
	return n
}
