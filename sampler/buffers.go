package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/nutsgo/buffer"
	"github.com/CraigKelly/nutsgo/trace"
)

// statBuffer holds one stat for one phase, shaped [chain, draw] + stat shape.
// Only the array matching the stat's kind is allocated.
type statBuffer struct {
	field ResolvedStat
	f     *buffer.Dense[float64]
	i     *buffer.Dense[int64]
	b     *buffer.Dense[bool]
}

func newStatBuffer(field ResolvedStat, chains, draws int) (*statBuffer, error) {
	shape := append([]int{chains, draws}, field.Shape...)
	sb := &statBuffer{field: field}

	var err error
	switch field.Kind {
	case trace.Float64:
		sb.f, err = buffer.NewNaN(shape...)
	case trace.Int64:
		sb.i, err = buffer.NewDense[int64](0, shape...)
	case trace.Bool:
		sb.b, err = buffer.NewDense(false, shape...)
	default:
		err = errors.Errorf("Unknown kind %v", field.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Stat buffer %s", field.Name)
	}
	return sb, nil
}

// coerce checks a raw stat value against the field and normalizes it to the
// field's storage type ([]float64, float64, int64 or bool).
func (sb *statBuffer) coerce(v interface{}) (interface{}, error) {
	f := sb.field
	if !f.Simple() {
		vec, ok := v.([]float64)
		if !ok {
			return nil, errors.Wrapf(ErrSchema, "Stat %s must be []float64, got %T", f.Name, v)
		}
		if len(vec) != f.Size() {
			return nil, errors.Wrapf(ErrSchema, "Stat %s has length %d, expected %d", f.Name, len(vec), f.Size())
		}
		return vec, nil
	}

	switch f.Kind {
	case trace.Float64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
	case trace.Int64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case uint64:
			if x <= math.MaxInt64 {
				return int64(x), nil
			}
		}
	case trace.Bool:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	}
	return nil, errors.Wrapf(ErrSchema, "Stat %s must be %v, got %v (%T)", f.Name, f.Kind, v, v)
}

// put writes a value previously returned by coerce.
func (sb *statBuffer) put(chain, draw int, v interface{}) error {
	switch x := v.(type) {
	case []float64:
		row, err := sb.f.Row(chain, draw)
		if err != nil {
			return err
		}
		copy(row, x)
		return nil
	case float64:
		return sb.f.Set(x, chain, draw)
	case int64:
		return sb.i.Set(x, chain, draw)
	case bool:
		return sb.b.Set(x, chain, draw)
	}
	return errors.Errorf("Unexpected stat value %T", v)
}

func (sb *statBuffer) tensor() (*trace.Tensor, error) {
	dims := append([]string{trace.ChainDim, trace.DrawDim}, sb.field.Dims...)
	switch sb.field.Kind {
	case trace.Int64:
		return trace.NewInt64(dims, sb.i.Shape, sb.i.Data)
	case trace.Bool:
		return trace.NewBool(dims, sb.b.Shape, sb.b.Data)
	}
	return trace.NewFloat64(dims, sb.f.Shape, sb.f.Data)
}

// Buffers are the dense accumulation arrays of a run, one set for warmup
// and one for sampling, plus the running diagnostics.
type Buffers struct {
	Chains    int
	Tune      int
	Draws     int
	NExpanded int
	Schema    *StatSchema

	WarmupDraws *buffer.Dense[float64] // [chain, tune, NExpanded]
	SampleDraws *buffer.Dense[float64] // [chain, draws, NExpanded]

	warmupStats map[string]*statBuffer
	sampleStats map[string]*statBuffer

	ChainsTuning int  // Chains that have not yet reported draw tune-1
	Divergences  int  // Diverging draws with index >= tune
	Consumed     int  // Draws applied
	Interrupted  bool // Consumption stopped by cancellation

	next []int // Next expected draw index per chain
}

// NewBuffers allocates buffers for a run. Every slot starts at its fill
// value.
func NewBuffers(schema *StatSchema, chains, tune, draws, nExpanded int) (*Buffers, error) {
	if schema == nil {
		return nil, errors.Wrapf(ErrSchema, "No stat schema")
	}
	if chains < 1 || tune < 0 || draws < 0 || nExpanded < 0 {
		return nil, errors.Wrapf(ErrConfig, "Invalid run size chains=%d tune=%d draws=%d expanded=%d", chains, tune, draws, nExpanded)
	}

	b := &Buffers{
		Chains:      chains,
		Tune:        tune,
		Draws:       draws,
		NExpanded:   nExpanded,
		Schema:      schema,
		warmupStats: make(map[string]*statBuffer),
		sampleStats: make(map[string]*statBuffer),
		next:        make([]int, chains),
	}
	if tune > 0 {
		b.ChainsTuning = chains
	}

	var err error
	if b.WarmupDraws, err = buffer.NewNaN(chains, tune, nExpanded); err != nil {
		return nil, err
	}
	if b.SampleDraws, err = buffer.NewNaN(chains, draws, nExpanded); err != nil {
		return nil, err
	}

	for _, f := range schema.Fields {
		if b.warmupStats[f.Name], err = newStatBuffer(f, chains, tune); err != nil {
			return nil, err
		}
		if b.sampleStats[f.Name], err = newStatBuffer(f, chains, draws); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Total is the number of draws a complete run delivers.
func (b *Buffers) Total() int {
	return b.Chains * (b.Tune + b.Draws)
}

// Apply records one draw whose position was expanded to expanded. Each
// chain must deliver its draws in order starting at 0. The draw is validated
// in full before anything is written, so a failing draw leaves the buffers
// untouched.
func (b *Buffers) Apply(d *Draw, expanded []float64) error {
	if d.Chain < 0 || d.Chain >= b.Chains {
		return errors.Wrapf(ErrSchema, "Chain %d out of range [0, %d)", d.Chain, b.Chains)
	}
	if d.Index < 0 || d.Index >= b.Tune+b.Draws {
		return errors.Wrapf(ErrSchema, "Draw %d of chain %d out of range [0, %d)", d.Index, d.Chain, b.Tune+b.Draws)
	}
	if d.Index != b.next[d.Chain] {
		return errors.Wrapf(ErrSchema, "Chain %d delivered draw %d, expected %d", d.Chain, d.Index, b.next[d.Chain])
	}
	if len(expanded) != b.NExpanded {
		return errors.Wrapf(ErrSchema, "Expanded draw has length %d, expected %d", len(expanded), b.NExpanded)
	}

	dest, stats, draw := b.SampleDraws, b.sampleStats, d.Index-b.Tune
	if d.Index < b.Tune {
		dest, stats, draw = b.WarmupDraws, b.warmupStats, d.Index
	}

	values := make(map[string]interface{}, len(stats))
	for name, sb := range stats {
		raw, present := d.Info[name]
		if !present {
			continue
		}
		v, err := sb.coerce(raw)
		if err != nil {
			return errors.Wrapf(err, "Chain %d draw %d", d.Chain, d.Index)
		}
		values[name] = v
	}

	row, err := dest.Row(d.Chain, draw)
	if err != nil {
		return err
	}
	copy(row, expanded)

	for name, v := range values {
		if err := stats[name].put(d.Chain, draw, v); err != nil {
			return errors.Wrapf(err, "Stat %s", name)
		}
	}

	if b.Tune > 0 && d.Index == b.Tune-1 {
		b.ChainsTuning--
	}
	if d.Diverging && d.Index >= b.Tune {
		b.Divergences++
	}
	b.next[d.Chain]++
	b.Consumed++

	return nil
}

// StatTensors returns the stat of the given name for both phases.
func (b *Buffers) StatTensors(name string) (sampling *trace.Tensor, warmup *trace.Tensor, err error) {
	sb, ok := b.sampleStats[name]
	if !ok {
		return nil, nil, errors.Errorf("No stat %s", name)
	}
	if sampling, err = sb.tensor(); err != nil {
		return nil, nil, err
	}
	if warmup, err = b.warmupStats[name].tensor(); err != nil {
		return nil, nil, err
	}
	return sampling, warmup, nil
}
