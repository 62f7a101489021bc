package sampler

import (
	"github.com/pkg/errors"

	"github.com/CraigKelly/nutsgo/buffer"
	"github.com/CraigKelly/nutsgo/model"
	"github.com/CraigKelly/nutsgo/trace"
)

// Assemble builds the trace of a run from its buffers: one tensor per model
// variable, simple stats in the base trace and shaped stats attached after
// it is frozen. Warmup groups are filled only when saveWarmup is set.
func Assemble(m *model.CompiledModel, buf *Buffers, saveWarmup bool, attrs map[string]string) (*trace.Trace, error) {
	b, err := trace.NewBuilder(buf.Chains, buf.Tune, buf.Draws, saveWarmup)
	if err != nil {
		return nil, err
	}
	b.Coords(m.Coords)
	for k, v := range attrs {
		b.Attr(k, v)
	}

	for _, v := range m.Vars {
		if err := v.Check(); err != nil {
			return nil, errors.Wrapf(ErrSchema, "%v", err)
		}
		if v.End > buf.NExpanded {
			return nil, errors.Wrapf(ErrSchema, "Variable %s slice [%d:%d] exceeds expanded length %d", v.Name, v.Start, v.End, buf.NExpanded)
		}

		dims := m.VarDims(v)
		sampling, err := sliceVar(buf.SampleDraws, v, dims)
		if err != nil {
			return nil, err
		}

		var warmup *trace.Tensor
		if saveWarmup {
			if warmup, err = sliceVar(buf.WarmupDraws, v, dims); err != nil {
				return nil, err
			}
		}

		if err := b.AddPosterior(v.Name, dims, sampling, warmup); err != nil {
			return nil, err
		}
	}

	for _, f := range buf.Schema.Simple() {
		sampling, warmup, err := buf.StatTensors(f.Name)
		if err != nil {
			return nil, err
		}
		if err := b.AddSampleStat(f.Name, sampling, warmup); err != nil {
			return nil, err
		}
	}

	tr, err := b.Freeze()
	if err != nil {
		return nil, err
	}

	for _, f := range buf.Schema.Shaped() {
		sampling, warmup, err := buf.StatTensors(f.Name)
		if err != nil {
			return nil, err
		}
		if err := tr.AddSampleStat(f.Name, sampling, warmup); err != nil {
			return nil, err
		}
	}

	return tr, nil
}

// sliceVar copies the [Start, End) columns of a [chain, draw, expanded]
// buffer into a tensor shaped [chain, draw] + the variable's shape.
func sliceVar(src *buffer.Dense[float64], v model.VarInfo, dims []string) (*trace.Tensor, error) {
	chains, draws := src.Shape[0], src.Shape[1]

	out := make([]float64, 0, chains*draws*v.Size())
	for c := 0; c < chains; c++ {
		for d := 0; d < draws; d++ {
			for k := v.Start; k < v.End; k++ {
				x, err := src.At(c, d, k)
				if err != nil {
					return nil, errors.Wrapf(ErrSchema, "Variable %s: %v", v.Name, err)
				}
				out = append(out, x)
			}
		}
	}

	shape := append([]int{chains, draws}, v.Shape...)
	tensorDims := append([]string{trace.ChainDim, trace.DrawDim}, dims...)
	tn, err := trace.NewFloat64(tensorDims, shape, out)
	if err != nil {
		return nil, errors.Wrapf(ErrSchema, "Variable %s: %v", v.Name, err)
	}
	return tn, nil
}
