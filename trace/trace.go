// Package trace holds the labeled result of a sampling run: posterior
// variable tensors and per-draw sampler statistics, each split into a
// warmup and a sampling partition, plus coordinate metadata.
package trace

import (
	"sort"

	"github.com/pkg/errors"
)

// Names of the two leading axes every tensor in a Trace carries.
const (
	ChainDim = "chain"
	DrawDim  = "draw"
)

// Group maps a variable or statistic name to its tensor.
type Group map[string]*Tensor

// Names returns the group's keys in sorted order.
func (g Group) Names() []string {
	names := make([]string, 0, len(g))
	for n := range g {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Trace is the frozen output of a run. The only change allowed after
// Freeze is attaching extra shaped statistics with AddSampleStat.
type Trace struct {
	Posterior         Group
	WarmupPosterior   Group
	SampleStats       Group
	WarmupSampleStats Group

	Coords map[string][]string // Dimension name => coordinate labels
	Dims   map[string][]string // Variable name => labels of its own axes

	Chains     int
	Draws      int
	Tune       int
	SaveWarmup bool // True when the warmup groups are populated

	Attrs map[string]string
}

// AddSampleStat attaches a statistic after the trace was built. The warmup
// tensor is only stored when the trace keeps warmup, and is ignored
// otherwise.
func (t *Trace) AddSampleStat(name string, sampling *Tensor, warmup *Tensor) error {
	if _, found := t.SampleStats[name]; found {
		return errors.Errorf("Sample stat %s already present", name)
	}
	if err := checkLeading(sampling, t.Chains, t.Draws); err != nil {
		return errors.Wrapf(err, "Sample stat %s", name)
	}

	if t.SaveWarmup {
		if warmup == nil {
			return errors.Errorf("Sample stat %s needs a warmup tensor", name)
		}
		if err := checkLeading(warmup, t.Chains, t.Tune); err != nil {
			return errors.Wrapf(err, "Warmup sample stat %s", name)
		}
		t.WarmupSampleStats[name] = warmup
	}

	t.SampleStats[name] = sampling
	return nil
}

func checkLeading(tn *Tensor, chains int, draws int) error {
	if tn == nil {
		return errors.Errorf("Missing tensor")
	}
	if len(tn.Shape) < 2 || tn.Dims[0] != ChainDim || tn.Dims[1] != DrawDim {
		return errors.Errorf("Tensor dims %v must start with %s, %s", tn.Dims, ChainDim, DrawDim)
	}
	if tn.Shape[0] != chains || tn.Shape[1] != draws {
		return errors.Errorf("Tensor shape %v does not match [%d %d ...]", tn.Shape, chains, draws)
	}
	return nil
}

// Builder accumulates the groups of a Trace and freezes them once.
type Builder struct {
	trace  *Trace
	frozen bool
}

// NewBuilder starts a trace for the given run size.
func NewBuilder(chains, tune, draws int, saveWarmup bool) (*Builder, error) {
	if chains < 1 || tune < 0 || draws < 0 {
		return nil, errors.Errorf("Invalid trace size chains=%d tune=%d draws=%d", chains, tune, draws)
	}

	return &Builder{
		trace: &Trace{
			Posterior:         make(Group),
			WarmupPosterior:   make(Group),
			SampleStats:       make(Group),
			WarmupSampleStats: make(Group),
			Coords:            make(map[string][]string),
			Dims:              make(map[string][]string),
			Chains:            chains,
			Draws:             draws,
			Tune:              tune,
			SaveWarmup:        saveWarmup,
			Attrs:             make(map[string]string),
		},
	}, nil
}

// Coords copies coordinate labels into the trace.
func (b *Builder) Coords(coords map[string][]string) *Builder {
	for dim, labels := range coords {
		b.trace.Coords[dim] = append([]string(nil), labels...)
	}
	return b
}

// Attr sets a trace attribute.
func (b *Builder) Attr(key, value string) *Builder {
	b.trace.Attrs[key] = value
	return b
}

// AddPosterior adds a variable. dims are the labels of the variable's own
// axes (the chain and draw axes are implied and must lead both tensors).
func (b *Builder) AddPosterior(name string, dims []string, sampling *Tensor, warmup *Tensor) error {
	if err := b.add(b.trace.Posterior, b.trace.WarmupPosterior, name, sampling, warmup); err != nil {
		return errors.Wrapf(err, "Posterior variable %s", name)
	}
	b.trace.Dims[name] = append([]string(nil), dims...)
	return nil
}

// AddSampleStat adds a statistic to the base trace.
func (b *Builder) AddSampleStat(name string, sampling *Tensor, warmup *Tensor) error {
	if err := b.add(b.trace.SampleStats, b.trace.WarmupSampleStats, name, sampling, warmup); err != nil {
		return errors.Wrapf(err, "Sample stat %s", name)
	}
	return nil
}

func (b *Builder) add(main Group, warm Group, name string, sampling *Tensor, warmup *Tensor) error {
	if b.frozen {
		return errors.Errorf("Trace already frozen")
	}
	if _, found := main[name]; found {
		return errors.Errorf("Duplicate name")
	}
	if err := checkLeading(sampling, b.trace.Chains, b.trace.Draws); err != nil {
		return err
	}
	if b.trace.SaveWarmup {
		if err := checkLeading(warmup, b.trace.Chains, b.trace.Tune); err != nil {
			return errors.Wrapf(err, "warmup")
		}
		warm[name] = warmup
	}
	main[name] = sampling
	return nil
}

// Freeze returns the finished trace. The builder can not be used afterwards.
func (b *Builder) Freeze() (*Trace, error) {
	if b.frozen {
		return nil, errors.Errorf("Trace already frozen")
	}
	b.frozen = true
	return b.trace, nil
}
