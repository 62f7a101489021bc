package sampler

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/model"
)

// fakeEngine replays a fixed list of draws.
type fakeEngine struct {
	draws       []*Draw
	pos         int
	endErr      error // Returned instead of io.EOF when set
	finalizeErr error
	finalized   int

	cancelAfter int // Call cancel once this many draws were handed out
	cancel      context.CancelFunc
}

func (e *fakeEngine) Next(ctx context.Context) (*Draw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.pos >= len(e.draws) {
		if e.endErr != nil {
			return nil, e.endErr
		}
		return nil, io.EOF
	}
	d := e.draws[e.pos]
	e.pos++
	if e.cancel != nil && e.pos == e.cancelAfter {
		e.cancel()
	}
	return d, nil
}

func (e *fakeEngine) Finalize() error {
	e.finalized++
	return e.finalizeErr
}

// testModel is a two element variable x with identity expansion.
func testModel(t *testing.T) *model.CompiledModel {
	v, err := model.NewVarInfo("x", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	m := &model.CompiledModel{
		Name: "test",
		NDim: 2,
		LogDensity: func(x []float64, grad []float64) (float64, error) {
			var lp float64
			for i, xi := range x {
				lp -= 0.5 * xi * xi
				grad[i] = -xi
			}
			return lp, nil
		},
		Expand: model.IdentityExpand,
		Vars:   []model.VarInfo{v},
		Dims:   map[string][]string{"x": {"side"}},
		Coords: map[string][]string{"side": {"left", "right"}},
	}
	if err := m.Check(); err != nil {
		t.Fatal(err)
	}
	return m
}

func baseInfo(index int, diverging bool) Stats {
	return Stats{
		"index_in_trajectory": int64(index),
		"mean_tree_accept":    0.5,
		"depth":               int64(2),
		"maxdepth_reached":    false,
		"logp":                -float64(index),
		"energy":              float64(index),
		"diverging":           diverging,
		"step_size":           0.1,
		"step_size_bar":       0.2,
		"n_steps":             int64(3),
	}
}

// makeDraws builds the draws of a run, interleaving chains draw by draw.
// Chain c, draw i is at position {100c+i, -(100c+i)}.
func makeDraws(chains, total int, diverge func(c, i int) bool) []*Draw {
	out := []*Draw{}
	for i := 0; i < total; i++ {
		for c := 0; c < chains; c++ {
			div := diverge != nil && diverge(c, i)
			v := float64(100*c + i)
			out = append(out, &Draw{
				Chain:     c,
				Index:     i,
				Position:  []float64{v, -v},
				Info:      baseInfo(i, div),
				Diverging: div,
			})
		}
	}
	return out
}

func testBuffers(t *testing.T, s *Settings, chains, tune, draws int) *Buffers {
	schema, err := ResolveStats(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := NewBuffers(schema, chains, tune, draws, 2)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestConsumerScenario(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	m := testModel(t)
	buf := testBuffers(t, s, 2, 3, 2)

	eng := &fakeEngine{
		draws: makeDraws(2, 5, func(c, i int) bool {
			return i == 1 || (c == 0 && i == 4)
		}),
	}

	tuning := []int{}
	c := NewConsumer(m, buf, zap.NewNop(), func(p Progress) error {
		tuning = append(tuning, p.ChainsTuning)
		assert.Equal(10, p.Total)
		return nil
	})

	assert.NoError(c.Run(context.Background(), eng))
	assert.Equal(1, eng.finalized)
	assert.NoError(c.FinalizeErr)

	assert.Equal(10, buf.Consumed)
	assert.Equal(0, buf.ChainsTuning)
	assert.Equal(1, buf.Divergences)
	assert.False(buf.Interrupted)
	assert.Equal([]int{2, 2, 2, 2, 1, 0, 0, 0, 0, 0}, tuning)

	assert.Equal([]int{2, 3, 2}, buf.WarmupDraws.Shape)
	assert.Equal([]int{2, 2, 2}, buf.SampleDraws.Shape)

	v, err := buf.WarmupDraws.At(1, 2, 0)
	assert.NoError(err)
	assert.Equal(102.0, v)
	v, err = buf.SampleDraws.At(1, 0, 0)
	assert.NoError(err)
	assert.Equal(103.0, v)
	v, err = buf.SampleDraws.At(0, 1, 1)
	assert.NoError(err)
	assert.Equal(-4.0, v)

	sampling, warmup, err := buf.StatTensors("diverging")
	assert.NoError(err)
	div, err := sampling.BoolAt(0, 1)
	assert.NoError(err)
	assert.True(div)
	div, err = warmup.BoolAt(1, 1)
	assert.NoError(err)
	assert.True(div)
	div, err = sampling.BoolAt(1, 1)
	assert.NoError(err)
	assert.False(div)
}

func TestConsumerCancel(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	m := testModel(t)
	buf := testBuffers(t, s, 2, 3, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &fakeEngine{
		draws:       makeDraws(2, 5, nil),
		cancelAfter: 4,
		cancel:      cancel,
	}

	c := NewConsumer(m, buf, nil, nil)
	assert.NoError(c.Run(ctx, eng))
	assert.Equal(1, eng.finalized)
	assert.True(buf.Interrupted)
	assert.Equal(4, buf.Consumed)
	assert.Equal(2, buf.ChainsTuning)

	// Delivered: draws 0 and 1 of both chains
	v, _ := buf.WarmupDraws.At(1, 1, 0)
	assert.Equal(101.0, v)
	v, _ = buf.WarmupDraws.At(0, 2, 0)
	assert.True(math.IsNaN(v))
	for _, x := range buf.SampleDraws.Data {
		assert.True(math.IsNaN(x))
	}

	sampling, warmup, err := buf.StatTensors("logp")
	assert.NoError(err)
	lp, _ := warmup.Float64At(0, 1)
	assert.Equal(-1.0, lp)
	lp, _ = warmup.Float64At(0, 2)
	assert.True(math.IsNaN(lp))
	lp, _ = sampling.Float64At(1, 1)
	assert.True(math.IsNaN(lp))

	_, warmup, err = buf.StatTensors("depth")
	assert.NoError(err)
	depth, _ := warmup.Int64At(0, 2)
	assert.Equal(int64(0), depth)
}

func TestConsumerFinalizeError(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	buf := testBuffers(t, s, 1, 1, 1)
	boom := errors.New("shutdown failed")
	eng := &fakeEngine{draws: makeDraws(1, 2, nil), finalizeErr: boom}

	c := NewConsumer(testModel(t), buf, nil, nil)
	assert.NoError(c.Run(context.Background(), eng))
	assert.Equal(1, eng.finalized)
	assert.Equal(boom, c.FinalizeErr)
	assert.Equal(2, buf.Consumed)
}

func TestConsumerProgressFailures(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	buf := testBuffers(t, s, 2, 1, 1)
	eng := &fakeEngine{draws: makeDraws(2, 2, nil)}

	calls := 0
	c := NewConsumer(testModel(t), buf, nil, func(p Progress) error {
		calls++
		if calls == 1 {
			panic("hook exploded")
		}
		return errors.New("hook failed")
	})
	assert.NoError(c.Run(context.Background(), eng))
	assert.Equal(4, calls)
	assert.Equal(4, buf.Consumed)
}

func TestConsumerSchemaErrors(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	m := testModel(t)

	// Wrong position length
	buf := testBuffers(t, s, 1, 1, 1)
	draws := makeDraws(1, 2, nil)
	draws[1].Position = []float64{1, 2, 3}
	eng := &fakeEngine{draws: draws}
	err := NewConsumer(m, buf, nil, nil).Run(context.Background(), eng)
	assert.True(errors.Is(err, ErrSchema))
	assert.Equal(1, eng.finalized)
	assert.Equal(1, buf.Consumed)

	// Wrong stat type leaves the draw unwritten
	buf = testBuffers(t, s, 1, 1, 1)
	draws = makeDraws(1, 2, nil)
	draws[1].Info["diverging"] = 1.0
	eng = &fakeEngine{draws: draws}
	err = NewConsumer(m, buf, nil, nil).Run(context.Background(), eng)
	assert.True(errors.Is(err, ErrSchema))
	assert.Equal(1, eng.finalized)
	assert.Equal(1, buf.Consumed)
	v, _ := buf.SampleDraws.At(0, 0, 0)
	assert.True(math.IsNaN(v))

	// Chain out of range
	buf = testBuffers(t, s, 1, 1, 1)
	draws = makeDraws(2, 1, nil)
	eng = &fakeEngine{draws: draws}
	err = NewConsumer(m, buf, nil, nil).Run(context.Background(), eng)
	assert.True(errors.Is(err, ErrSchema))
	assert.Equal(1, eng.finalized)
}

func TestConsumerEngineError(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	buf := testBuffers(t, s, 1, 1, 1)
	boom := errors.New("chain crashed")
	eng := &fakeEngine{draws: makeDraws(1, 1, nil), endErr: boom}

	err := NewConsumer(testModel(t), buf, nil, nil).Run(context.Background(), eng)
	assert.Error(err)
	assert.True(errors.Is(err, boom))
	assert.Equal(1, eng.finalized)
	assert.False(buf.Interrupted)

	// A cancellation error without a cancelled context is a failure
	buf = testBuffers(t, s, 1, 1, 1)
	eng = &fakeEngine{endErr: context.Canceled}
	err = NewConsumer(testModel(t), buf, nil, nil).Run(context.Background(), eng)
	assert.Error(err)
	assert.False(buf.Interrupted)
}

func TestConsumerIdentityScenario(t *testing.T) {
	assert := assert.New(t)

	v, err := model.NewVarInfo("x", 0)
	assert.NoError(err)
	m := &model.CompiledModel{
		Name:       "scalar",
		NDim:       1,
		LogDensity: func(x []float64, grad []float64) (float64, error) { return 0, nil },
		Expand:     model.IdentityExpand,
		Vars:       []model.VarInfo{v},
	}
	assert.NoError(m.Check())

	s, _ := NewSettings(Diag, 0)
	schema, err := ResolveStats(s, 1)
	assert.NoError(err)
	buf, err := NewBuffers(schema, 2, 3, 2, 1)
	assert.NoError(err)

	draws := []*Draw{}
	for c := 0; c < 2; c++ {
		for i := 0; i < 5; i++ {
			draws = append(draws, &Draw{Chain: c, Index: i, Position: []float64{float64(i)}, Info: baseInfo(i, false)})
		}
	}
	eng := &fakeEngine{draws: draws}
	assert.NoError(NewConsumer(m, buf, nil, nil).Run(context.Background(), eng))
	assert.Equal(0, buf.ChainsTuning)
	assert.Equal(0, buf.Divergences)

	tr, err := Assemble(m, buf, true, nil)
	assert.NoError(err)

	warm, err := tr.WarmupPosterior["x"].Float64s()
	assert.NoError(err)
	assert.Equal([]float64{0, 1, 2, 0, 1, 2}, warm)
	samp, err := tr.Posterior["x"].Float64s()
	assert.NoError(err)
	assert.Equal([]float64{3, 4, 3, 4}, samp)
}

func TestConsumerCancelCounts(t *testing.T) {
	assert := assert.New(t)

	s, _ := NewSettings(Diag, 0)
	m := testModel(t)

	for k := 1; k <= 10; k++ {
		buf := testBuffers(t, s, 2, 3, 2)
		ctx, cancel := context.WithCancel(context.Background())
		eng := &fakeEngine{draws: makeDraws(2, 5, nil), cancelAfter: k, cancel: cancel}

		assert.NoError(NewConsumer(m, buf, nil, nil).Run(ctx, eng))
		cancel()
		assert.Equal(1, eng.finalized)
		assert.Equal(k, buf.Consumed)

		filled := 0
		for _, x := range append(append([]float64{}, buf.WarmupDraws.Data...), buf.SampleDraws.Data...) {
			if !math.IsNaN(x) {
				filled++
			}
		}
		// Two expanded values per draw
		assert.Equal(2*k, filled)
	}
}
