package sampler

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func testArgs(t *testing.T, chains, tune, draws int) EngineArgs {
	s, err := NewSettings(Diag, 42)
	if err != nil {
		t.Fatal(err)
	}
	s.NumTune = tune
	s.NumDraws = draws
	s.NumChains = chains

	m := testModel(t)
	return EngineArgs{
		LogDensity: m.LogDensity,
		NDim:       m.NDim,
		InitMean:   make([]float64, m.NDim),
		Settings:   s,
		Chains:     chains,
		Draws:      draws,
		Seed:       s.Seed,
		NumTryInit: s.NumTryInit,
	}
}

// drain reads draws until the engine ends and returns them per chain.
func drain(t *testing.T, eng Engine) map[int][]*Draw {
	out := map[int][]*Draw{}
	for {
		d, err := eng.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out[d.Chain] = append(out[d.Chain], d)
	}
}

func TestParallelEngineRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	eng, err := NewParallelEngine(testArgs(t, 3, 20, 30))
	assert.NoError(err)

	byChain := drain(t, eng)
	assert.Len(byChain, 3)
	for c, draws := range byChain {
		assert.Len(draws, 50)
		for i, d := range draws {
			assert.Equal(c, d.Chain)
			assert.Equal(i, d.Index)
			assert.Len(d.Position, 2)
			assert.Contains(d.Info, "step_size")
		}
	}

	for _, p := range eng.Progress() {
		assert.True(p.Started)
		assert.False(p.Tuning)
		assert.Equal(50, p.FinishedDraws)
		assert.Equal(50, p.TotalDraws)
		assert.Equal(int64(1), p.LatestNumSteps)
		assert.True(p.StepSize > 0)
		assert.True(p.MeanAccept >= 0 && p.MeanAccept <= 1)
		assert.Equal(byChain[p.Chain][49].Info["mean_tree_accept"], p.LatestAccept)
	}

	assert.NoError(eng.Finalize())
	assert.NoError(eng.Finalize())

	_, err = eng.Next(context.Background())
	assert.Equal(io.EOF, err)
}

func TestParallelEngineFinalizeEarly(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	eng, err := NewParallelEngine(testArgs(t, 4, 500, 500))
	assert.NoError(err)

	for i := 0; i < 5; i++ {
		_, err := eng.Next(context.Background())
		assert.NoError(err)
	}
	assert.NoError(eng.Finalize())
}

func TestParallelEngineAbort(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	eng, err := NewParallelEngine(testArgs(t, 2, 1000, 1000))
	assert.NoError(err)

	eng.Abort()
	got := 0
	for {
		_, err := eng.Next(context.Background())
		if err == io.EOF {
			break
		}
		assert.NoError(err)
		got++
	}
	assert.True(got < 4000)
	assert.NoError(eng.Finalize())
}

func TestParallelEnginePauseResume(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	eng, err := NewParallelEngine(testArgs(t, 2, 10, 10))
	assert.NoError(err)
	eng.Pause()
	eng.Pause()

	// Queued and in-flight draws still arrive, then nothing until Resume
	got := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err := eng.Next(ctx)
		cancel()
		if err != nil {
			assert.True(errors.Is(err, context.DeadlineExceeded))
			break
		}
		got++
	}
	assert.True(got <= 4)

	eng.Resume()
	eng.Resume()
	byChain := drain(t, eng)
	total := got
	for _, draws := range byChain {
		total += len(draws)
	}
	assert.Equal(40, total)
	assert.NoError(eng.Finalize())
}

func TestParallelEngineInitFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	args := testArgs(t, 2, 1, 1)
	args.NumTryInit = 3
	calls := 0
	args.LogDensity = func(x []float64, grad []float64) (float64, error) {
		calls++
		return math.Inf(-1), nil
	}

	eng, err := NewParallelEngine(args)
	assert.Nil(eng)
	assert.True(errors.Is(err, ErrInit))
	assert.Equal(3, calls)

	args.LogDensity = func(x []float64, grad []float64) (float64, error) {
		return 0, errors.New("bad point")
	}
	_, err = NewParallelEngine(args)
	assert.True(errors.Is(err, ErrInit))

	args.InitMean = []float64{0}
	_, err = DefaultEngine(args)
	assert.True(errors.Is(err, ErrInit))
}

func TestParallelEngineUserData(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	args := testArgs(t, 3, 1, 1)
	made := 0
	args.MakeUserData = func() (interface{}, error) {
		made++
		return made, nil
	}
	eng, err := NewParallelEngine(args)
	assert.NoError(err)
	assert.Equal(3, made)
	assert.NoError(eng.Finalize())

	args.MakeUserData = func() (interface{}, error) {
		return nil, errors.New("no memory")
	}
	_, err = NewParallelEngine(args)
	assert.True(errors.Is(err, ErrInit))
}
