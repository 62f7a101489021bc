package sampler

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/model"
)

// Error categories. Errors returned by this package wrap one of these when
// the failure falls in that category, so callers can test with errors.Is.
var (
	ErrConfig = errors.New("configuration error")
	ErrSchema = errors.New("schema mismatch")
	ErrInit   = errors.New("sampler initialization failed")
)

// Stats holds the diagnostics of one draw keyed by stat name. Scalars are
// float64, int64 or bool; shaped stats are []float64.
type Stats map[string]interface{}

// Draw is one emission of an Engine.
type Draw struct {
	Chain     int       // Chain index in [0, chains)
	Index     int       // Draw index in [0, tune+draws), contiguous per chain
	Position  []float64 // Raw position, length NDim
	Info      Stats
	Diverging bool
}

// An Engine runs the chains of a run and streams their draws. Draws of one
// chain arrive in increasing Index order; chains may interleave freely.
type Engine interface {
	// Next blocks until a draw is ready. It returns io.EOF once every chain
	// is done and ctx.Err() when ctx ends first.
	Next(ctx context.Context) (*Draw, error)

	// Finalize stops the chains and releases the engine.
	Finalize() error
}

// EngineArgs are the inputs for building an Engine. Chains, Draws, Seed and
// NumTryInit are named overrides of the values in Settings.
type EngineArgs struct {
	LogDensity   model.LogDensityFunc
	MakeUserData func() (interface{}, error)
	NDim         int
	InitMean     []float64
	Settings     *Settings

	Chains     int
	Draws      int
	Seed       uint64
	NumTryInit int

	Logger *zap.Logger
}

// EngineFactory builds an engine. A failure here is fatal to the run and no
// draw has been produced.
type EngineFactory func(args EngineArgs) (Engine, error)

// Check returns an error if the arguments can not start an engine.
func (a *EngineArgs) Check() error {
	if a.LogDensity == nil {
		return errors.Wrapf(ErrInit, "No log density")
	}
	if a.NDim < 1 {
		return errors.Wrapf(ErrInit, "Invalid dimensionality %d", a.NDim)
	}
	if len(a.InitMean) != a.NDim {
		return errors.Wrapf(ErrInit, "Initial point has length %d, expected %d", len(a.InitMean), a.NDim)
	}
	if a.Settings == nil {
		return errors.Wrapf(ErrInit, "No settings")
	}
	if a.Chains < 1 || a.Draws < 0 || a.NumTryInit < 1 {
		return errors.Wrapf(ErrInit, "Invalid chains=%d draws=%d num_try_init=%d", a.Chains, a.Draws, a.NumTryInit)
	}
	return nil
}
