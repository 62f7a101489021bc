package sampler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/model"
	"github.com/CraigKelly/nutsgo/trace"
)

// Result is the outcome of Sample.
type Result struct {
	Trace       *trace.Trace
	Interrupted bool  // Stopped early by ctx; the trace holds a partial run
	Divergences int   // Diverging draws after warmup
	Consumed    int   // Draws written to the trace buffers
	FinalizeErr error // Error of the engine shutdown, if any

	// Chains is the final per-chain state when the engine reports one
	Chains []ChainProgress
}

// ChainReporter is implemented by engines that can report per-chain state.
type ChainReporter interface {
	Progress() []ChainProgress
}

type sampleOptions struct {
	logger   *zap.Logger
	progress ProgressFunc
	factory  EngineFactory
	initMean []float64
}

// Option customizes Sample.
type Option func(*sampleOptions)

// WithLogger sets the logger for the run and its engine.
func WithLogger(logger *zap.Logger) Option {
	return func(o *sampleOptions) { o.logger = logger }
}

// WithProgress installs a progress hook called after every draw.
func WithProgress(fn ProgressFunc) Option {
	return func(o *sampleOptions) { o.progress = fn }
}

// WithEngine replaces the reference engine.
func WithEngine(factory EngineFactory) Option {
	return func(o *sampleOptions) { o.factory = factory }
}

// WithInitMean sets the center of the initial points (default: zero).
func WithInitMean(mean []float64) Option {
	return func(o *sampleOptions) { o.initMean = mean }
}

// Sample runs the chains configured by s on m and assembles their trace.
// Cancelling ctx stops the run early without an error; the result is then
// marked Interrupted and unfinished draws hold their fill values.
func Sample(ctx context.Context, m *model.CompiledModel, s *Settings, opts ...Option) (*Result, error) {
	o := &sampleOptions{factory: DefaultEngine}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if m == nil {
		return nil, errors.Wrapf(ErrConfig, "No model")
	}
	if err := m.Check(); err != nil {
		return nil, errors.Wrapf(ErrConfig, "Invalid model: %v", err)
	}
	if s == nil {
		return nil, errors.Wrapf(ErrConfig, "No settings")
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	schema, err := ResolveStats(s, m.NDim)
	if err != nil {
		return nil, err
	}
	nexp, err := m.ExpandedLen()
	if err != nil {
		return nil, errors.Wrapf(ErrSchema, "%v", err)
	}
	buf, err := NewBuffers(schema, s.NumChains, s.NumTune, s.NumDraws, nexp)
	if err != nil {
		return nil, err
	}

	initMean := o.initMean
	if initMean == nil {
		initMean = make([]float64, m.NDim)
	}

	args := EngineArgs{
		LogDensity:   m.LogDensity,
		MakeUserData: m.MakeUserData,
		NDim:         m.NDim,
		InitMean:     initMean,
		Settings:     s,
		Chains:       s.NumChains,
		Draws:        s.NumDraws,
		Seed:         s.Seed,
		NumTryInit:   s.NumTryInit,
		Logger:       o.logger,
	}

	o.logger.Info("Sampling started",
		zap.String("model", m.Name),
		zap.String("adaptation", string(s.Adaptation)),
		zap.Int("chains", s.NumChains),
		zap.Int("tune", s.NumTune),
		zap.Int("draws", s.NumDraws))

	start := time.Now()
	eng, err := o.factory(args)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not start sampler for %s", m.Name)
	}

	consumer := NewConsumer(m, buf, o.logger, o.progress)
	if err := consumer.Run(ctx, eng); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	res := &Result{
		Interrupted: buf.Interrupted,
		Divergences: buf.Divergences,
		Consumed:    buf.Consumed,
		FinalizeErr: consumer.FinalizeErr,
	}
	if r, ok := eng.(ChainReporter); ok {
		res.Chains = r.Progress()
	}

	attrs := map[string]string{
		"run_id":        uuid.NewString(),
		"created_at":    time.Now().UTC().Format(time.RFC3339),
		"model":         m.Name,
		"adaptation":    string(s.Adaptation),
		"tuning_steps":  strconv.Itoa(s.NumTune),
		"sampling_time": fmt.Sprintf("%.3f", elapsed.Seconds()),
		"interrupted":   strconv.FormatBool(buf.Interrupted),
	}
	if res.Trace, err = Assemble(m, buf, s.SaveWarmup, attrs); err != nil {
		return nil, err
	}

	o.logger.Info("Sampling finished",
		zap.Int("draws", buf.Consumed),
		zap.Int("divergences", buf.Divergences),
		zap.Bool("interrupted", buf.Interrupted),
		zap.Duration("elapsed", elapsed))

	return res, nil
}
