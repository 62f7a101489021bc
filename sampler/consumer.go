package sampler

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CraigKelly/nutsgo/model"
)

// Consumer drains an Engine into Buffers. It is single threaded: the only
// place it waits is Engine.Next.
type Consumer struct {
	Model    *model.CompiledModel
	Buffers  *Buffers
	Progress ProgressFunc // Optional
	Logger   *zap.Logger

	// FinalizeErr is the error of Engine.Finalize, if any. It never replaces
	// the result of Run.
	FinalizeErr error
}

// NewConsumer creates a consumer writing into buf. A nil logger is replaced
// with a no-op logger.
func NewConsumer(m *model.CompiledModel, buf *Buffers, logger *zap.Logger, progress ProgressFunc) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		Model:    m,
		Buffers:  buf,
		Progress: progress,
		Logger:   logger,
	}
}

// Run consumes draws until the engine is exhausted, ctx ends, or a draw can
// not be applied. Cancellation of ctx is a graceful stop: Run returns nil and
// marks the buffers Interrupted. The engine is finalized exactly once on
// every path out of Run.
func (c *Consumer) Run(ctx context.Context, eng Engine) error {
	defer func() {
		if ferr := eng.Finalize(); ferr != nil {
			c.FinalizeErr = ferr
			c.Logger.Warn("Sampler finalize failed", zap.Error(ferr))
		}
	}()

	ndim := c.Model.NDim
	for {
		d, err := eng.Next(ctx)
		if errors.Is(err, io.EOF) {
			c.Logger.Debug("Sampler finished",
				zap.Int("draws", c.Buffers.Consumed),
				zap.Int("divergences", c.Buffers.Divergences))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				c.Buffers.Interrupted = true
				c.Logger.Info("Sampling interrupted",
					zap.Int("draws", c.Buffers.Consumed),
					zap.Int("total", c.Buffers.Total()),
					zap.Error(err))
				return nil
			}
			return errors.Wrapf(err, "Sampler failed after %d draws", c.Buffers.Consumed)
		}

		if len(d.Position) != ndim {
			return errors.Wrapf(ErrSchema, "Chain %d draw %d has %d values, model has %d", d.Chain, d.Index, len(d.Position), ndim)
		}

		expanded, err := c.Model.Expand(d.Position)
		if err != nil {
			return errors.Wrapf(err, "Could not expand chain %d draw %d", d.Chain, d.Index)
		}

		if err := c.Buffers.Apply(d, expanded); err != nil {
			return err
		}

		c.report(d)
	}
}

func (c *Consumer) report(d *Draw) {
	if c.Progress == nil {
		return
	}

	b := c.Buffers
	p := Progress{
		Chain:        d.Chain,
		Draw:         d.Index,
		Done:         b.Consumed,
		Total:        b.Total(),
		ChainsTuning: b.ChainsTuning,
		Divergences:  b.Divergences,
	}

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Warn("Progress hook panicked", zap.Any("panic", r))
		}
	}()
	if err := c.Progress(p); err != nil {
		c.Logger.Warn("Progress hook failed", zap.Error(err))
	}
}
