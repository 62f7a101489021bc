package sampler

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChainProgress is the state of one chain of a ParallelEngine.
type ChainProgress struct {
	Chain          int
	FinishedDraws  int
	TotalDraws     int
	Divergences    int // Diverging draws after warmup
	Started        bool
	Tuning         bool
	LatestNumSteps int64
	StepSize       float64
	MeanAccept     float64 // Mean acceptance over the recent window
	LatestAccept   float64 // Acceptance probability of the latest draw
}

// ParallelEngine is the reference Engine: every chain runs in its own
// goroutine and draws are handed to the consumer through one channel.
type ParallelEngine struct {
	chains []*Chain
	draws  chan *Draw
	done   chan struct{}
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	paused   bool
	resume   chan struct{}
	progress []ChainProgress

	waitErr error // Set before draws is closed
	once    sync.Once
}

// NewParallelEngine initializes every chain and starts sampling. No draw is
// produced before all chains found a finite starting point.
func NewParallelEngine(args EngineArgs) (*ParallelEngine, error) {
	if err := args.Check(); err != nil {
		return nil, err
	}
	logger := args.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &ParallelEngine{
		chains:   make([]*Chain, args.Chains),
		draws:    make(chan *Draw, args.Chains),
		done:     make(chan struct{}),
		logger:   logger,
		progress: make([]ChainProgress, args.Chains),
	}

	tune := args.Settings.NumTune
	for i := range e.chains {
		ch, err := NewChain(i, &args)
		if err != nil {
			return nil, err
		}
		e.chains[i] = ch
		e.progress[i] = ChainProgress{
			Chain:      i,
			TotalDraws: ch.Total(),
			Tuning:     tune > 0,
			StepSize:   args.Settings.InitialStep,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range e.chains {
		g.Go(func() error {
			return e.run(gctx, ch)
		})
	}

	go func() {
		e.waitErr = g.Wait()
		close(e.draws)
		close(e.done)
	}()

	logger.Debug("Engine started",
		zap.Int("chains", args.Chains),
		zap.Int("tune", tune),
		zap.Int("draws", args.Draws))

	return e, nil
}

// run drives one chain until it is done or ctx ends. Ending ctx is not an
// error.
func (e *ParallelEngine) run(ctx context.Context, ch *Chain) error {
	for !ch.Done() {
		if err := e.waitResumed(ctx); err != nil {
			return nil
		}

		d, err := ch.Step()
		if err != nil {
			return errors.Wrapf(err, "Chain %d failed", ch.ID)
		}
		e.record(ch, d)

		select {
		case e.draws <- d:
		case <-ctx.Done():
			return nil
		}
	}
	e.logger.Debug("Chain finished", zap.Int("chain", ch.ID))
	return nil
}

func (e *ParallelEngine) record(ch *Chain, d *Draw) {
	tune := ch.args.Settings.NumTune

	e.mu.Lock()
	defer e.mu.Unlock()

	p := &e.progress[ch.ID]
	p.Started = true
	p.FinishedDraws = d.Index + 1
	p.Tuning = d.Index < tune-1
	if d.Diverging && d.Index >= tune {
		p.Divergences++
	}
	if n, ok := d.Info["n_steps"].(int64); ok {
		p.LatestNumSteps = n
	}
	if s, ok := d.Info["step_size"].(float64); ok {
		p.StepSize = s
	}
	p.MeanAccept = ch.Recent.Mean()
	p.LatestAccept = ch.Recent.Last()
}

func (e *ParallelEngine) waitResumed(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	r := e.resume
	e.mu.Unlock()

	select {
	case <-r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next draw of any chain.
func (e *ParallelEngine) Next(ctx context.Context) (*Draw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case d, ok := <-e.draws:
		if !ok {
			if e.waitErr != nil {
				return nil, e.waitErr
			}
			return nil, io.EOF
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause stops every chain before its next draw.
func (e *ParallelEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.resume = make(chan struct{})
	}
}

// Resume releases paused chains.
func (e *ParallelEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		close(e.resume)
	}
}

// Abort stops all chains. Draws already queued are still delivered, then Next
// returns io.EOF.
func (e *ParallelEngine) Abort() {
	e.cancel()
}

// Progress returns a snapshot of every chain.
func (e *ParallelEngine) Progress() []ChainProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChainProgress, len(e.progress))
	copy(out, e.progress)
	return out
}

// Finalize stops the chains, waits for their goroutines and returns the
// first chain error. Later calls return the same error.
func (e *ParallelEngine) Finalize() error {
	e.once.Do(func() {
		e.cancel()
		<-e.done
		e.logger.Debug("Engine finalized", zap.Error(e.waitErr))
	})
	return e.waitErr
}

// DefaultEngine is the EngineFactory used when none is given.
func DefaultEngine(args EngineArgs) (Engine, error) {
	e, err := NewParallelEngine(args)
	if err != nil {
		return nil, err
	}
	return e, nil
}
