package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/nutsgo/buffer"
	"github.com/CraigKelly/nutsgo/rand"
)

// recentWindow is how many recent acceptance probabilities a chain keeps for
// progress reports.
const recentWindow = 50

// Chain is one chain of the reference engine: a random-walk Metropolis
// sampler with a diagonal proposal scale. During warmup it adapts its step
// size toward the random-walk acceptance rate (0.44 in one dimension, 0.234
// otherwise) and re-estimates the proposal scale from windows of draws;
// afterwards both are fixed.
//
// The kernel takes one step per draw, so depth is always 0 and
// maxdepth_reached always false. TargetAccept, MaxDepth,
// UseGradBasedMassMatrix, MassMatrixEigvalCutoff and MassMatrixGamma are
// passed through for engines supplied with WithEngine; this chain does not
// read them.
type Chain struct {
	ID       int
	UserData interface{}
	Recent   *buffer.Circular // Recent acceptance probabilities

	args *EngineArgs
	gen  *rand.Generator

	position []float64
	logp     float64
	grad     []float64
	proposal []float64
	propGrad []float64

	logStep    float64 // log step size used for the next draw
	logStepBar float64 // running average of logStep since the last scale update
	stepT      int     // Draws since the step size adaptation restarted
	scale      []float64

	// Windowed variance estimate for the proposal scale
	winCount int
	winMean  []float64
	winM2    []float64
	windows  int

	draw int // Index of the next draw
}

// NewChain initializes a chain at a finite point. Up to NumTryInit jittered
// points around InitMean are tried.
func NewChain(id int, args *EngineArgs) (*Chain, error) {
	gen, err := rand.NewChainGenerator(args.Seed, id)
	if err != nil {
		return nil, errors.Wrapf(ErrInit, "Chain %d: %v", id, err)
	}

	n := args.NDim
	ch := &Chain{
		ID:       id,
		Recent:   buffer.NewCircular(recentWindow),
		args:     args,
		gen:      gen,
		position: make([]float64, n),
		grad:     make([]float64, n),
		proposal: make([]float64, n),
		propGrad: make([]float64, n),
		logStep:  math.Log(args.Settings.InitialStep),
		scale:    make([]float64, n),
		winMean:  make([]float64, n),
		winM2:    make([]float64, n),
	}
	ch.logStepBar = ch.logStep
	for i := range ch.scale {
		ch.scale[i] = 1
	}

	if args.MakeUserData != nil {
		if ch.UserData, err = args.MakeUserData(); err != nil {
			return nil, errors.Wrapf(ErrInit, "Chain %d user data: %v", id, err)
		}
	}

	var lastErr error
	for try := 0; try < args.NumTryInit; try++ {
		for i := range ch.position {
			ch.position[i] = args.InitMean[i] + gen.Uniform(-2, 2)
		}
		lp, err := args.LogDensity(ch.position, ch.grad)
		if err == nil && !math.IsNaN(lp) && !math.IsInf(lp, 0) {
			ch.logp = lp
			return ch, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, errors.Wrapf(ErrInit, "Chain %d: no finite log density after %d tries: %v", id, args.NumTryInit, lastErr)
	}
	return nil, errors.Wrapf(ErrInit, "Chain %d: no finite log density after %d tries", id, args.NumTryInit)
}

// Total is the number of draws the chain produces.
func (c *Chain) Total() int {
	return c.args.Settings.NumTune + c.args.Draws
}

// Done reports whether the chain produced all of its draws.
func (c *Chain) Done() bool {
	return c.draw >= c.Total()
}

// Step advances the chain by one draw.
func (c *Chain) Step() (*Draw, error) {
	if c.Done() {
		return nil, errors.Errorf("Chain %d is finished", c.ID)
	}

	s := c.args.Settings
	tune := s.NumTune
	tuning := c.draw < tune

	stepSize := math.Exp(c.logStep)
	for i, x := range c.position {
		c.proposal[i] = x + stepSize*math.Sqrt(c.scale[i])*c.gen.NormFloat64()
	}

	lpProp, err := c.args.LogDensity(c.proposal, c.propGrad)
	if err != nil || math.IsNaN(lpProp) {
		lpProp = math.Inf(-1)
	}

	// Energy is -logp, so the energy error of the move is logp - lpProp
	energyErr := c.logp - lpProp
	diverging := math.IsInf(lpProp, -1) || energyErr > s.MaxEnergyError

	accept := 0.0
	if !diverging {
		accept = math.Min(1, math.Exp(lpProp-c.logp))
	}

	var start []float64
	if diverging && s.StoreDivergences {
		start = append([]float64(nil), c.position...)
	}

	accepted := c.gen.Float64() < accept
	if accepted {
		c.position, c.proposal = c.proposal, c.position
		c.grad, c.propGrad = c.propGrad, c.grad
		c.logp = lpProp
	}
	c.Recent.Add(accept)

	info := Stats{
		"index_in_trajectory": boolToInt(accepted),
		"mean_tree_accept":    accept,
		"depth":               int64(0),
		"maxdepth_reached":    false,
		"logp":                c.logp,
		"energy":              -c.logp,
		"diverging":           diverging,
		"step_size":           stepSize,
		"step_size_bar":       math.Exp(c.logStepBar),
		"n_steps":             int64(1),
	}
	if s.StoreMassMatrix {
		info["mass_matrix_inv"] = append([]float64(nil), c.scale...)
	}
	if s.StoreGradient {
		info["gradient"] = append([]float64(nil), c.grad...)
	}
	if s.StoreUnconstrained {
		info["unconstrained_draw"] = append([]float64(nil), c.position...)
	}
	if diverging && s.StoreDivergences {
		info["divergence_start"] = start
		if accepted {
			info["divergence_end"] = append([]float64(nil), c.position...)
		} else {
			info["divergence_end"] = append([]float64(nil), c.proposal...)
		}
	}

	d := &Draw{
		Chain:     c.ID,
		Index:     c.draw,
		Position:  append([]float64(nil), c.position...),
		Info:      info,
		Diverging: diverging,
	}

	if tuning {
		c.adapt(accept)
		if c.draw == tune-1 {
			c.logStep = c.logStepBar
		}
	}
	c.draw++

	return d, nil
}

// acceptTarget is the asymptotically optimal acceptance rate of a
// random-walk Metropolis kernel in n dimensions.
func acceptTarget(n int) float64 {
	if n == 1 {
		return 0.44
	}
	return 0.234
}

// scaledStep is the optimal random-walk step when the proposal scale matches
// the target's variance.
func scaledStep(n int) float64 {
	return 2.38 / math.Sqrt(float64(n))
}

// adapt runs one warmup update: a Robbins-Monro step on the log step size,
// its running average, and the windowed proposal scale estimate. Each new
// scale is shrunk toward the previous one, and the step size restarts from
// the scaled optimum, so a window spent stuck cannot collapse the proposal.
func (c *Chain) adapt(accept float64) {
	s := c.args.Settings
	c.stepT++
	t := float64(c.stepT)

	c.logStep += (accept - acceptTarget(c.args.NDim)) / math.Pow(t+10, 0.6)
	c.logStep = math.Min(math.Max(c.logStep, -20), 20)
	eta := math.Pow(t, -0.75)
	c.logStepBar = eta*c.logStep + (1-eta)*c.logStepBar

	c.winCount++
	n := float64(c.winCount)
	for i, x := range c.position {
		delta := x - c.winMean[i]
		c.winMean[i] += delta / n
		c.winM2[i] += delta * (x - c.winMean[i])
	}

	window := s.MassMatrixSwitchFreq
	if c.windows < 2 {
		window = s.EarlyMassMatrixSwitchFreq
	}
	if c.winCount < window {
		return
	}

	if c.winCount > 1 {
		w := n / (n + 5)
		for i := range c.scale {
			v := w*c.winM2[i]/(n-1) + (1-w)*c.scale[i]
			c.scale[i] = math.Min(math.Max(v, 1e-10), 1e10)
		}
		c.logStep = math.Log(scaledStep(c.args.NDim))
		c.logStepBar = c.logStep
		c.stepT = 0
	}
	c.windows++
	c.winCount = 0
	for i := range c.winMean {
		c.winMean[i] = 0
		c.winM2[i] = 0
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
