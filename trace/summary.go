package trace

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// VarSummary describes the sampling partition of one element of a posterior
// variable, pooled over chains.
type VarSummary struct {
	Name  string  // Variable name with element label, e.g. theta[choate]
	Draws int     // Finite draws used per chain
	Mean  float64 // Pooled mean
	SD    float64 // Pooled standard deviation
	RHat  float64 // Split Gelman-Rubin diagnostic (NaN when undefined)
}

// Summarize returns one VarSummary per posterior element, variables in
// sorted order. Chains are truncated to their common finite prefix, so a
// partial (interrupted) trace still summarizes the draws it has.
func Summarize(t *Trace) ([]VarSummary, error) {
	out := []VarSummary{}

	for _, name := range t.Posterior.Names() {
		tn := t.Posterior[name]
		data, err := tn.Float64s()
		if err != nil {
			return nil, errors.Wrapf(err, "Summary of %s", name)
		}

		chains, draws := tn.Shape[0], tn.Shape[1]
		elems := 1
		for _, l := range tn.Shape[2:] {
			elems *= l
		}

		for e := 0; e < elems; e++ {
			series := make([][]float64, chains)
			minLen := draws
			for c := 0; c < chains; c++ {
				s := make([]float64, 0, draws)
				for d := 0; d < draws; d++ {
					v := data[(c*draws+d)*elems+e]
					if math.IsNaN(v) {
						break
					}
					s = append(s, v)
				}
				series[c] = s
				if len(s) < minLen {
					minLen = len(s)
				}
			}
			for c := range series {
				series[c] = series[c][:minLen]
			}

			mean, sd := pooledMoments(series)
			out = append(out, VarSummary{
				Name:  elementName(t, name, tn, e),
				Draws: minLen,
				Mean:  mean,
				SD:    sd,
				RHat:  SplitRHat(series),
			})
		}
	}

	return out, nil
}

func pooledMoments(series [][]float64) (float64, float64) {
	var n, sum float64
	for _, s := range series {
		for _, v := range s {
			sum += v
			n++
		}
	}
	if n < 1 {
		return math.NaN(), math.NaN()
	}
	mean := sum / n
	if n < 2 {
		return mean, math.NaN()
	}

	var ss float64
	for _, s := range series {
		for _, v := range s {
			ss += (v - mean) * (v - mean)
		}
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// SplitRHat computes the split-chain potential scale reduction factor. Each
// chain is cut in two halves (the middle draw of an odd chain is dropped).
// All chains must have the same length; NaN is returned when fewer than two
// draws per half are available or the within-chain variance is zero.
func SplitRHat(chains [][]float64) float64 {
	if len(chains) < 1 {
		return math.NaN()
	}
	n := len(chains[0]) / 2
	if n < 2 {
		return math.NaN()
	}

	halves := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		if len(c) != len(chains[0]) {
			return math.NaN()
		}
		halves = append(halves, c[:n], c[len(c)-n:])
	}

	m := float64(len(halves))
	means := make([]float64, len(halves))
	var grand, within float64
	for i, h := range halves {
		var sum float64
		for _, v := range h {
			sum += v
		}
		means[i] = sum / float64(n)
		grand += means[i]

		var ss float64
		for _, v := range h {
			ss += (v - means[i]) * (v - means[i])
		}
		within += ss / float64(n-1)
	}
	grand /= m
	within /= m

	var between float64
	for _, mu := range means {
		between += (mu - grand) * (mu - grand)
	}
	between *= float64(n) / (m - 1)

	if within <= 0 {
		return math.NaN()
	}
	varHat := float64(n-1)/float64(n)*within + between/float64(n)
	return math.Sqrt(varHat / within)
}

// elementName renders flat element e of variable name using coordinate
// labels where the trace has them and plain indices otherwise.
func elementName(t *Trace, name string, tn *Tensor, e int) string {
	shape := tn.Shape[2:]
	if len(shape) == 0 {
		return name
	}

	idx := make([]int, len(shape))
	for axis := len(shape) - 1; axis >= 0; axis-- {
		idx[axis] = e % shape[axis]
		e /= shape[axis]
	}

	labels := make([]string, len(idx))
	for axis, j := range idx {
		dim := tn.Dims[axis+2]
		if c, ok := t.Coords[dim]; ok && j < len(c) {
			labels[axis] = c[j]
		} else {
			labels[axis] = strconv.Itoa(j)
		}
	}
	return name + "[" + strings.Join(labels, ", ") + "]"
}
