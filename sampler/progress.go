package sampler

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Progress is the state of a run after one processed draw.
type Progress struct {
	Chain        int // Chain of the draw just processed
	Draw         int // Index of the draw just processed
	Done         int // Draws processed so far
	Total        int // Draws in a complete run
	ChainsTuning int
	Divergences  int
}

func (p Progress) String() string {
	return fmt.Sprintf("Chains in warmup: %d, Divergences: %d", p.ChainsTuning, p.Divergences)
}

// ProgressFunc receives progress after every processed draw. It is purely
// observational: an error or panic is logged and sampling continues.
type ProgressFunc func(p Progress) error

// RateLimited calls fn at most once per interval (plus the first and the
// final update of a run).
func RateLimited(interval time.Duration, fn ProgressFunc) ProgressFunc {
	s := &rate.Sometimes{First: 1, Interval: interval}
	return func(p Progress) error {
		if p.Done >= p.Total {
			return fn(p)
		}

		var err error
		s.Do(func() {
			err = fn(p)
		})
		return err
	}
}
