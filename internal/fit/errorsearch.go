package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"xspecfit/internal/param"
)

var ErrParameterNotFree = errors.New("parameter is not free")

type ErrorOptions struct {
	// DeltaStat is the statistic rise that defines the confidence region;
	// 2.706 gives 90% for one parameter.
	DeltaStat float64
	// Workers bounds the number of parameters searched concurrently.
	Workers int
	// MaxIterations caps both the bracketing and the bisection steps.
	MaxIterations int
	// Tolerance is the accepted distance from the target statistic.
	Tolerance float64
}

func DefaultErrorOptions() ErrorOptions {
	return ErrorOptions{DeltaStat: 2.706, Workers: 1, MaxIterations: 20, Tolerance: 0.01}
}

func (o ErrorOptions) Validate() error {
	if !(o.DeltaStat > 0) {
		return errors.New("delta stat must be > 0")
	}
	if o.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if o.MaxIterations <= 0 {
		return errors.New("max iterations must be > 0")
	}
	if !(o.Tolerance > 0) {
		return errors.New("tolerance must be > 0")
	}
	return nil
}

// ErrorBound is the confidence interval of one parameter.
type ErrorBound struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	// LowAtLimit and HighAtLimit mark bounds that reached a hard limit
	// before the statistic rose by DeltaStat.
	LowAtLimit  bool `json:"low_at_limit"`
	HighAtLimit bool `json:"high_at_limit"`
	// LowUnbracketed and HighUnbracketed mark bounds where MaxIterations
	// ran out before the statistic rose by DeltaStat; the value is the
	// farthest point searched, not a confidence limit.
	LowUnbracketed  bool `json:"low_unbracketed"`
	HighUnbracketed bool `json:"high_unbracketed"`
	// NewMinimum is set when the search found a statistic lower than the
	// fit minimum; the fit should be repeated.
	NewMinimum bool `json:"new_minimum"`
}

// Errors searches confidence intervals for the given parameter indices
// around the current best fit. Each parameter is searched on its own clone
// of the fit, stepping the parameter away from its best value and refitting
// the remaining free parameters until the statistic rises by DeltaStat.
// Up to Workers parameters are searched at once; the results do not depend
// on Workers. Bounds are also stored in the parameters' ErrLow and ErrHigh.
func (f *Fit) Errors(ctx context.Context, indices []int, opts ErrorOptions) ([]ErrorBound, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	free := make(map[*param.Parameter]bool)
	for _, p := range f.FreeParams() {
		free[p] = true
	}
	targets := make([]*param.Parameter, len(indices))
	for i, idx := range indices {
		p, err := f.model.params.Get(idx)
		if err != nil {
			return nil, err
		}
		if !free[p] {
			return nil, fmt.Errorf("%w: %s", ErrParameterNotFree, p.Label())
		}
		targets[i] = p
	}
	minimum, err := f.StatisticValue()
	if err != nil {
		return nil, err
	}

	clones, err := f.clones(len(targets))
	if err != nil {
		return nil, err
	}

	bounds := make([]ErrorBound, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, p := range targets {
		i, idx, clone := i, p.Index(), clones[i]
		g.Go(func() error {
			b, err := searchBound(gctx, clone, idx, minimum, opts)
			if err != nil {
				return fmt.Errorf("parameter %d: %w", idx, err)
			}
			bounds[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, p := range targets {
		p.ErrLow = bounds[i].Low
		p.ErrHigh = bounds[i].High
	}
	return bounds, nil
}

// clones prepares every search clone before any worker starts.
func (f *Fit) clones(n int) ([]*Fit, error) {
	out := make([]*Fit, n)
	for i := range out {
		clone, err := f.Clone()
		if err != nil {
			return nil, err
		}
		out[i] = clone
	}
	return out, nil
}

type searcher struct {
	fit     *Fit
	p       *param.Parameter
	best    []float64
	minimum float64
	opts    ErrorOptions
	refit   bool
	newMin  bool
}

func searchBound(ctx context.Context, clone *Fit, index int, minimum float64, opts ErrorOptions) (ErrorBound, error) {
	p, err := clone.model.params.Get(index)
	if err != nil {
		return ErrorBound{}, err
	}
	v0 := p.Value()
	p.Freeze()
	s := &searcher{
		fit:     clone,
		p:       p,
		best:    clone.model.params.Snapshot(),
		minimum: minimum,
		opts:    opts,
		refit:   len(clone.FreeParams()) > 0,
	}
	low, err := s.bound(ctx, v0, -1)
	if err != nil {
		return ErrorBound{}, err
	}
	high, err := s.bound(ctx, v0, 1)
	if err != nil {
		return ErrorBound{}, err
	}
	b := ErrorBound{
		Index:           index,
		Label:           p.Label(),
		Value:           v0,
		Low:             low.value,
		High:            high.value,
		LowAtLimit:      low.atLimit,
		HighAtLimit:     high.atLimit,
		LowUnbracketed:  low.unbracketed,
		HighUnbracketed: high.unbracketed,
		NewMinimum:      s.newMin,
	}
	return b, nil
}

// statAt is the minimum statistic with p fixed at v, starting every refit
// from the best fit so the result depends only on v.
func (s *searcher) statAt(ctx context.Context, v float64) (float64, error) {
	if err := s.fit.model.params.Restore(s.best); err != nil {
		return 0, err
	}
	if err := s.p.ChangeValue(v, true); err != nil {
		return 0, err
	}
	var stat float64
	if s.refit {
		r, err := s.fit.Perform(ctx)
		if err != nil {
			return 0, err
		}
		if r.Status == StatusError {
			return 0, r.Err
		}
		if r.Status == StatusInterrupted {
			return 0, ctx.Err()
		}
		stat = r.Statistic
	} else {
		v, err := s.fit.StatisticValue()
		if err != nil {
			return 0, err
		}
		stat = v
	}
	if stat < s.minimum-s.opts.Tolerance {
		s.newMin = true
	}
	return stat, nil
}

type boundEnd struct {
	value       float64
	atLimit     bool
	unbracketed bool
}

// bound walks from v0 in direction dir, doubling the step until the
// statistic passes the target, then bisects the bracket.
func (s *searcher) bound(ctx context.Context, v0, dir float64) (boundEnd, error) {
	target := s.minimum + s.opts.DeltaStat
	step := s.p.Sigma
	if !(step > 0) {
		step = s.p.Delta()
	}
	inner := v0
	outer := math.NaN()
	for i := 0; i < s.opts.MaxIterations; i++ {
		x, hit := s.p.Clamp(v0 + dir*step)
		stat, err := s.statAt(ctx, x)
		if err != nil {
			return boundEnd{}, err
		}
		if stat >= target {
			outer = x
			break
		}
		inner = x
		if hit {
			return boundEnd{value: x, atLimit: true}, nil
		}
		step *= 2
	}
	if math.IsNaN(outer) {
		return boundEnd{value: inner, unbracketed: true}, nil
	}
	for i := 0; i < s.opts.MaxIterations; i++ {
		mid := 0.5 * (inner + outer)
		stat, err := s.statAt(ctx, mid)
		if err != nil {
			return boundEnd{}, err
		}
		if math.Abs(stat-target) < s.opts.Tolerance {
			return boundEnd{value: mid}, nil
		}
		if stat < target {
			inner = mid
		} else {
			outer = mid
		}
	}
	return boundEnd{value: 0.5 * (inner + outer)}, nil
}
