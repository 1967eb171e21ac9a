package fit

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"xspecfit/internal/param"
)

const (
	lambdaDown = 10
	lambdaUp   = 10
)

// LevenbergMarquardt minimizes the statistic with damped Gauss-Newton
// steps. Accepted steps never increase the statistic; a parameter clamped
// to a hard bound by an accepted step is pegged and stays fixed for the
// rest of the fit.
type LevenbergMarquardt struct{}

func (LevenbergMarquardt) Name() string { return "leven" }

func (lm LevenbergMarquardt) Minimize(ctx context.Context, f *Fit, r *Result) error {
	opts := f.options
	free := f.FreeParams()
	pegged := make(map[*param.Parameter]bool)

	curv, err := f.curvature(free, pegged, 0)
	if err != nil {
		r.Status = StatusError
		r.Err = err
		return nil
	}
	r.DerivativeFaults = append(r.DerivativeFaults, curv.faults...)
	stat := curv.stat
	lambda := opts.InitialLambda
	r.Statistic = stat
	r.History = append(r.History, stat)
	r.Lambda = lambda

	quiet := 0
	for iter := 1; ; iter++ {
		if iter > opts.MaxIterations {
			r.Status = StatusMaxIterations
			return nil
		}
		if ctx.Err() != nil {
			r.Status = StatusInterrupted
			return nil
		}
		r.Iterations = iter

		var active []int
		for k, p := range free {
			if !pegged[p] && !curv.faulted[k] {
				active = append(active, k)
			}
		}
		if len(active) == 0 {
			r.Status = StatusError
			r.Err = fmt.Errorf("%w: no parameter could be differentiated", ErrSingularMatrix)
			return nil
		}

		base := make([]float64, len(free))
		for k, p := range free {
			base[k] = p.Value()
		}

		accepted := false
		var trialStat float64
		var newlyPegged []*param.Parameter
		for {
			step, err := solveDamped(curv.alpha, curv.beta, active, lambda)
			if err != nil {
				var singular *singularError
				if errors.As(err, &singular) {
					err = fmt.Errorf("%w: parameter %s", ErrSingularMatrix, free[singular.param].Label())
				}
				r.Status = StatusError
				r.Err = err
				return nil
			}
			newlyPegged = newlyPegged[:0]
			for i, k := range active {
				p := free[k]
				v, hit := p.Clamp(base[k] + step[i])
				if err := p.ChangeValue(v, true); err != nil {
					r.Status = StatusError
					r.Err = err
					return nil
				}
				if hit {
					newlyPegged = append(newlyPegged, p)
				}
			}
			trialStat, err = f.StatisticValue()
			if err != nil {
				r.Status = StatusError
				r.Err = err
				return nil
			}
			if trialStat <= stat {
				accepted = true
				break
			}
			for _, k := range active {
				_ = free[k].ChangeValue(base[k], true)
			}
			lambda *= lambdaUp
			if lambda > opts.LambdaMax {
				break
			}
		}
		if !accepted {
			// no downhill step at any damping: the current point is the minimum
			r.Lambda = lambda
			r.Status = StatusConverged
			return nil
		}

		lambda /= lambdaDown
		change := stat - trialStat
		stat = trialStat
		for _, p := range newlyPegged {
			pegged[p] = true
			p.Pegged = true
		}
		r.Statistic = stat
		r.Lambda = lambda
		r.History = append(r.History, stat)

		curv, err = f.curvature(free, pegged, iter)
		if err != nil {
			r.Status = StatusError
			r.Err = err
			return nil
		}
		r.DerivativeFaults = append(r.DerivativeFaults, curv.faults...)
		f.observers.Iteration(f.report(lm.Name(), iter, stat, lambda))

		if len(pegged) == len(free) {
			r.Status = StatusPegged
			return nil
		}
		if change < opts.CriticalDelta {
			quiet++
			if quiet >= opts.ConvergeCount {
				r.Status = StatusConverged
				return nil
			}
		} else {
			quiet = 0
		}
	}
}

type singularError struct {
	param int
}

func (e *singularError) Error() string {
	return fmt.Sprintf("zero curvature for free parameter %d", e.param)
}

// solveDamped solves (alpha + lambda*diag(alpha)) x = beta restricted to
// the active parameters.
func solveDamped(alpha *mat.SymDense, beta []float64, active []int, lambda float64) ([]float64, error) {
	n := len(active)
	a := mat.NewSymDense(n, nil)
	b := mat.NewVecDense(n, nil)
	for i, k := range active {
		d := alpha.At(k, k)
		if !(d > 0) {
			return nil, &singularError{param: k}
		}
		for j := i + 1; j < n; j++ {
			a.SetSym(i, j, alpha.At(k, active[j]))
		}
		a.SetSym(i, i, d*(1+lambda))
		b.SetVec(i, beta[k])
	}

	x := mat.NewVecDense(n, nil)
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(x, b); err == nil {
			return x.RawVector().Data, nil
		}
	}
	var lu mat.LU
	lu.Factorize(a)
	if err := lu.SolveVecTo(x, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	return x.RawVector().Data, nil
}
