package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

// Method is a minimization algorithm. Fit.Perform prepares the session,
// calls Minimize and assembles the result; Minimize only moves the free
// parameters and records status, iterations and statistic history in r.
// It returns an error only when it cannot run at all.
type Method interface {
	Name() string
	Minimize(ctx context.Context, f *Fit, r *Result) error
}

func NormalizeMethodName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "leven", "levenberg", "levenberg_marquardt", "lm":
		return "leven"
	case "simplex", "nelder_mead", "nelder-mead":
		return "simplex"
	case "anneal", "annealing":
		return "anneal"
	case "genetic", "ga":
		return "genetic"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

func MethodFromConfig(name string) (Method, error) {
	switch NormalizeMethodName(name) {
	case "leven":
		return LevenbergMarquardt{}, nil
	case "simplex":
		return Simplex{}, nil
	case "anneal":
		return placeholder{name: "anneal"}, nil
	case "genetic":
		return placeholder{name: "genetic"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
}

// Methods lists the method names MethodFromConfig accepts.
func Methods() []string {
	return []string{"anneal", "genetic", "leven", "simplex"}
}

// placeholder stands in for methods that are registered but not available.
type placeholder struct {
	name string
}

func (p placeholder) Name() string { return p.name }

func (p placeholder) Minimize(context.Context, *Fit, *Result) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, p.name)
}

// Simplex minimizes with the Nelder-Mead method. Trial points are clamped
// to the hard bounds; it uses no derivatives.
type Simplex struct{}

const minSimplexQuiet = 10

func (Simplex) Name() string { return "simplex" }

func (s Simplex) Minimize(ctx context.Context, f *Fit, r *Result) error {
	opts := f.options
	free := f.FreeParams()
	x0 := make([]float64, len(free))
	for i, p := range free {
		x0[i] = p.Value()
	}

	var evalErr error
	apply := func(x []float64) error {
		for i, p := range free {
			v, _ := p.Clamp(x[i])
			if err := p.ChangeValue(v, true); err != nil {
				return err
			}
		}
		return nil
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if err := apply(x); err != nil {
				evalErr = err
				return math.Inf(1)
			}
			v, err := f.StatisticValue()
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			return v
		},
	}

	start, err := f.StatisticValue()
	if err != nil {
		r.Status = StatusError
		r.Err = err
		return nil
	}
	r.Statistic = start
	r.History = append(r.History, start)

	// the best vertex can stay put for several iterations
	quiet := opts.ConvergeCount
	if quiet < minSimplexQuiet {
		quiet = minSimplexQuiet
	}
	rec := &simplexRecorder{ctx: ctx, fit: f, result: r, apply: apply, evalErr: &evalErr, name: s.Name()}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.CriticalDelta,
			Iterations: quiet,
		},
		Recorder: rec,
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})

	switch {
	case evalErr != nil:
		r.Status = StatusError
		r.Err = evalErr
		return nil
	case ctx.Err() != nil:
		r.Status = StatusInterrupted
	case res == nil:
		r.Status = StatusError
		r.Err = err
		return nil
	case res.Status == optimize.IterationLimit || res.Status == optimize.FunctionEvaluationLimit:
		r.Status = StatusMaxIterations
	default:
		r.Status = StatusConverged
	}

	best, bestF := x0, start
	if rec.best != nil && rec.bestF < bestF {
		best, bestF = rec.best, rec.bestF
	}
	if res != nil {
		r.Iterations = res.Stats.MajorIterations
		if res.F < bestF {
			best, bestF = res.X, res.F
		}
	}
	if err := apply(best); err != nil {
		r.Status = StatusError
		r.Err = err
		return nil
	}
	r.Statistic = bestF
	return nil
}

type simplexRecorder struct {
	ctx     context.Context
	fit     *Fit
	result  *Result
	apply   func([]float64) error
	evalErr *error
	name    string
	best    []float64
	bestF   float64
	iter    int
}

var errInterrupted = errors.New("interrupted")

func (s *simplexRecorder) Init() error {
	s.bestF = math.Inf(1)
	return nil
}

func (s *simplexRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if *s.evalErr != nil {
		return *s.evalErr
	}
	if op != optimize.MajorIteration {
		return nil
	}
	if loc.F < s.bestF {
		s.bestF = loc.F
		s.best = append(s.best[:0], loc.X...)
	}
	s.iter++
	if loc.F <= s.result.Statistic {
		s.result.Statistic = loc.F
		s.result.History = append(s.result.History, loc.F)
	}
	if s.best != nil {
		if err := s.apply(s.best); err != nil {
			return err
		}
	}
	s.fit.observers.Iteration(s.fit.report(s.name, s.iter, s.bestF, 0))
	if s.ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}
