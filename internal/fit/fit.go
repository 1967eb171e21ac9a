package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"xspecfit/internal/param"
	"xspecfit/internal/statistic"
)

type Options struct {
	MaxIterations int
	// CriticalDelta is the statistic change below which an iteration counts
	// towards convergence.
	CriticalDelta float64
	ConvergeCount int
	InitialLambda float64
	// LambdaMax ends the fit as converged when no step downhill is found
	// before lambda exceeds it.
	LambdaMax float64
}

func DefaultOptions() Options {
	return Options{
		MaxIterations: 100,
		CriticalDelta: 0.01,
		ConvergeCount: 1,
		InitialLambda: 0.001,
		LambdaMax:     1e10,
	}
}

func (o Options) Validate() error {
	if o.MaxIterations <= 0 {
		return errors.New("max iterations must be > 0")
	}
	if o.CriticalDelta < 0 {
		return errors.New("critical delta must be >= 0")
	}
	if o.ConvergeCount <= 0 {
		return errors.New("converge count must be > 0")
	}
	if o.InitialLambda <= 0 {
		return errors.New("initial lambda must be > 0")
	}
	if o.LambdaMax <= o.InitialLambda {
		return errors.New("lambda max must exceed initial lambda")
	}
	return nil
}

// Fit owns a model, its datasets, the statistic and the minimization
// method for one fit session.
type Fit struct {
	model     *Model
	stat      statistic.Statistic
	weight    statistic.Weighting
	method    Method
	options   Options
	observers Observers
}

// New checks that the statistic accepts the weighting and that the link
// graph is valid. A nil weighting means standard.
func New(model *Model, stat statistic.Statistic, weight statistic.Weighting, opts Options) (*Fit, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if stat == nil {
		return nil, errors.New("statistic is required")
	}
	if weight == nil {
		weight = statistic.Standard()
	}
	if err := stat.CheckWeight(weight); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := model.params.CheckLinks(); err != nil {
		return nil, err
	}
	return &Fit{
		model:   model,
		stat:    stat,
		weight:  weight,
		method:  LevenbergMarquardt{},
		options: opts,
	}, nil
}

func (f *Fit) Model() *Model { return f.model }

func (f *Fit) Statistic() statistic.Statistic { return f.stat }

func (f *Fit) Weighting() statistic.Weighting { return f.weight }

func (f *Fit) Options() Options { return f.options }

func (f *Fit) Method() Method { return f.method }

func (f *Fit) SetMethod(m Method) {
	if m != nil {
		f.method = m
	}
}

func (f *Fit) AddObserver(o Observer) {
	if o != nil {
		f.observers = append(f.observers, o)
	}
}

// Clone copies the fit onto an independent model. Observers are not copied.
func (f *Fit) Clone() (*Fit, error) {
	model, err := f.model.Clone()
	if err != nil {
		return nil, err
	}
	return &Fit{model: model, stat: f.stat, weight: f.weight, method: f.method, options: f.options}, nil
}

// FreeParams lists the parameters the optimizer may vary: not frozen, not
// linked and not owned by an additive component with zero norm.
func (f *Fit) FreeParams() []*param.Parameter {
	inactive := f.model.inactive()
	var out []*param.Parameter
	for _, p := range f.model.params.Free() {
		if !inactive[p] {
			out = append(out, p)
		}
	}
	return out
}

// DOF is the number of noticed channels minus the number of free
// parameters that are not pegged at a hard limit.
func (f *Fit) DOF() int {
	channels := 0
	for _, d := range f.model.datasets {
		channels += len(d.Noticed())
	}
	for _, p := range f.FreeParams() {
		if !p.Pegged {
			channels--
		}
	}
	return channels
}

type evaluation struct {
	value  float64
	model  [][]float64
	first  [][]float64
	second [][]float64
}

// predict returns noticed model counts per dataset.
func (f *Fit) predict() ([][]float64, error) {
	counts, err := f.model.Predict(false)
	if err != nil {
		return nil, err
	}
	for i, d := range f.model.datasets {
		counts[i] = d.selectNoticed(counts[i])
	}
	return counts, nil
}

func (f *Fit) evaluate() (evaluation, error) {
	predicted, err := f.predict()
	if err != nil {
		return evaluation{}, err
	}
	ev := evaluation{
		model:  predicted,
		first:  make([][]float64, len(predicted)),
		second: make([][]float64, len(predicted)),
	}
	for i, d := range f.model.datasets {
		counts := d.selectNoticed(d.Spectrum.Counts)
		var variance []float64
		if f.stat.UsesVariance() {
			variance = f.weight.Variance(counts, d.selectNoticed(d.Spectrum.Errors), predicted[i])
		}
		part, err := f.stat.Evaluate(counts, predicted[i], variance)
		if err != nil {
			return evaluation{}, &DataError{Dataset: d.Name, Err: err}
		}
		if math.IsNaN(part.Value) || math.IsInf(part.Value, 0) {
			return evaluation{}, &DataError{Dataset: d.Name, Err: fmt.Errorf("%s statistic is not finite", f.stat.Name())}
		}
		ev.value += part.Value
		ev.first[i] = part.First
		ev.second[i] = part.Second
	}
	return ev, nil
}

// StatisticValue evaluates the statistic at the current parameter values.
func (f *Fit) StatisticValue() (float64, error) {
	ev, err := f.evaluate()
	if err != nil {
		return 0, err
	}
	return ev.value, nil
}

// Predicted returns the model counts of every dataset over all channels.
func (f *Fit) Predicted() ([][]float64, error) {
	return f.model.Predict(true)
}

// Goodness runs a goodness test on the noticed channels of all datasets.
func (f *Fit) Goodness(test string) (float64, error) {
	predicted, err := f.predict()
	if err != nil {
		return 0, err
	}
	var counts, model []float64
	for i, d := range f.model.datasets {
		counts = append(counts, d.selectNoticed(d.Spectrum.Counts)...)
		model = append(model, predicted[i]...)
	}
	return statistic.Goodness(test, counts, model)
}

// Perform runs the fit method from the current parameter values. The
// energy registry is sealed while it runs. A data error restores the
// starting parameters; every other outcome leaves the last accepted point.
func (f *Fit) Perform(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table := f.model.params
	if err := table.CheckLinks(); err != nil {
		return nil, err
	}
	if len(f.FreeParams()) == 0 {
		return nil, ErrNoFreeParameters
	}

	f.model.energies.Seal()
	defer f.model.energies.Unseal()

	start := table.Snapshot()
	for _, p := range table.All() {
		p.Pegged = false
		p.Sigma = 0
	}
	r := &Result{Method: f.method.Name()}
	if err := f.method.Minimize(ctx, f, r); err != nil {
		_ = table.Restore(start)
		return nil, err
	}
	var dataErr *DataError
	if r.Status == StatusError && errors.As(r.Err, &dataErr) {
		_ = table.Restore(start)
		for _, p := range table.All() {
			p.Pegged = false
		}
	}
	f.finish(r)
	f.observers.Done(r)
	return r, nil
}

// finish fills the parameter table, pegged names, degrees of freedom and,
// unless the fit failed, the covariance of the free parameters.
func (f *Fit) finish(r *Result) {
	r.DOF = f.DOF()
	if r.Status != StatusError {
		f.covariance(r)
	}
	r.Pegged = r.Pegged[:0]
	for _, p := range f.model.params.All() {
		if p.Pegged {
			r.Pegged = append(r.Pegged, p.Label())
		}
	}
	r.Params = f.paramResults()
}

func (f *Fit) covariance(r *Result) {
	var active []*param.Parameter
	for _, p := range f.FreeParams() {
		if !p.Pegged {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return
	}
	curv, err := f.curvature(active, nil, r.Iterations)
	if err != nil {
		return
	}
	var usable []int
	for k := range active {
		if !curv.faulted[k] {
			usable = append(usable, k)
		}
	}
	if len(usable) == 0 {
		return
	}
	alpha := mat.NewSymDense(len(usable), nil)
	for i, k := range usable {
		for j := i; j < len(usable); j++ {
			alpha.SetSym(i, j, curv.alpha.At(k, usable[j]))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(alpha); !ok {
		return
	}
	cov := mat.NewSymDense(len(usable), nil)
	if err := chol.InverseTo(cov); err != nil {
		return
	}
	r.Covariance = cov
	for i, k := range usable {
		if v := cov.At(i, i); v > 0 {
			active[k].Sigma = math.Sqrt(v)
		}
	}
}

func (f *Fit) paramResults() []ParamResult {
	all := f.model.params.All()
	out := make([]ParamResult, len(all))
	for i, p := range all {
		out[i] = ParamResult{
			Index:   p.Index(),
			Label:   p.Label(),
			Unit:    p.Unit,
			Value:   p.Value(),
			Sigma:   p.Sigma,
			ErrLow:  p.ErrLow,
			ErrHigh: p.ErrHigh,
			Frozen:  p.Frozen(),
			Link:    p.LinkExpression(),
			Pegged:  p.Pegged,
		}
	}
	return out
}

func (f *Fit) report(method string, iteration int, stat, lambda float64) Report {
	free := f.FreeParams()
	r := Report{Method: method, Iteration: iteration, Statistic: stat, Lambda: lambda}
	for _, p := range free {
		r.Params = append(r.Params, ParamValue{Index: p.Index(), Label: p.Label(), Value: p.Value()})
	}
	sort.Slice(r.Params, func(i, j int) bool { return r.Params[i].Index < r.Params[j].Index })
	return r
}
