package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"xspecfit/internal/param"
)

// curvature holds the statistic at a point with the approximate Hessian
// alpha and the downhill gradient beta over a list of parameters.
type curvature struct {
	stat    float64
	alpha   *mat.SymDense
	beta    []float64
	faulted []bool
	faults  []DerivativeFault
}

// curvature differentiates the folded model with respect to each parameter
// and assembles
//
//	beta_k   = -1/2 sum_i dS/dm_i dm_i/dp_k
//	alpha_kl =  1/2 sum_i d2S/dm_i2 dm_i/dp_k dm_i/dp_l
//
// Parameters in skip get zero rows. A parameter whose derivative cannot be
// computed is recorded as a fault and left out instead of failing the
// iteration.
func (f *Fit) curvature(params []*param.Parameter, skip map[*param.Parameter]bool, iteration int) (*curvature, error) {
	base, err := f.evaluate()
	if err != nil {
		return nil, err
	}
	n := len(params)
	c := &curvature{
		stat:    base.value,
		alpha:   mat.NewSymDense(n, nil),
		beta:    make([]float64, n),
		faulted: make([]bool, n),
	}
	derivs := make([][][]float64, n)
	for k, p := range params {
		if skip[p] {
			continue
		}
		d, err := f.derivative(p, base.model)
		if err != nil {
			c.faulted[k] = true
			c.faults = append(c.faults, DerivativeFault{
				Iteration: iteration,
				Index:     p.Index(),
				Label:     p.Label(),
				Err:       err,
				Message:   err.Error(),
			})
			continue
		}
		derivs[k] = d
	}

	for k := range params {
		if derivs[k] == nil {
			continue
		}
		for i := range base.model {
			for j, dm := range derivs[k][i] {
				c.beta[k] -= 0.5 * base.first[i][j] * dm
			}
		}
		for l := k; l < n; l++ {
			if derivs[l] == nil {
				continue
			}
			sum := 0.0
			for i := range base.model {
				dk, dl, second := derivs[k][i], derivs[l][i], base.second[i]
				for j := range dk {
					sum += 0.5 * second[j] * dk[j] * dl[j]
				}
			}
			c.alpha.SetSym(k, l, sum)
		}
	}
	return c, nil
}

// derivative is the forward difference of the noticed model counts with
// respect to p, stepping backwards when the forward step leaves the hard
// bounds. p is restored before returning.
func (f *Fit) derivative(p *param.Parameter, base [][]float64) ([][]float64, error) {
	v := p.Value()
	h := p.Delta()
	b := p.Bounds()
	if v+h > b.HardMax {
		h = -h
		if v+h < b.HardMin {
			return nil, fmt.Errorf("delta %g does not fit inside bounds [%g, %g]", p.Delta(), b.HardMin, b.HardMax)
		}
	}
	if err := p.ChangeValue(v+h, true); err != nil {
		return nil, err
	}
	shifted, err := f.predict()
	if restoreErr := p.ChangeValue(v, true); restoreErr != nil && err == nil {
		err = restoreErr
	}
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(base))
	for i := range base {
		out[i] = make([]float64, len(base[i]))
		for j := range base[i] {
			d := (shifted[i][j] - base[i][j]) / h
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, fmt.Errorf("non-finite derivative in channel %d", j+1)
			}
			out[i][j] = d
		}
	}
	return out, nil
}
