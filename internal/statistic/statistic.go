package statistic

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrWeightRejected   = errors.New("weighting rejected by statistic")
	ErrUnknownStatistic = errors.New("unknown statistic")
	ErrUnknownWeighting = errors.New("unknown weighting")
	ErrUnknownTest      = errors.New("unknown goodness test")
	ErrLengthMismatch   = errors.New("channel length mismatch")
	ErrInvalidChannel   = errors.New("invalid channel data")
)

// minModel keeps logarithms finite where the model predicts no counts.
const minModel = 1e-10

// Evaluation is a statistic value with its derivatives with respect to the
// predicted counts of every channel.
type Evaluation struct {
	Value  float64
	First  []float64
	Second []float64
}

// Statistic compares predicted counts against observed counts.
type Statistic interface {
	Name() string
	// CheckWeight reports whether the statistic can be used with w.
	CheckWeight(w Weighting) error
	// Evaluate is given observed counts, predicted counts and the variance
	// produced by the active weighting.
	Evaluate(counts, model, variance []float64) (Evaluation, error)
	// UsesVariance reports whether Evaluate reads the variance.
	UsesVariance() bool
}

type chiSquare struct{}

// ChiSquare is the weighted least squares statistic sum((d-m)^2/var).
func ChiSquare() Statistic { return chiSquare{} }

func (chiSquare) Name() string { return "chi" }

func (chiSquare) CheckWeight(w Weighting) error {
	if w == nil {
		return fmt.Errorf("%w: chi requires a weighting", ErrWeightRejected)
	}
	return nil
}

func (chiSquare) UsesVariance() bool { return true }

func (chiSquare) Evaluate(counts, model, variance []float64) (Evaluation, error) {
	if len(model) != len(counts) || len(variance) != len(counts) {
		return Evaluation{}, fmt.Errorf("%w: counts=%d model=%d variance=%d", ErrLengthMismatch, len(counts), len(model), len(variance))
	}
	ev := Evaluation{First: make([]float64, len(counts)), Second: make([]float64, len(counts))}
	for i := range counts {
		v := variance[i]
		if !(v > 0) || math.IsInf(v, 0) {
			return Evaluation{}, fmt.Errorf("%w: channel %d has variance %g", ErrInvalidChannel, i, v)
		}
		r := counts[i] - model[i]
		ev.Value += r * r / v
		ev.First[i] = -2 * r / v
		ev.Second[i] = 2 / v
	}
	return ev, nil
}

type cStat struct{}

// CStat is the Poisson likelihood ratio 2*sum(m - d + d*ln(d/m)).
func CStat() Statistic { return cStat{} }

func (cStat) Name() string { return "cstat" }

// CheckWeight accepts only the standard weighting, which cstat ignores. Any
// other choice implies Gaussian errors the likelihood does not use.
func (cStat) CheckWeight(w Weighting) error {
	if w == nil || w.Name() == "standard" {
		return nil
	}
	return fmt.Errorf("%w: cstat cannot use %s weighting", ErrWeightRejected, w.Name())
}

func (cStat) UsesVariance() bool { return false }

func (cStat) Evaluate(counts, model, _ []float64) (Evaluation, error) {
	if len(model) != len(counts) {
		return Evaluation{}, fmt.Errorf("%w: counts=%d model=%d", ErrLengthMismatch, len(counts), len(model))
	}
	ev := Evaluation{First: make([]float64, len(counts)), Second: make([]float64, len(counts))}
	for i, d := range counts {
		if d < 0 || math.IsNaN(d) {
			return Evaluation{}, fmt.Errorf("%w: channel %d has %g counts", ErrInvalidChannel, i, d)
		}
		m := math.Max(model[i], minModel)
		if d == 0 {
			ev.Value += 2 * m
			ev.First[i] = 2
			continue
		}
		ev.Value += 2 * (m - d + d*math.Log(d/m))
		ev.First[i] = 2 * (1 - d/m)
		ev.Second[i] = 2 * d / (m * m)
	}
	return ev, nil
}

func NormalizeName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "chi", "chisq", "chi2":
		return "chi"
	case "cstat", "c", "cash":
		return "cstat"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

func FromConfig(name string) (Statistic, error) {
	switch NormalizeName(name) {
	case "chi":
		return ChiSquare(), nil
	case "cstat":
		return CStat(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatistic, name)
	}
}

// NullHypothesis is the probability of a chi-square value at least as large
// as stat for dof degrees of freedom.
func NullHypothesis(stat float64, dof int) float64 {
	if dof <= 0 {
		return math.NaN()
	}
	return distuv.ChiSquared{K: float64(dof)}.Survival(stat)
}
