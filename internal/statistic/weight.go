package statistic

import (
	"fmt"
	"math"
	"strings"
)

// Weighting computes the per-channel variance, in counts squared, used by
// variance based statistics. errors may be nil.
type Weighting interface {
	Name() string
	Variance(counts, errors, model []float64) []float64
}

type standardWeighting struct{}

// Standard uses the data errors, falling back to the counts and then to 1.
func Standard() Weighting { return standardWeighting{} }

func (standardWeighting) Name() string { return "standard" }

func (standardWeighting) Variance(counts, errors, _ []float64) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		switch {
		case errors != nil && errors[i] > 0:
			out[i] = errors[i] * errors[i]
		case c > 0:
			out[i] = c
		default:
			out[i] = 1
		}
	}
	return out
}

type modelWeighting struct{}

// Model uses the predicted counts as the variance.
func Model() Weighting { return modelWeighting{} }

func (modelWeighting) Name() string { return "model" }

func (modelWeighting) Variance(counts, _, model []float64) []float64 {
	out := make([]float64, len(counts))
	for i := range counts {
		out[i] = 1
		if model != nil && model[i] > 0 {
			out[i] = model[i]
		}
	}
	return out
}

type churazovWeighting struct{}

// Churazov estimates the variance of each channel from the counts averaged
// over the channel and its immediate neighbours, floored at 1.
func Churazov() Weighting { return churazovWeighting{} }

func (churazovWeighting) Name() string { return "churazov" }

func (churazovWeighting) Variance(counts, _, _ []float64) []float64 {
	out := make([]float64, len(counts))
	for i := range counts {
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = 0
		}
		if hi >= len(counts) {
			hi = len(counts) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += counts[j]
		}
		mean := sum / float64(hi-lo+1)
		out[i] = math.Max(mean, 1)
	}
	return out
}

type gehrelsWeighting struct{}

// Gehrels uses the upper limit approximation (1 + sqrt(N + 0.75))^2.
func Gehrels() Weighting { return gehrelsWeighting{} }

func (gehrelsWeighting) Name() string { return "gehrels" }

func (gehrelsWeighting) Variance(counts, _, _ []float64) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		s := 1 + math.Sqrt(math.Max(c, 0)+0.75)
		out[i] = s * s
	}
	return out
}

// VarianceFunc is a caller supplied weighting.
type VarianceFunc func(counts, errors, model []float64) []float64

type userWeighting struct {
	fn VarianceFunc
}

func User(fn VarianceFunc) Weighting { return userWeighting{fn: fn} }

func (userWeighting) Name() string { return "user" }

func (u userWeighting) Variance(counts, errors, model []float64) []float64 {
	return u.fn(counts, errors, model)
}

func NormalizeWeightingName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard", "data":
		return "standard"
	case "model":
		return "model"
	case "churazov":
		return "churazov"
	case "gehrels":
		return "gehrels"
	case "user":
		return "user"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// WeightingFromConfig resolves a named weighting. The user weighting cannot
// be named; construct it with User.
func WeightingFromConfig(name string) (Weighting, error) {
	switch NormalizeWeightingName(name) {
	case "standard":
		return Standard(), nil
	case "model":
		return Model(), nil
	case "churazov":
		return Churazov(), nil
	case "gehrels":
		return Gehrels(), nil
	case "user":
		return nil, fmt.Errorf("%w: user weighting requires a variance function", ErrUnknownWeighting)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownWeighting, name)
	}
}
