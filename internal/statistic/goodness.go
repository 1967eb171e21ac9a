package statistic

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// GoodnessFunc measures the distance between observed and predicted counts
// after a fit. Larger values mean a worse match.
type GoodnessFunc func(counts, model []float64) (float64, error)

var goodnessTests = map[string]GoodnessFunc{
	"ks":    KolmogorovSmirnov,
	"cvm":   CramerVonMises,
	"ad":    AndersonDarling,
	"cusum": Cusum,
}

func GoodnessTests() []string {
	names := make([]string, 0, len(goodnessTests))
	for name := range goodnessTests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Goodness(name string, counts, model []float64) (float64, error) {
	fn, ok := goodnessTests[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTest, name)
	}
	return fn(counts, model)
}

// cumulative returns the normalized cumulative distributions of counts and
// model across channels.
func cumulative(counts, model []float64) ([]float64, []float64, error) {
	if len(counts) != len(model) {
		return nil, nil, fmt.Errorf("%w: counts=%d model=%d", ErrLengthMismatch, len(counts), len(model))
	}
	if len(counts) == 0 {
		return nil, nil, fmt.Errorf("%w: no channels", ErrLengthMismatch)
	}
	data := floats.CumSum(make([]float64, len(counts)), counts)
	pred := floats.CumSum(make([]float64, len(model)), model)
	dTotal, mTotal := data[len(data)-1], pred[len(pred)-1]
	if dTotal <= 0 || mTotal <= 0 {
		return nil, nil, fmt.Errorf("goodness test needs positive total counts and model")
	}
	floats.Scale(1/dTotal, data)
	floats.Scale(1/mTotal, pred)
	return data, pred, nil
}

// KolmogorovSmirnov is the largest distance between the cumulative data and
// model distributions.
func KolmogorovSmirnov(counts, model []float64) (float64, error) {
	data, pred, err := cumulative(counts, model)
	if err != nil {
		return 0, err
	}
	diff := make([]float64, len(data))
	floats.SubTo(diff, data, pred)
	return math.Max(floats.Max(diff), -floats.Min(diff)), nil
}

// CramerVonMises integrates the squared distance between the cumulative
// distributions weighted by the model.
func CramerVonMises(counts, model []float64) (float64, error) {
	data, pred, err := cumulative(counts, model)
	if err != nil {
		return 0, err
	}
	mTotal := floats.Sum(model)
	sum := 0.0
	for i := range data {
		d := data[i] - pred[i]
		sum += d * d * model[i] / mTotal
	}
	return sum, nil
}

// AndersonDarling is CramerVonMises with tail weighting 1/(F(1-F)).
func AndersonDarling(counts, model []float64) (float64, error) {
	data, pred, err := cumulative(counts, model)
	if err != nil {
		return 0, err
	}
	mTotal := floats.Sum(model)
	sum := 0.0
	for i := range data {
		f := pred[i]
		if f <= 0 || f >= 1 {
			continue
		}
		d := data[i] - f
		sum += d * d / (f * (1 - f)) * model[i] / mTotal
	}
	return sum, nil
}

// Cusum is the largest absolute cumulative residual in units of the square
// root of the total model counts.
func Cusum(counts, model []float64) (float64, error) {
	if len(counts) != len(model) {
		return 0, fmt.Errorf("%w: counts=%d model=%d", ErrLengthMismatch, len(counts), len(model))
	}
	mTotal := floats.Sum(model)
	if mTotal <= 0 {
		return 0, fmt.Errorf("goodness test needs positive total model")
	}
	resid := make([]float64, len(counts))
	floats.SubTo(resid, counts, model)
	floats.CumSum(resid, resid)
	return math.Max(floats.Max(resid), -floats.Min(resid)) / math.Sqrt(mTotal), nil
}
