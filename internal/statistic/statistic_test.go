package statistic

import (
	"errors"
	"math"
	"testing"
)

func TestChiSquareValueAndDerivatives(t *testing.T) {
	chi := ChiSquare()
	counts := []float64{10, 4}
	model := []float64{8, 4}
	variance := Standard().Variance(counts, nil, model)
	ev, err := chi.Evaluate(counts, model, variance)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(ev.Value-0.4) > 1e-12 {
		t.Fatalf("chi: got=%f want=0.4", ev.Value)
	}
	if math.Abs(ev.First[0]-(-0.4)) > 1e-12 || ev.First[1] != 0 {
		t.Fatalf("unexpected first derivatives: %v", ev.First)
	}
	if math.Abs(ev.Second[0]-0.2) > 1e-12 {
		t.Fatalf("unexpected second derivative: %v", ev.Second)
	}
	if _, err := chi.Evaluate(counts, model[:1], variance); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestCStatMatchesNumericalDerivative(t *testing.T) {
	c := CStat()
	counts := []float64{5, 0, 2}
	model := []float64{4, 1.5, 2}
	ev, err := c.Evaluate(counts, model, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := 2*(4-5+5*math.Log(5.0/4)) + 2*1.5 + 0
	if math.Abs(ev.Value-want) > 1e-12 {
		t.Fatalf("cstat: got=%f want=%f", ev.Value, want)
	}
	const h = 1e-6
	for i := range model {
		up := append([]float64(nil), model...)
		up[i] += h
		shifted, err := c.Evaluate(counts, up, nil)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		numeric := (shifted.Value - ev.Value) / h
		if math.Abs(numeric-ev.First[i]) > 1e-4 {
			t.Fatalf("channel %d: analytic=%f numeric=%f", i, ev.First[i], numeric)
		}
	}
	if ev.Value < 0 {
		t.Fatal("cstat must be non-negative")
	}
}

func TestStatisticsRejectInvalidChannels(t *testing.T) {
	counts := []float64{3, 4}
	model := []float64{3, 3}
	for _, variance := range [][]float64{{1, 0}, {1, -2}, {math.NaN(), 1}} {
		if _, err := ChiSquare().Evaluate(counts, model, variance); !errors.Is(err, ErrInvalidChannel) {
			t.Fatalf("variance %v: expected ErrInvalidChannel, got %v", variance, err)
		}
	}
	if _, err := CStat().Evaluate([]float64{3, -1}, model, nil); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel for negative counts, got %v", err)
	}
}

func TestCheckWeight(t *testing.T) {
	for _, name := range []string{"standard", "model", "churazov", "gehrels"} {
		w, err := WeightingFromConfig(name)
		if err != nil {
			t.Fatalf("weighting %s: %v", name, err)
		}
		if err := ChiSquare().CheckWeight(w); err != nil {
			t.Fatalf("chi should accept %s: %v", name, err)
		}
	}
	if err := CStat().CheckWeight(Standard()); err != nil {
		t.Fatalf("cstat should accept standard: %v", err)
	}
	if err := CStat().CheckWeight(Churazov()); !errors.Is(err, ErrWeightRejected) {
		t.Fatalf("expected ErrWeightRejected, got %v", err)
	}
	if err := CStat().CheckWeight(Model()); !errors.Is(err, ErrWeightRejected) {
		t.Fatalf("expected ErrWeightRejected, got %v", err)
	}
	if _, err := WeightingFromConfig("user"); !errors.Is(err, ErrUnknownWeighting) {
		t.Fatalf("named user weighting must fail, got %v", err)
	}
}

func TestWeightingsHandleEmptyChannels(t *testing.T) {
	counts := []float64{0, 9, 0}
	model := []float64{0, 8, 2}
	cases := map[string][]float64{
		"standard": {1, 9, 1},
		"model":    {1, 8, 2},
		"churazov": {4.5, 3, 4.5},
		"gehrels":  {math.Pow(1+math.Sqrt(0.75), 2), math.Pow(1+math.Sqrt(9.75), 2), math.Pow(1+math.Sqrt(0.75), 2)},
	}
	for name, want := range cases {
		w, _ := WeightingFromConfig(name)
		got := w.Variance(counts, nil, model)
		for i := range want {
			if math.Abs(got[i]-want[i]) > 1e-12 {
				t.Fatalf("%s channel %d: got=%f want=%f", name, i, got[i], want[i])
			}
		}
	}
	errs := []float64{2, 0, 0.5}
	got := Standard().Variance(counts, errs, model)
	if got[0] != 4 || got[1] != 9 || got[2] != 0.25 {
		t.Fatalf("standard weighting should prefer data errors: %v", got)
	}
	user := User(func(counts, _, _ []float64) []float64 {
		out := make([]float64, len(counts))
		for i := range out {
			out[i] = 7
		}
		return out
	})
	if user.Name() != "user" || user.Variance(counts, nil, nil)[1] != 7 {
		t.Fatal("user weighting not applied")
	}
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig("Cash")
	if err != nil || s.Name() != "cstat" {
		t.Fatalf("expected cstat, got %v (%v)", s, err)
	}
	if _, err := FromConfig("pgstat"); !errors.Is(err, ErrUnknownStatistic) {
		t.Fatalf("expected ErrUnknownStatistic, got %v", err)
	}
}

func TestNullHypothesis(t *testing.T) {
	// chi-square with 2 dof has survival exp(-x/2)
	if got := NullHypothesis(2, 2); math.Abs(got-math.Exp(-1)) > 1e-9 {
		t.Fatalf("null hypothesis: got=%f want=%f", got, math.Exp(-1))
	}
	if !math.IsNaN(NullHypothesis(1, 0)) {
		t.Fatal("zero dof should give NaN")
	}
}

func TestGoodnessTests(t *testing.T) {
	model := []float64{10, 20, 30, 20, 10}
	for _, name := range GoodnessTests() {
		v, err := Goodness(name, model, model)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if math.Abs(v) > 1e-12 {
			t.Fatalf("%s: identical data should give 0, got %g", name, v)
		}
	}
	skewed := []float64{30, 20, 20, 10, 10}
	for _, name := range GoodnessTests() {
		v, err := Goodness(name, skewed, model)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !(v > 0) {
			t.Fatalf("%s: mismatched data should give a positive distance, got %g", name, v)
		}
	}
	ks, _ := KolmogorovSmirnov(skewed, model)
	if math.Abs(ks-20.0/90) > 1e-12 {
		t.Fatalf("ks: got=%f want=%f", ks, 20.0/90)
	}
	if _, err := Goodness("shapiro", model, model); !errors.Is(err, ErrUnknownTest) {
		t.Fatalf("expected ErrUnknownTest, got %v", err)
	}
	if _, err := Goodness("ks", model, model[:2]); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestSpectrumValidate(t *testing.T) {
	if err := (Spectrum{Counts: []float64{1}, Exposure: 1}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (Spectrum{Counts: []float64{1}}).Validate(); err == nil {
		t.Fatal("expected exposure error")
	}
	if err := (Spectrum{Counts: []float64{1}, Errors: []float64{1, 2}, Exposure: 1}).Validate(); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
