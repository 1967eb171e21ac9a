package component

import (
	"errors"
	"math"
	"strings"
	"testing"

	"xspecfit/internal/param"
)

func linearGrid(n int) []float64 {
	out := make([]float64, n+1)
	for i := range out {
		out[i] = 1 + float64(i)
	}
	return out
}

// orderLibrary holds components whose results depend on evaluation order.
func orderLibrary(t *testing.T, calls *int) *Library {
	t.Helper()
	lib := NewLibrary()
	lib.MustRegister(Definition{
		Name: "ramp",
		Kind: Additive,
		Flux: func(_, _, flux, _ []float64) error {
			if calls != nil {
				*calls++
			}
			for i := range flux {
				flux[i] = float64(i + 1)
			}
			return nil
		},
	})
	lib.MustRegister(Definition{
		Name: "tilt",
		Kind: Multiplicative,
		Factor: func(_, _, factor []float64) error {
			for i := range factor {
				factor[i] = float64(i + 1)
			}
			return nil
		},
	})
	lib.MustRegister(Definition{
		Name: "shift",
		Kind: Convolution,
		Convolve: func(_, _, flux []float64) error {
			for i := len(flux) - 1; i > 0; i-- {
				flux[i] = flux[i-1]
			}
			flux[0] = 0
			return nil
		},
	})
	lib.MustRegister(Definition{
		Name: "slope",
		Kind: Additive,
		Params: []param.Spec{
			{Name: "a", Value: 1, HardMin: -10, HardMax: 10},
		},
		Flux: func(_, params, flux, _ []float64) error {
			for i := range flux {
				flux[i] = params[0] * float64(i)
			}
			return nil
		},
	})
	return lib
}

func TestLibraryRegisterValidation(t *testing.T) {
	lib := NewLibrary()
	if err := lib.Register(Definition{Kind: Additive}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected name error, got %v", err)
	}
	if err := lib.Register(Definition{Name: "x", Kind: Additive}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected missing function error, got %v", err)
	}
	if err := lib.Register(Definition{Name: "x", Kind: Multiplicative, AMX: true, Factor: constantFactor}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected AMX kind error, got %v", err)
	}
	if err := lib.Register(Definition{
		Name:   "x",
		Kind:   Additive,
		Params: []param.Spec{{Name: "norm", Value: 1}},
		Flux:   powerlawFlux,
	}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected explicit norm error, got %v", err)
	}
	def := Definition{Name: "Flat", Kind: Multiplicative, Factor: constantFactor}
	if err := lib.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lib.Register(def); !errors.Is(err, ErrComponentExists) {
		t.Fatalf("expected ErrComponentExists, got %v", err)
	}
}

func TestLibraryLookupAbbreviations(t *testing.T) {
	lib := BuiltinLibrary()
	def, err := lib.Lookup("po")
	if err != nil || def.Name != "powerlaw" {
		t.Fatalf("expected powerlaw, got %q (%v)", def.Name, err)
	}
	if def, err := lib.Lookup("GAUSSIAN"); err != nil || def.Name != "gaussian" {
		t.Fatalf("expected case-insensitive lookup, got %q (%v)", def.Name, err)
	}
	if _, err := lib.Lookup("co"); !errors.Is(err, ErrAmbiguousComponent) {
		t.Fatalf("expected ErrAmbiguousComponent, got %v", err)
	}
	if _, err := lib.Lookup("p"); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("single letters must not abbreviate, got %v", err)
	}
	names := lib.List()
	if len(names) != 10 || names[0] != "bbody" {
		t.Fatalf("unexpected builtin list: %v", names)
	}
	if got := strings.Join(def.ParamNames(), ","); got != "PhoIndex,norm" {
		t.Fatalf("unexpected powerlaw parameters: %s", got)
	}
}

func TestPowerlawFlux(t *testing.T) {
	flux := make([]float64, 1)
	if err := powerlawFlux([]float64{1, 2}, []float64{1}, flux, nil); err != nil {
		t.Fatalf("powerlaw: %v", err)
	}
	if math.Abs(flux[0]-math.Ln2) > 1e-12 {
		t.Fatalf("gamma=1: got=%f want=%f", flux[0], math.Ln2)
	}
	if err := powerlawFlux([]float64{1, 2}, []float64{2}, flux, nil); err != nil {
		t.Fatalf("powerlaw: %v", err)
	}
	if math.Abs(flux[0]-0.5) > 1e-12 {
		t.Fatalf("gamma=2: got=%f want=0.5", flux[0])
	}
	if err := powerlawFlux([]float64{0, 1}, []float64{2}, flux, nil); !errors.Is(err, errNonPositiveEnergy) {
		t.Fatalf("expected errNonPositiveEnergy, got %v", err)
	}
}

func TestGaussianIntegratesToOne(t *testing.T) {
	energies := make([]float64, 201)
	for i := range energies {
		energies[i] = float64(i) * 0.1
	}
	flux := make([]float64, 200)
	if err := gaussianFlux(energies, []float64{10, 0.5}, flux, nil); err != nil {
		t.Fatalf("gaussian: %v", err)
	}
	sum := 0.0
	for _, f := range flux {
		sum += f
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected unit line flux, got %f", sum)
	}
	if err := gaussianFlux(energies, []float64{10.05, 0}, flux, nil); err != nil {
		t.Fatalf("gaussian: %v", err)
	}
	if flux[100] != 1 {
		t.Fatalf("zero width line should land in a single bin: %v", flux[99:102])
	}
}

func TestConvolutionsConserveFlux(t *testing.T) {
	energies := make([]float64, 101)
	for i := range energies {
		energies[i] = 1 + float64(i)*0.1
	}
	flux := make([]float64, 100)
	flux[50] = 3
	if err := gsmoothConvolve(energies, []float64{0.2, 0}, flux); err != nil {
		t.Fatalf("gsmooth: %v", err)
	}
	sum := 0.0
	for _, f := range flux {
		sum += f
	}
	if math.Abs(sum-3) > 1e-9 || flux[50] >= 3 {
		t.Fatalf("gsmooth should spread but conserve flux: sum=%f peak=%f", sum, flux[50])
	}

	shifted := make([]float64, 100)
	shifted[80] = 2
	if err := zashiftConvolve(energies, []float64{0.1}, shifted); err != nil {
		t.Fatalf("zashift: %v", err)
	}
	sum = 0
	for _, f := range shifted {
		sum += f
	}
	if math.Abs(sum-2) > 1e-9 {
		t.Fatalf("zashift should conserve in-grid flux: %f", sum)
	}
	if shifted[80] != 0 {
		t.Fatalf("flux should move to lower observed energies")
	}
}

func TestCrosstalkMixWeightsByEfficiency(t *testing.T) {
	groups := []MixGroup{
		{Group: 1, Flux: []float64{1, 1}, Efficiency: []float64{3, 1}},
		{Group: 2, Flux: []float64{5, 5}, Efficiency: []float64{1, 1}},
	}
	if err := crosstalkMix([]float64{0.5}, groups); err != nil {
		t.Fatalf("crosstalk: %v", err)
	}
	// bin 0 mean = (3*1 + 1*5)/4 = 2, bin 1 mean = 3
	if groups[0].Flux[0] != 1.5 || groups[1].Flux[0] != 3.5 || groups[0].Flux[1] != 2 {
		t.Fatalf("unexpected mixed flux: %v %v", groups[0].Flux, groups[1].Flux)
	}
	bad := []MixGroup{{Flux: []float64{1}}, {Flux: []float64{1, 2}}}
	if err := crosstalkMix([]float64{0.5}, bad); err == nil {
		t.Fatal("expected grid mismatch error")
	}
}

func TestBuildCanonicalExpression(t *testing.T) {
	tree, err := Build(BuiltinLibrary(), "ex*gs(po + ga)", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := tree.String(); got != "gsmooth(expabs*(powerlaw + gaussian))" {
		t.Fatalf("unexpected canonical expression: %q", got)
	}
	if tree.Expression() != "ex*gs(po + ga)" {
		t.Fatalf("expression as written should be kept: %q", tree.Expression())
	}

	reordered, err := Build(BuiltinLibrary(), "expabs*gsmooth(powerlaw)", 1)
	if err != nil {
		t.Fatalf("build reordered: %v", err)
	}
	if got := reordered.String(); got != "gsmooth(expabs*powerlaw)" {
		t.Fatalf("factors must be shown inside the convolution: %q", got)
	}
	comps := tree.Components()
	want := []string{"expabs", "gsmooth", "powerlaw", "gaussian"}
	for i, c := range comps {
		if c.Name() != want[i] || c.Seq() != i+1 {
			t.Fatalf("component %d: got %s<%d> want %s<%d>", i, c.Name(), c.Seq(), want[i], i+1)
		}
	}
	params := tree.Params()
	if len(params) != 8 {
		t.Fatalf("expected 8 parameters, got %d", len(params))
	}
	if params[7].Name != "norm" || params[7].Component != "gaussian<4>" {
		t.Fatalf("unexpected last parameter: %s of %s", params[7].Name, params[7].Component)
	}
	if comps[2].Norm() == nil || comps[0].Norm() != nil {
		t.Fatal("only additive components carry a norm")
	}
}

func TestBuildRejectsMalformedModels(t *testing.T) {
	lib := BuiltinLibrary()
	cases := []string{
		"",
		"powerlaw*gaussian",
		"constant",
		"constant*expabs",
		"gsmooth",
		"powerlaw(gaussian)",
		"constant*crosstalk(powerlaw)",
		"powerlaw + constant",
		"gsmooth(constant)",
		"powerlaw +",
		"powerlaw)",
		"(powerlaw",
		"powerlaw - gaussian",
	}
	for _, expr := range cases {
		if _, err := Build(lib, expr, 1); !errors.Is(err, ErrMalformedModel) {
			t.Fatalf("%q: expected ErrMalformedModel, got %v", expr, err)
		}
	}
	if _, err := Build(lib, "nosuchmodel", 1); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("expected ErrComponentNotFound, got %v", err)
	}
}

func TestBuildMixingAtRoot(t *testing.T) {
	tree, err := Build(BuiltinLibrary(), "crosstalk(constant*powerlaw)", 2)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tree.Mixing() == nil || !tree.Mixing().AMX() {
		t.Fatal("expected AMX mixing component")
	}
	if tree.Group() != 2 || tree.Params()[0].Group != 2 {
		t.Fatal("components must carry their data group")
	}
}

func TestEvaluationOrderIsFixed(t *testing.T) {
	lib := orderLibrary(t, nil)
	energies := linearGrid(4)

	tree, err := Build(lib, "tilt*shift(ramp)", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := tree.Evaluate(1, energies, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// additive, then multiplicative, then convolution
	want := []float64{0, 1, 4, 9}
	// convolution before multiplication would give {0, 2, 6, 12}
	reordered := []float64{0, 2, 6, 12}
	differs := false
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bin %d: got=%f want=%f", i, got[i], want[i])
		}
		if got[i] != reordered[i] {
			differs = true
		}
	}
	if !differs {
		t.Fatal("composition across kinds should not commute")
	}

	same, err := Build(lib, "shift(tilt*ramp)", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	again, err := same.Evaluate(1, energies, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i := range want {
		if again[i] != want[i] {
			t.Fatalf("equivalent expression differs at %d: %f", i, again[i])
		}
	}
}

func TestEvaluateSumsAdditiveTerms(t *testing.T) {
	lib := orderLibrary(t, nil)
	tree, err := Build(lib, "ramp + slope", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	norm := tree.Components()[1].Norm()
	if err := norm.ChangeValue(2, false); err != nil {
		t.Fatalf("norm: %v", err)
	}
	flux, err := tree.Evaluate(1, linearGrid(3), true)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []float64{1, 4, 7}
	for i := range want {
		if flux[i] != want[i] {
			t.Fatalf("bin %d: got=%f want=%f", i, flux[i], want[i])
		}
	}
	saved := tree.Components()[1].SavedFlux()
	if len(saved) != 3 || saved[2] != 4 {
		t.Fatalf("unexpected saved component flux: %v", saved)
	}
}

func TestCalculateReusesUnchangedFlux(t *testing.T) {
	calls := 0
	lib := orderLibrary(t, &calls)
	tree, err := Build(lib, "ramp", 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	energies := linearGrid(3)
	if _, err := tree.Evaluate(1, energies, false); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	norm := tree.Components()[0].Norm()
	_ = norm.ChangeValue(3, false)
	flux, err := tree.Evaluate(1, energies, false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("norm change must not recompute the shape, calls=%d", calls)
	}
	if flux[2] != 9 {
		t.Fatalf("norm not applied to cached flux: %v", flux)
	}
	if _, err := tree.Evaluate(2, energies, false); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("a different grid must recompute, calls=%d", calls)
	}
}
