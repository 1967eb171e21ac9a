package component

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"xspecfit/internal/param"
)

var errNonPositiveEnergy = errors.New("energies must be positive")

func builtins() []Definition {
	return []Definition{
		{
			Name:        "powerlaw",
			Kind:        Additive,
			Description: "simple photon power law",
			Params: []param.Spec{
				{Name: "PhoIndex", Value: 1, Delta: 0.01, HardMin: -3, SoftMin: -2, SoftMax: 9, HardMax: 10},
			},
			Flux: powerlawFlux,
		},
		{
			Name:        "cutoffpl",
			Kind:        Additive,
			Description: "power law with high energy exponential cutoff",
			Params: []param.Spec{
				{Name: "PhoIndex", Value: 1, Delta: 0.01, HardMin: -3, SoftMin: -2, SoftMax: 9, HardMax: 10},
				{Name: "HighECut", Unit: "keV", Value: 15, Delta: 0.01, HardMin: 0.01, SoftMin: 1, SoftMax: 500, HardMax: 500},
			},
			Flux: cutoffplFlux,
		},
		{
			Name:        "gaussian",
			Kind:        Additive,
			Description: "gaussian line profile",
			Params: []param.Spec{
				{Name: "LineE", Unit: "keV", Value: 6.5, Delta: 0.05, HardMin: 0, SoftMin: 0, SoftMax: 1e6, HardMax: 1e6},
				{Name: "Sigma", Unit: "keV", Value: 0.1, Delta: 0.05, HardMin: 0, SoftMin: 0, SoftMax: 10, HardMax: 20},
			},
			Flux: gaussianFlux,
		},
		{
			Name:        "bbody",
			Kind:        Additive,
			Description: "blackbody spectrum",
			Params: []param.Spec{
				{Name: "kT", Unit: "keV", Value: 3, Delta: 0.01, HardMin: 1e-4, SoftMin: 0.01, SoftMax: 100, HardMax: 200},
			},
			Flux: bbodyFlux,
		},
		{
			Name:        "constant",
			Kind:        Multiplicative,
			Description: "energy independent multiplicative factor",
			Params: []param.Spec{
				{Name: "factor", Value: 1, Delta: 0.01, HardMin: 0, SoftMin: 0, SoftMax: 1e10, HardMax: 1e10},
			},
			Factor: constantFactor,
		},
		{
			Name:        "expabs",
			Kind:        Multiplicative,
			Description: "low energy exponential rolloff",
			Params: []param.Spec{
				{Name: "LowECut", Unit: "keV", Value: 2, Delta: 0.02, HardMin: 0, SoftMin: 0, SoftMax: 100, HardMax: 200},
			},
			Factor: expabsFactor,
		},
		{
			Name:        "highecut",
			Kind:        Multiplicative,
			Description: "high energy cutoff",
			Params: []param.Spec{
				{Name: "cutoffE", Unit: "keV", Value: 10, Delta: 0.1, HardMin: 1e-4, SoftMin: 1e-2, SoftMax: 1e6, HardMax: 1e6},
				{Name: "foldE", Unit: "keV", Value: 15, Delta: 0.1, HardMin: 1e-4, SoftMin: 1e-2, SoftMax: 1e6, HardMax: 1e6},
			},
			Factor: highecutFactor,
		},
		{
			Name:        "gsmooth",
			Kind:        Convolution,
			Description: "gaussian smoothing with energy dependent width",
			Params: []param.Spec{
				{Name: "Sig_6keV", Unit: "keV", Value: 1, Delta: 0.05, HardMin: 0, SoftMin: 0, SoftMax: 10, HardMax: 20},
				{Name: "Index", Value: 0, Delta: 0.01, HardMin: -1, SoftMin: -1, SoftMax: 1, HardMax: 1, Frozen: true},
			},
			Convolve: gsmoothConvolve,
		},
		{
			Name:        "zashift",
			Kind:        Convolution,
			Description: "redshift an additive model",
			Params: []param.Spec{
				{Name: "Redshift", Value: 0, Delta: 0.01, HardMin: -0.999, SoftMin: -0.999, SoftMax: 10, HardMax: 10, Frozen: true},
			},
			Convolve: zashiftConvolve,
		},
		{
			Name:        "crosstalk",
			Kind:        Mixing,
			AMX:         true,
			Description: "efficiency weighted flux exchange between data groups",
			Params: []param.Spec{
				{Name: "Fraction", Value: 0.1, Delta: 0.01, HardMin: 0, SoftMin: 0, SoftMax: 1, HardMax: 1},
			},
			Mix: crosstalkMix,
		},
	}
}

func checkPositive(energies []float64) error {
	if energies[0] <= 0 {
		return errNonPositiveEnergy
	}
	return nil
}

// simpson integrates f over [lo, hi] with a fixed number of panels, enough
// for the smooth integrands used by the built-ins.
func simpson(f func(float64) float64, lo, hi float64) float64 {
	const panels = 8
	h := (hi - lo) / panels
	sum := f(lo) + f(hi)
	for k := 1; k < panels; k++ {
		w := 2.0
		if k%2 == 1 {
			w = 4
		}
		sum += w * f(lo+float64(k)*h)
	}
	return sum * h / 3
}

func powerlawFlux(energies, params, flux, _ []float64) error {
	if err := checkPositive(energies); err != nil {
		return err
	}
	index := params[0]
	alpha := 1 - index
	for i := range flux {
		lo, hi := energies[i], energies[i+1]
		if math.Abs(alpha) < 1e-10 {
			flux[i] = math.Log(hi / lo)
			continue
		}
		flux[i] = (math.Pow(hi, alpha) - math.Pow(lo, alpha)) / alpha
	}
	return nil
}

func cutoffplFlux(energies, params, flux, _ []float64) error {
	if err := checkPositive(energies); err != nil {
		return err
	}
	index, cut := params[0], params[1]
	f := func(e float64) float64 { return math.Pow(e, -index) * math.Exp(-e/cut) }
	for i := range flux {
		flux[i] = simpson(f, energies[i], energies[i+1])
	}
	return nil
}

func gaussianFlux(energies, params, flux, _ []float64) error {
	lineE, sigma := params[0], params[1]
	if sigma <= 0 {
		for i := range flux {
			flux[i] = 0
			if lineE >= energies[i] && lineE < energies[i+1] {
				flux[i] = 1
			}
		}
		return nil
	}
	profile := distuv.Normal{Mu: lineE, Sigma: sigma}
	prev := profile.CDF(energies[0])
	for i := range flux {
		next := profile.CDF(energies[i+1])
		flux[i] = next - prev
		prev = next
	}
	return nil
}

func bbodyFlux(energies, params, flux, _ []float64) error {
	kT := params[0]
	norm := 8.0525 / math.Pow(kT, 4)
	f := func(e float64) float64 {
		if e <= 0 {
			return 0
		}
		x := e / kT
		if x > 700 {
			return 0
		}
		return norm * e * e / math.Expm1(x)
	}
	for i := range flux {
		flux[i] = simpson(f, energies[i], energies[i+1])
	}
	return nil
}

func constantFactor(_, params, factor []float64) error {
	for i := range factor {
		factor[i] = params[0]
	}
	return nil
}

func expabsFactor(energies, params, factor []float64) error {
	cut := params[0]
	for i := range factor {
		e := 0.5 * (energies[i] + energies[i+1])
		if e <= 0 {
			factor[i] = 0
			continue
		}
		factor[i] = math.Exp(-cut / e)
	}
	return nil
}

func highecutFactor(energies, params, factor []float64) error {
	cutoff, fold := params[0], params[1]
	for i := range factor {
		e := 0.5 * (energies[i] + energies[i+1])
		if e <= cutoff {
			factor[i] = 1
			continue
		}
		factor[i] = math.Exp((cutoff - e) / fold)
	}
	return nil
}

// gsmoothConvolve spreads each bin's flux with a gaussian of width
// Sig_6keV*(E/6)^Index, conserving the total flux inside the grid.
func gsmoothConvolve(energies, params, flux []float64) error {
	sig6, index := params[0], params[1]
	if sig6 <= 0 {
		return nil
	}
	out := make([]float64, len(flux))
	weights := make([]float64, len(flux))
	for i, f := range flux {
		if f == 0 {
			continue
		}
		center := 0.5 * (energies[i] + energies[i+1])
		sigma := sig6 * math.Pow(center/6, index)
		if !(sigma > 0) {
			out[i] += f
			continue
		}
		profile := distuv.Normal{Mu: center, Sigma: sigma}
		total := 0.0
		prev := profile.CDF(energies[0])
		for j := range weights {
			next := profile.CDF(energies[j+1])
			weights[j] = next - prev
			total += weights[j]
			prev = next
		}
		if total <= 0 {
			out[i] += f
			continue
		}
		for j, w := range weights {
			out[j] += f * w / total
		}
	}
	copy(flux, out)
	return nil
}

// zashiftConvolve moves flux computed in the source frame to the observed
// frame. Observed bin [lo, hi] collects source flux over
// [lo(1+z), hi(1+z)], treating flux as uniform inside each source bin.
func zashiftConvolve(energies, params, flux []float64) error {
	z := params[0]
	if z == 0 {
		return nil
	}
	scale := 1 + z
	if scale <= 0 {
		return fmt.Errorf("redshift %g out of range", z)
	}
	src := append([]float64(nil), flux...)
	for j := range flux {
		lo, hi := energies[j]*scale, energies[j+1]*scale
		sum := 0.0
		for i, f := range src {
			overlap := math.Min(hi, energies[i+1]) - math.Max(lo, energies[i])
			if overlap <= 0 {
				continue
			}
			sum += f * overlap / (energies[i+1] - energies[i])
		}
		flux[j] = sum
	}
	return nil
}

// crosstalkMix replaces a fraction of each group's flux with the
// efficiency weighted mean flux of all groups.
func crosstalkMix(params []float64, groups []MixGroup) error {
	fraction := params[0]
	if len(groups) < 2 || fraction == 0 {
		return nil
	}
	bins := len(groups[0].Flux)
	for _, g := range groups {
		if len(g.Flux) != bins || len(g.Efficiency) != bins {
			return errors.New("crosstalk requires a common energy grid with efficiencies")
		}
	}
	mean := make([]float64, bins)
	for i := range mean {
		var num, den float64
		for _, g := range groups {
			num += g.Efficiency[i] * g.Flux[i]
			den += g.Efficiency[i]
		}
		if den > 0 {
			mean[i] = num / den
		} else {
			mean[i] = math.NaN()
		}
	}
	for _, g := range groups {
		for i := range g.Flux {
			if math.IsNaN(mean[i]) {
				continue
			}
			g.Flux[i] = (1-fraction)*g.Flux[i] + fraction*mean[i]
		}
	}
	return nil
}
