package component

import (
	"errors"
	"fmt"

	"xspecfit/internal/param"
)

var (
	ErrComponentExists    = errors.New("component already registered")
	ErrComponentNotFound  = errors.New("component not found")
	ErrAmbiguousComponent = errors.New("ambiguous component abbreviation")
	ErrInvalidDefinition  = errors.New("invalid component definition")
	ErrMalformedModel     = errors.New("malformed model expression")
	ErrFluxLength         = errors.New("component flux length mismatch")
)

type Kind int

const (
	Additive Kind = iota
	Multiplicative
	Convolution
	Mixing
)

func (k Kind) String() string {
	switch k {
	case Additive:
		return "add"
	case Multiplicative:
		return "mul"
	case Convolution:
		return "con"
	case Mixing:
		return "mix"
	default:
		return "unknown"
	}
}

// AdditiveFunc writes photon flux per energy bin into flux, excluding the
// normalization. fluxErr is nil unless the caller wants model errors.
type AdditiveFunc func(energies, params, flux, fluxErr []float64) error

// MultiplicativeFunc writes a dimensionless factor per energy bin.
type MultiplicativeFunc func(energies, params, factor []float64) error

// ConvolutionFunc transforms accumulated flux in place.
type ConvolutionFunc func(energies, params, flux []float64) error

// MixGroup is one data group's view seen by a mixing component. Efficiency
// is only populated for AMX components.
type MixGroup struct {
	Group      int
	Energies   []float64
	Flux       []float64
	Efficiency []float64
}

// MixingFunc transforms the accumulated flux of every data group at once.
type MixingFunc func(params []float64, groups []MixGroup) error

type Definition struct {
	Name        string
	Kind        Kind
	Description string
	Params      []param.Spec
	// AMX marks a mixing component that needs per-dataset efficiency.
	AMX bool

	Flux     AdditiveFunc
	Factor   MultiplicativeFunc
	Convolve ConvolutionFunc
	Mix      MixingFunc
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	var ok bool
	switch d.Kind {
	case Additive:
		ok = d.Flux != nil
	case Multiplicative:
		ok = d.Factor != nil
	case Convolution:
		ok = d.Convolve != nil
	case Mixing:
		ok = d.Mix != nil
	}
	if !ok {
		return fmt.Errorf("%w: %s: missing %s function", ErrInvalidDefinition, d.Name, d.Kind)
	}
	if d.AMX && d.Kind != Mixing {
		return fmt.Errorf("%w: %s: only mixing components can be AMX", ErrInvalidDefinition, d.Name)
	}
	for _, spec := range d.Params {
		if spec.Name == "" {
			return fmt.Errorf("%w: %s: unnamed parameter", ErrInvalidDefinition, d.Name)
		}
		if spec.Name == "norm" && d.Kind == Additive {
			return fmt.Errorf("%w: %s: norm is added automatically", ErrInvalidDefinition, d.Name)
		}
	}
	return nil
}

// paramSpecs returns the definition's parameters, with the trailing
// normalization for additive components.
func (d Definition) paramSpecs() []param.Spec {
	specs := append([]param.Spec(nil), d.Params...)
	if d.Kind == Additive {
		specs = append(specs, param.Spec{
			Name:    "norm",
			Value:   1,
			Delta:   0.01,
			HardMin: 0,
			SoftMin: 0,
			SoftMax: 1e24,
			HardMax: 1e24,
		})
	}
	return specs
}

// ParamNames lists the parameter names an instance carries, in order.
func (d Definition) ParamNames() []string {
	specs := d.paramSpecs()
	out := make([]string, len(specs))
	for i, spec := range specs {
		out[i] = spec.Name
	}
	return out
}

type cacheEntry struct {
	values []float64
	flux   []float64
}

// Component is one instance of a Definition inside a model expression.
type Component struct {
	def    Definition
	seq    int
	group  int
	params []*param.Parameter

	saved []float64
	cache map[int]cacheEntry
}

func newComponent(def Definition, seq, group int) (*Component, error) {
	c := &Component{def: def, seq: seq, group: group, cache: make(map[int]cacheEntry)}
	for _, spec := range def.paramSpecs() {
		p, err := param.New(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
		p.Component = c.Label()
		p.Group = group
		c.params = append(c.params, p)
	}
	return c, nil
}

func (c *Component) Name() string { return c.def.Name }

func (c *Component) Kind() Kind { return c.def.Kind }

func (c *Component) AMX() bool { return c.def.AMX }

// Seq is the 1-based position of the component in its expression.
func (c *Component) Seq() int { return c.seq }

func (c *Component) Group() int { return c.group }

func (c *Component) Label() string { return fmt.Sprintf("%s<%d>", c.def.Name, c.seq) }

func (c *Component) Params() []*param.Parameter {
	return append([]*param.Parameter(nil), c.params...)
}

// Norm returns the normalization of an additive component, nil otherwise.
func (c *Component) Norm() *param.Parameter {
	if c.def.Kind != Additive || len(c.params) == 0 {
		return nil
	}
	return c.params[len(c.params)-1]
}

// SavedFlux is the flux from the last calculation made with saveFlux set.
func (c *Component) SavedFlux() []float64 { return c.saved }

// shapeValues excludes the normalization of additive components.
func (c *Component) shapeValues() ([]float64, error) {
	n := len(c.params)
	if c.def.Kind == Additive {
		n--
	}
	return evalParams(c.params[:n])
}

func (c *Component) allValues() ([]float64, error) {
	return evalParams(c.params)
}

func evalParams(params []*param.Parameter) ([]float64, error) {
	out := make([]float64, len(params))
	for i, p := range params {
		v, err := p.Eval()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// calculate evaluates an additive or multiplicative component on the grid
// identified by gridID. Results are reused while parameter values are
// unchanged for that grid.
func (c *Component) calculate(gridID int, energies []float64, saveFlux bool) ([]float64, error) {
	values, err := c.shapeValues()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Label(), err)
	}
	bins := len(energies) - 1
	if entry, ok := c.cache[gridID]; ok && sameValues(entry.values, values) && len(entry.flux) == bins {
		out, err := c.finish(append([]float64(nil), entry.flux...))
		if err != nil {
			return nil, err
		}
		if saveFlux {
			c.saved = append([]float64(nil), out...)
		}
		return out, nil
	}

	out := make([]float64, bins)
	switch c.def.Kind {
	case Additive:
		err = c.def.Flux(energies, values, out, nil)
	case Multiplicative:
		err = c.def.Factor(energies, values, out)
	default:
		err = fmt.Errorf("%s cannot compute flux independently", c.Label())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Label(), err)
	}
	if len(out) != bins {
		return nil, fmt.Errorf("%w: %s", ErrFluxLength, c.Label())
	}
	c.cache[gridID] = cacheEntry{values: values, flux: append([]float64(nil), out...)}
	out, err = c.finish(out)
	if err != nil {
		return nil, err
	}
	if saveFlux {
		c.saved = append([]float64(nil), out...)
	}
	return out, nil
}

func (c *Component) finish(out []float64) ([]float64, error) {
	if norm := c.Norm(); norm != nil {
		n, err := norm.Eval()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Label(), err)
		}
		for i := range out {
			out[i] *= n
		}
	}
	return out, nil
}

func (c *Component) convolve(energies, flux []float64, saveFlux bool) error {
	if c.def.Kind != Convolution {
		return fmt.Errorf("%s is not a convolution component", c.Label())
	}
	bins := len(flux)
	values, err := c.allValues()
	if err != nil {
		return fmt.Errorf("%s: %w", c.Label(), err)
	}
	if err := c.def.Convolve(energies, values, flux); err != nil {
		return fmt.Errorf("%s: %w", c.Label(), err)
	}
	if len(flux) != bins {
		return fmt.Errorf("%w: %s", ErrFluxLength, c.Label())
	}
	if saveFlux {
		c.saved = append([]float64(nil), flux...)
	}
	return nil
}

// Mix applies a mixing component across data groups.
func (c *Component) Mix(groups []MixGroup) error {
	if c.def.Kind != Mixing {
		return fmt.Errorf("%s is not a mixing component", c.Label())
	}
	lengths := make([]int, len(groups))
	for i, g := range groups {
		lengths[i] = len(g.Flux)
	}
	values, err := c.allValues()
	if err != nil {
		return fmt.Errorf("%s: %w", c.Label(), err)
	}
	if err := c.def.Mix(values, groups); err != nil {
		return fmt.Errorf("%s: %w", c.Label(), err)
	}
	for i, g := range groups {
		if len(g.Flux) != lengths[i] {
			return fmt.Errorf("%w: %s", ErrFluxLength, c.Label())
		}
	}
	return nil
}

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
