package param

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrParameterNotFound = errors.New("parameter not found")
	ErrLinkedParameter   = errors.New("parameter is linked")
	ErrInvalidBounds     = errors.New("invalid parameter bounds")
	ErrCyclicLink        = errors.New("cyclic parameter link")
	ErrBadLinkReference  = errors.New("bad parameter link reference")
	ErrLinkEvaluation    = errors.New("parameter link did not evaluate")
)

// BoundsError reports a requested value outside the hard limits. The value
// stored on the parameter is the clamped one.
type BoundsError struct {
	Index     int
	Name      string
	Requested float64
	Clamped   float64
	HardMin   float64
	HardMax   float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("parameter %d (%s): value %g outside hard limits [%g, %g], set to %g",
		e.Index, e.Name, e.Requested, e.HardMin, e.HardMax, e.Clamped)
}

// Spec describes a parameter before it is placed in a Table.
type Spec struct {
	Name    string
	Unit    string
	Value   float64
	Delta   float64
	HardMin float64
	SoftMin float64
	SoftMax float64
	HardMax float64
	Frozen  bool
}

type Bounds struct {
	HardMin float64
	SoftMin float64
	SoftMax float64
	HardMax float64
}

func (b Bounds) validate() error {
	if math.IsNaN(b.HardMin) || math.IsNaN(b.HardMax) || b.HardMin > b.HardMax {
		return fmt.Errorf("%w: hard [%g, %g]", ErrInvalidBounds, b.HardMin, b.HardMax)
	}
	if b.SoftMin > b.SoftMax || b.SoftMin < b.HardMin || b.SoftMax > b.HardMax {
		return fmt.Errorf("%w: soft [%g, %g] hard [%g, %g]", ErrInvalidBounds, b.SoftMin, b.SoftMax, b.HardMin, b.HardMax)
	}
	return nil
}

type Parameter struct {
	Name      string
	Unit      string
	Component string
	Group     int

	index  int
	value  float64
	delta  float64
	bounds Bounds
	frozen bool
	link   *link
	table  *Table

	Sigma   float64
	ErrLow  float64
	ErrHigh float64
	Pegged  bool
}

func New(spec Spec) (*Parameter, error) {
	if spec.Name == "" {
		return nil, errors.New("parameter name is required")
	}
	b := Bounds{HardMin: spec.HardMin, SoftMin: spec.SoftMin, SoftMax: spec.SoftMax, HardMax: spec.HardMax}
	if b.HardMin == 0 && b.HardMax == 0 {
		b.HardMin, b.HardMax = -math.MaxFloat64, math.MaxFloat64
	}
	if b.SoftMin == 0 && b.SoftMax == 0 {
		b.SoftMin, b.SoftMax = b.HardMin, b.HardMax
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	if spec.Value < b.HardMin || spec.Value > b.HardMax {
		return nil, fmt.Errorf("%s: %w: value %g outside [%g, %g]", spec.Name, ErrInvalidBounds, spec.Value, b.HardMin, b.HardMax)
	}
	delta := spec.Delta
	if delta <= 0 {
		delta = defaultDelta(spec.Value)
	}
	return &Parameter{
		Name:   spec.Name,
		Unit:   spec.Unit,
		value:  spec.Value,
		delta:  delta,
		bounds: b,
		frozen: spec.Frozen,
	}, nil
}

func defaultDelta(v float64) float64 {
	if d := math.Abs(v) * 0.01; d > 0 {
		return d
	}
	return 0.01
}

// Index is the 1-based position of the parameter in its Table, 0 if unplaced.
func (p *Parameter) Index() int { return p.index }

// Eval returns the current value. A linked parameter evaluates its
// expression on every call; an expression that fails or gives a non-finite
// number returns an error wrapping ErrLinkEvaluation.
func (p *Parameter) Eval() (float64, error) {
	if p.link == nil {
		return p.value, nil
	}
	v, err := p.link.eval(p.table)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %d (%s): %v", ErrLinkEvaluation, p.index, p.Name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: parameter %d (%s): %q gave %g", ErrLinkEvaluation, p.index, p.Name, p.link.expression, v)
	}
	clamped, _ := p.Clamp(v)
	return clamped, nil
}

// Value is Eval for reports. A link that cannot be evaluated reports the
// last stored value; model evaluation uses Eval.
func (p *Parameter) Value() float64 {
	v, err := p.Eval()
	if err != nil {
		return p.value
	}
	return v
}

// Clamp limits v to the hard bounds and reports whether clamping happened.
func (p *Parameter) Clamp(v float64) (float64, bool) {
	switch {
	case v < p.bounds.HardMin:
		return p.bounds.HardMin, true
	case v > p.bounds.HardMax:
		return p.bounds.HardMax, true
	default:
		return v, false
	}
}

// ChangeValue stores v clamped to the hard limits. An out-of-range request
// returns a *BoundsError unless force is set; the clamped value is kept
// either way.
func (p *Parameter) ChangeValue(v float64, force bool) error {
	if p.link != nil {
		return fmt.Errorf("%w: %d (%s)", ErrLinkedParameter, p.index, p.Name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("parameter %d (%s): non-finite value", p.index, p.Name)
	}
	clamped, changed := p.Clamp(v)
	p.value = clamped
	if changed && !force {
		return &BoundsError{
			Index:     p.index,
			Name:      p.Name,
			Requested: v,
			Clamped:   clamped,
			HardMin:   p.bounds.HardMin,
			HardMax:   p.bounds.HardMax,
		}
	}
	return nil
}

func (p *Parameter) Delta() float64 { return p.delta }

func (p *Parameter) SetDelta(d float64) error {
	if d <= 0 || math.IsNaN(d) {
		return fmt.Errorf("parameter %d (%s): delta must be > 0", p.index, p.Name)
	}
	p.delta = d
	return nil
}

func (p *Parameter) Bounds() Bounds { return p.bounds }

func (p *Parameter) SetBounds(b Bounds) error {
	if err := b.validate(); err != nil {
		return fmt.Errorf("parameter %d (%s): %w", p.index, p.Name, err)
	}
	p.bounds = b
	p.value, _ = p.Clamp(p.value)
	return nil
}

func (p *Parameter) Frozen() bool { return p.frozen }

func (p *Parameter) Linked() bool { return p.link != nil }

// Free reports whether the parameter takes part in optimization.
func (p *Parameter) Free() bool { return !p.frozen && p.link == nil }

func (p *Parameter) LinkExpression() string {
	if p.link == nil {
		return ""
	}
	return p.link.expression
}

func (p *Parameter) Freeze() { p.frozen = true }

func (p *Parameter) Thaw() error {
	if p.link != nil {
		return fmt.Errorf("%w: %d (%s)", ErrLinkedParameter, p.index, p.Name)
	}
	p.frozen = false
	return nil
}

// Label is the name used in reports, e.g. "2 powerlaw.PhoIndex".
func (p *Parameter) Label() string {
	if p.Component == "" {
		return fmt.Sprintf("%d %s", p.index, p.Name)
	}
	return fmt.Sprintf("%d %s.%s", p.index, p.Component, p.Name)
}
