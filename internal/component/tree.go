package component

import (
	"fmt"
	"sort"
	"strings"

	"xspecfit/internal/param"
)

// Node is one of Leaf, Sum or Product.
type Node interface {
	node()
	String() string
}

// Leaf is a single additive component.
type Leaf struct {
	Component *Component
}

// Sum adds the flux of its terms.
type Sum struct {
	Terms []Node
}

// Product evaluates Source, scales it by every multiplicative factor and
// then applies each convolution in order. The order is fixed regardless of
// how the factors were written.
type Product struct {
	Source       Node
	Factors      []*Component
	Convolutions []*Component
}

func (Leaf) node()    {}
func (Sum) node()     {}
func (Product) node() {}

func (l Leaf) String() string { return l.Component.Name() }

func (s Sum) String() string {
	parts := make([]string, len(s.Terms))
	for i, t := range s.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " + ")
}

// String writes the product in evaluation order: factors scale the
// source, convolutions wrap the result.
func (p Product) String() string {
	inner := p.Source.String()
	if len(p.Factors) > 0 {
		if _, isSum := p.Source.(Sum); isSum {
			inner = "(" + inner + ")"
		}
		names := make([]string, len(p.Factors))
		for i, f := range p.Factors {
			names[i] = f.Name()
		}
		inner = strings.Join(names, "*") + "*" + inner
	}
	for _, c := range p.Convolutions {
		inner = c.Name() + "(" + inner + ")"
	}
	return inner
}

// Tree is one data group's instance of a model expression.
type Tree struct {
	expression string
	group      int
	root       Node
	mixing     *Component
	components []*Component
}

// Build parses expression and instantiates its components for a data group.
// Every composition rule is checked here so a Tree that builds can always be
// evaluated.
//
// Within a product, factors always apply before convolutions whatever the
// written order, so expabs*gsmooth(powerlaw) evaluates as
// gsmooth(expabs*powerlaw). Tree.String returns that canonical form;
// Expression keeps the text as written.
func Build(lib *Library, expression string, group int) (*Tree, error) {
	if lib == nil {
		return nil, fmt.Errorf("component library is required")
	}
	ast, err := parse(expression)
	if err != nil {
		return nil, err
	}
	b := &builder{lib: lib, group: group}
	t := &Tree{expression: expression, group: group}

	if ast.kind == nodeName && ast.arg != nil {
		def, err := lib.Lookup(ast.name)
		if err != nil {
			return nil, err
		}
		if def.Kind == Mixing {
			mix, err := b.instance(def, ast.seq)
			if err != nil {
				return nil, err
			}
			t.mixing = mix
			ast = ast.arg
		}
	}

	part, err := b.resolve(ast)
	if err != nil {
		return nil, err
	}
	if part.source == nil {
		return nil, fmt.Errorf("%w: model has no additive component", ErrMalformedModel)
	}
	t.root = part.node()

	t.components = b.components
	sort.Slice(t.components, func(i, j int) bool { return t.components[i].seq < t.components[j].seq })
	amx := 0
	for _, c := range t.components {
		if c.AMX() {
			amx++
		}
	}
	if amx > 1 {
		return nil, fmt.Errorf("%w: only one AMX component is allowed, found %d", ErrMalformedModel, amx)
	}
	return t, nil
}

type builder struct {
	lib        *Library
	group      int
	components []*Component
}

func (b *builder) instance(def Definition, seq int) (*Component, error) {
	c, err := newComponent(def, seq, b.group)
	if err != nil {
		return nil, err
	}
	b.components = append(b.components, c)
	return c, nil
}

// partial is a product under construction.
type partial struct {
	source  Node
	factors []*Component
	convs   []*Component
}

func (p partial) node() Node {
	if len(p.factors) == 0 && len(p.convs) == 0 {
		return p.source
	}
	return Product{Source: p.source, Factors: p.factors, Convolutions: p.convs}
}

func (b *builder) resolve(n *exprNode) (partial, error) {
	switch n.kind {
	case nodeSum:
		sum := Sum{}
		for _, child := range n.children {
			part, err := b.resolve(child)
			if err != nil {
				return partial{}, err
			}
			if part.source == nil {
				return partial{}, fmt.Errorf("%w: term %q at %d has no additive component", ErrMalformedModel, child.String(), child.pos)
			}
			sum.Terms = append(sum.Terms, part.node())
		}
		return partial{source: sum}, nil

	case nodeProduct:
		var out partial
		for _, child := range n.children {
			part, err := b.resolve(child)
			if err != nil {
				return partial{}, err
			}
			if err := out.merge(part, child); err != nil {
				return partial{}, err
			}
		}
		return out, nil

	default:
		def, err := b.lib.Lookup(n.name)
		if err != nil {
			return partial{}, fmt.Errorf("at %d: %w", n.pos, err)
		}
		c, err := b.instance(def, n.seq)
		if err != nil {
			return partial{}, err
		}
		switch def.Kind {
		case Additive:
			if n.arg != nil {
				return partial{}, fmt.Errorf("%w: additive component %s cannot take an argument", ErrMalformedModel, def.Name)
			}
			return partial{source: Leaf{Component: c}}, nil
		case Multiplicative:
			out := partial{factors: []*Component{c}}
			if n.arg != nil {
				inner, err := b.resolve(n.arg)
				if err != nil {
					return partial{}, err
				}
				if err := out.merge(inner, n.arg); err != nil {
					return partial{}, err
				}
			}
			return out, nil
		case Convolution:
			if n.arg == nil {
				return partial{}, fmt.Errorf("%w: convolution component %s needs an operand", ErrMalformedModel, def.Name)
			}
			inner, err := b.resolve(n.arg)
			if err != nil {
				return partial{}, err
			}
			if inner.source == nil {
				return partial{}, fmt.Errorf("%w: convolution component %s has no additive operand", ErrMalformedModel, def.Name)
			}
			inner.convs = append(inner.convs, c)
			return inner, nil
		default:
			return partial{}, fmt.Errorf("%w: mixing component %s must enclose the whole model", ErrMalformedModel, def.Name)
		}
	}
}

func (p *partial) merge(other partial, at *exprNode) error {
	if other.source != nil {
		if p.source != nil {
			return fmt.Errorf("%w: product of two additive terms at %d", ErrMalformedModel, at.pos)
		}
		p.source = other.source
	}
	p.factors = append(p.factors, other.factors...)
	p.convs = append(p.convs, other.convs...)
	return nil
}

func (t *Tree) Expression() string { return t.expression }

func (t *Tree) String() string {
	s := t.root.String()
	if t.mixing != nil {
		s = t.mixing.Name() + "(" + s + ")"
	}
	return s
}

func (t *Tree) Group() int { return t.group }

func (t *Tree) Root() Node { return t.root }

// Mixing returns the mixing component wrapping the model, if any.
func (t *Tree) Mixing() *Component { return t.mixing }

// Components lists component instances in expression order.
func (t *Tree) Components() []*Component {
	return append([]*Component(nil), t.components...)
}

// Params lists parameters in expression order.
func (t *Tree) Params() []*param.Parameter {
	var out []*param.Parameter
	for _, c := range t.components {
		out = append(out, c.params...)
	}
	return out
}

// Evaluate computes the model flux on one energy grid, without mixing.
// Evaluation order is fixed: additive terms, multiplicative factors,
// then convolutions.
func (t *Tree) Evaluate(gridID int, energies []float64, saveFlux bool) ([]float64, error) {
	flux, err := evaluate(t.root, gridID, energies, saveFlux)
	if err != nil {
		return nil, err
	}
	if len(flux) != len(energies)-1 {
		return nil, fmt.Errorf("%w: model produced %d bins for %d", ErrFluxLength, len(flux), len(energies)-1)
	}
	return flux, nil
}

func evaluate(n Node, gridID int, energies []float64, saveFlux bool) ([]float64, error) {
	switch n := n.(type) {
	case Leaf:
		return n.Component.calculate(gridID, energies, saveFlux)
	case Sum:
		var total []float64
		for _, term := range n.Terms {
			flux, err := evaluate(term, gridID, energies, saveFlux)
			if err != nil {
				return nil, err
			}
			if total == nil {
				total = flux
				continue
			}
			for i := range total {
				total[i] += flux[i]
			}
		}
		return total, nil
	case Product:
		flux, err := evaluate(n.Source, gridID, energies, saveFlux)
		if err != nil {
			return nil, err
		}
		for _, f := range n.Factors {
			factor, err := f.calculate(gridID, energies, saveFlux)
			if err != nil {
				return nil, err
			}
			for i := range flux {
				flux[i] *= factor[i]
			}
		}
		for _, c := range n.Convolutions {
			if err := c.convolve(energies, flux, saveFlux); err != nil {
				return nil, err
			}
		}
		return flux, nil
	default:
		return nil, fmt.Errorf("unknown model node %T", n)
	}
}
