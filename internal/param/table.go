package param

import (
	"fmt"
)

// Table holds every parameter of a fit session, numbered from 1.
type Table struct {
	params []*Parameter
}

func NewTable() *Table {
	return &Table{}
}

// Add places p at the end of the table and returns its index.
func (t *Table) Add(p *Parameter) int {
	t.params = append(t.params, p)
	p.index = len(t.params)
	p.table = t
	return p.index
}

func (t *Table) Len() int { return len(t.params) }

func (t *Table) Get(index int) (*Parameter, error) {
	if index < 1 || index > len(t.params) {
		return nil, fmt.Errorf("%w: %d", ErrParameterNotFound, index)
	}
	return t.params[index-1], nil
}

func (t *Table) All() []*Parameter {
	return append([]*Parameter(nil), t.params...)
}

// Free returns parameters that are neither frozen nor linked, in index order.
func (t *Table) Free() []*Parameter {
	out := make([]*Parameter, 0, len(t.params))
	for _, p := range t.params {
		if p.Free() {
			out = append(out, p)
		}
	}
	return out
}

func (t *Table) Freeze(index int) error {
	p, err := t.Get(index)
	if err != nil {
		return err
	}
	p.Freeze()
	return nil
}

func (t *Table) Thaw(index int) error {
	p, err := t.Get(index)
	if err != nil {
		return err
	}
	return p.Thaw()
}

// Link ties parameter index to expression. References to missing
// parameters, self references and cycles are rejected and leave the
// parameter unchanged.
func (t *Table) Link(index int, expression string) error {
	p, err := t.Get(index)
	if err != nil {
		return err
	}
	l, err := compileLink(expression)
	if err != nil {
		return fmt.Errorf("parameter %d: %w", index, err)
	}
	for _, ref := range l.refs {
		if _, err := t.Get(ref); err != nil {
			return fmt.Errorf("parameter %d: %w: p%d", index, ErrBadLinkReference, ref)
		}
	}
	if path, ok := t.reaches(l.refs, index); ok {
		return fmt.Errorf("%w: %s", ErrCyclicLink, formatCycle(index, path))
	}
	p.link = l
	return nil
}

func (t *Table) Unlink(index int) error {
	p, err := t.Get(index)
	if err != nil {
		return err
	}
	if p.link == nil {
		return nil
	}
	p.value = p.Value()
	p.link = nil
	return nil
}

// reaches walks link references from start and reports whether target is
// reachable, returning the chain of indices followed.
func (t *Table) reaches(start []int, target int) ([]int, bool) {
	visited := make(map[int]bool)
	var walk func(idx int, path []int) ([]int, bool)
	walk = func(idx int, path []int) ([]int, bool) {
		path = append(path, idx)
		if idx == target {
			return path, true
		}
		if visited[idx] {
			return nil, false
		}
		visited[idx] = true
		p := t.params[idx-1]
		if p.link == nil {
			return nil, false
		}
		for _, next := range p.link.refs {
			if found, ok := walk(next, path); ok {
				return found, true
			}
		}
		return nil, false
	}
	for _, idx := range start {
		if found, ok := walk(idx, nil); ok {
			return found, true
		}
	}
	return nil, false
}

func formatCycle(start int, path []int) string {
	s := fmt.Sprintf("p%d", start)
	for _, idx := range path {
		s += fmt.Sprintf(" -> p%d", idx)
	}
	return s
}

// CheckLinks verifies the whole link graph is acyclic and every reference
// resolves.
func (t *Table) CheckLinks() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(t.params)+1)
	var visit func(idx int) error
	visit = func(idx int) error {
		switch state[idx] {
		case active:
			return fmt.Errorf("%w: through p%d", ErrCyclicLink, idx)
		case done:
			return nil
		}
		state[idx] = active
		if l := t.params[idx-1].link; l != nil {
			for _, ref := range l.refs {
				if ref < 1 || ref > len(t.params) {
					return fmt.Errorf("parameter %d: %w: p%d", idx, ErrBadLinkReference, ref)
				}
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		state[idx] = done
		return nil
	}
	for idx := 1; idx <= len(t.params); idx++ {
		if err := visit(idx); err != nil {
			return err
		}
	}
	return nil
}

// Values returns the effective value of every parameter.
func (t *Table) Values() []float64 {
	out := make([]float64, len(t.params))
	for i, p := range t.params {
		out[i] = p.Value()
	}
	return out
}

// Snapshot captures stored (unlinked) values so they can be restored after a
// failed fit attempt.
func (t *Table) Snapshot() []float64 {
	out := make([]float64, len(t.params))
	for i, p := range t.params {
		out[i] = p.value
	}
	return out
}

func (t *Table) Restore(snapshot []float64) error {
	if len(snapshot) != len(t.params) {
		return fmt.Errorf("snapshot size %d does not match table size %d", len(snapshot), len(t.params))
	}
	for i, p := range t.params {
		p.value = snapshot[i]
	}
	return nil
}

// Assign copies values, deltas, bounds, frozen flags and links from src
// into t, which must have the same length. Links are recompiled against t.
func (t *Table) Assign(src *Table) error {
	if src.Len() != t.Len() {
		return fmt.Errorf("table size %d does not match source size %d", t.Len(), src.Len())
	}
	for i, from := range src.params {
		to := t.params[i]
		to.value = from.value
		to.delta = from.delta
		to.bounds = from.bounds
		to.frozen = from.frozen
		to.Sigma, to.ErrLow, to.ErrHigh, to.Pegged = from.Sigma, from.ErrLow, from.ErrHigh, from.Pegged
		to.link = nil
		if from.link != nil {
			l, err := compileLink(from.link.expression)
			if err != nil {
				return fmt.Errorf("parameter %d: %w", i+1, err)
			}
			to.link = l
		}
	}
	return nil
}
