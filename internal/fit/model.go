package fit

import (
	"errors"
	"fmt"
	"sort"

	"xspecfit/internal/component"
	"xspecfit/internal/param"
	"xspecfit/internal/response"
)

var ErrNoDatasets = errors.New("at least one dataset is required")

// Model is a model expression instantiated once per data group, with every
// parameter numbered in a single Table. Parameters of groups 2..N start
// linked to the matching parameter of group 1.
type Model struct {
	lib        *component.Library
	expression string
	groups     []int
	trees      map[int]*component.Tree
	params     *param.Table
	energies   *response.EnergyRegistry
	datasets   []*Dataset
	gridIDs    []int
}

func NewModel(lib *component.Library, expression string, datasets []*Dataset) (*Model, error) {
	if lib == nil {
		return nil, errors.New("component library is required")
	}
	if len(datasets) == 0 {
		return nil, ErrNoDatasets
	}
	seen := make(map[string]bool, len(datasets))
	groupSet := make(map[int]bool)
	for _, d := range datasets {
		if d == nil {
			return nil, errors.New("nil dataset")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate dataset name %q", d.Name)
		}
		seen[d.Name] = true
		groupSet[d.Group] = true
	}
	groups := make([]int, 0, len(groupSet))
	for g := range groupSet {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	for i, g := range groups {
		if g != i+1 {
			return nil, fmt.Errorf("data groups must be numbered 1..%d without gaps, missing %d", len(groups), i+1)
		}
	}

	m := &Model{
		lib:        lib,
		expression: expression,
		groups:     groups,
		trees:      make(map[int]*component.Tree, len(groups)),
		params:     param.NewTable(),
		energies:   response.NewEnergyRegistry(),
		datasets:   append([]*Dataset(nil), datasets...),
	}
	for _, g := range groups {
		tree, err := component.Build(lib, expression, g)
		if err != nil {
			return nil, err
		}
		m.trees[g] = tree
		for _, p := range tree.Params() {
			m.params.Add(p)
		}
	}
	base := m.trees[1].Params()
	for _, g := range groups[1:] {
		for k, p := range m.trees[g].Params() {
			if err := m.params.Link(p.Index(), fmt.Sprintf("p%d", base[k].Index())); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range m.datasets {
		id, err := m.energies.Acquire(d.Name, d.Response.Energies(), false)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
		}
		m.gridIDs = append(m.gridIDs, id)
	}
	return m, nil
}

func (m *Model) Expression() string { return m.expression }

func (m *Model) Library() *component.Library { return m.lib }

func (m *Model) Params() *param.Table { return m.params }

func (m *Model) Groups() []int { return append([]int(nil), m.groups...) }

func (m *Model) Tree(group int) (*component.Tree, bool) {
	t, ok := m.trees[group]
	return t, ok
}

func (m *Model) Datasets() []*Dataset { return append([]*Dataset(nil), m.datasets...) }

// Energies is the registry of unique energy grids used by the datasets.
func (m *Model) Energies() *response.EnergyRegistry { return m.energies }

// GridID returns the shared energy grid id of dataset i.
func (m *Model) GridID(i int) int { return m.gridIDs[i] }

// Close releases every energy grid the model acquired.
func (m *Model) Close() error {
	for i, d := range m.datasets {
		if err := m.energies.Release(d.Name, m.gridIDs[i]); err != nil {
			return err
		}
	}
	m.gridIDs = nil
	return nil
}

// SetParameter changes the value of parameter index.
func (m *Model) SetParameter(index int, value float64) error {
	p, err := m.params.Get(index)
	if err != nil {
		return err
	}
	return p.ChangeValue(value, false)
}

// Link ties parameter index to expression; cycles are rejected here, before
// any fit can run.
func (m *Model) Link(index int, expression string) error {
	return m.params.Link(index, expression)
}

func (m *Model) Unlink(index int) error { return m.params.Unlink(index) }

func (m *Model) Freeze(index int) error { return m.params.Freeze(index) }

func (m *Model) Thaw(index int) error { return m.params.Thaw(index) }

// Clone rebuilds the model with independent parameters carrying the same
// state. Datasets and responses are shared read-only.
func (m *Model) Clone() (*Model, error) {
	out, err := NewModel(m.lib, m.expression, m.datasets)
	if err != nil {
		return nil, err
	}
	if err := out.params.Assign(m.params); err != nil {
		return nil, err
	}
	return out, nil
}

// inactive returns the shape parameters of additive components whose norm
// is zero; their derivatives vanish so they cannot be fitted.
func (m *Model) inactive() map[*param.Parameter]bool {
	out := make(map[*param.Parameter]bool)
	for _, g := range m.groups {
		for _, c := range m.trees[g].Components() {
			norm := c.Norm()
			if norm == nil || norm.Value() != 0 {
				continue
			}
			for _, p := range c.Params() {
				if p != norm {
					out[p] = true
				}
			}
		}
	}
	return out
}

// Predict evaluates every group's model on its datasets' energy grids,
// applies any mixing component across datasets and folds the result
// through each response. It returns predicted counts per dataset.
func (m *Model) Predict(saveFlux bool) ([][]float64, error) {
	fluxes := make([][]float64, len(m.datasets))
	for i, d := range m.datasets {
		energies, err := m.energies.Grid(m.gridIDs[i])
		if err != nil {
			return nil, err
		}
		flux, err := m.trees[d.Group].Evaluate(m.gridIDs[i], energies, saveFlux)
		if err != nil {
			return nil, &DataError{Dataset: d.Name, Err: err}
		}
		fluxes[i] = flux
	}

	if mix := m.trees[1].Mixing(); mix != nil {
		groups := make([]component.MixGroup, len(m.datasets))
		for i, d := range m.datasets {
			groups[i] = component.MixGroup{
				Group:    d.Group,
				Energies: d.Response.Energies(),
				Flux:     fluxes[i],
			}
			if mix.AMX() {
				eff := d.Response.Efficiency()
				for k := range eff {
					eff[k] *= d.Spectrum.Exposure
				}
				groups[i].Efficiency = eff
			}
		}
		if err := mix.Mix(groups); err != nil {
			return nil, &DataError{Dataset: "*", Err: err}
		}
	}

	counts := make([][]float64, len(m.datasets))
	for i, d := range m.datasets {
		rate, err := d.Response.Fold(fluxes[i])
		if err != nil {
			return nil, &DataError{Dataset: d.Name, Err: err}
		}
		for k := range rate {
			rate[k] *= d.Spectrum.Exposure
		}
		counts[i] = rate
	}
	return counts, nil
}
