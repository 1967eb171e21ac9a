package config

import (
	"errors"
	"fmt"

	"xspecfit/internal/component"
	"xspecfit/internal/fit"
	"xspecfit/internal/param"
	"xspecfit/internal/response"
	"xspecfit/internal/statistic"
)

// Session describes the model, the datasets and the parameter overrides of
// one fit.
type Session struct {
	Model    string          `yaml:"model" json:"model"`
	Datasets []DatasetConfig `yaml:"datasets" json:"datasets"`
	Params   []ParamOverride `yaml:"params" json:"params"`
}

type DatasetConfig struct {
	Name     string         `yaml:"name" json:"name"`
	Group    int            `yaml:"group" json:"group"`
	Counts   []float64      `yaml:"counts" json:"counts"`
	Errors   []float64      `yaml:"errors" json:"errors"`
	Exposure float64        `yaml:"exposure" json:"exposure"`
	Response ResponseConfig `yaml:"response" json:"response"`
	// Ignore ranges are applied after Notice ranges.
	Notice []ChannelRange `yaml:"notice" json:"notice"`
	Ignore []ChannelRange `yaml:"ignore" json:"ignore"`
}

// ResponseConfig selects identity, diagonal (Area per energy bin) or matrix
// (one row of channel weights per energy bin).
type ResponseConfig struct {
	Kind     string      `yaml:"kind" json:"kind"`
	Energies []float64   `yaml:"energies" json:"energies"`
	Area     []float64   `yaml:"area" json:"area"`
	Matrix   [][]float64 `yaml:"matrix" json:"matrix"`
}

// ChannelRange is an inclusive 1-based channel range.
type ChannelRange struct {
	Lo int `yaml:"lo" json:"lo"`
	Hi int `yaml:"hi" json:"hi"`
}

type ParamOverride struct {
	Index  int           `yaml:"index" json:"index"`
	Value  *float64      `yaml:"value" json:"value,omitempty"`
	Delta  *float64      `yaml:"delta" json:"delta,omitempty"`
	Frozen *bool         `yaml:"frozen" json:"frozen,omitempty"`
	Link   string        `yaml:"link" json:"link,omitempty"`
	Unlink bool          `yaml:"unlink" json:"unlink,omitempty"`
	Bounds *BoundsConfig `yaml:"bounds" json:"bounds,omitempty"`
}

type BoundsConfig struct {
	HardMin float64 `yaml:"hard_min" json:"hard_min"`
	SoftMin float64 `yaml:"soft_min" json:"soft_min"`
	SoftMax float64 `yaml:"soft_max" json:"soft_max"`
	HardMax float64 `yaml:"hard_max" json:"hard_max"`
}

func (r ResponseConfig) build() (*response.Response, error) {
	switch r.Kind {
	case "", response.KindIdentity:
		return response.NewIdentity(r.Energies)
	case response.KindDiagonal:
		return response.NewDiagonal(r.Energies, r.Area)
	case response.KindMatrix:
		return response.NewMatrix(r.Energies, r.Matrix)
	default:
		return nil, fmt.Errorf("unknown response kind %q", r.Kind)
	}
}

func (d DatasetConfig) build() (*fit.Dataset, error) {
	resp, err := d.Response.build()
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	exposure := d.Exposure
	if exposure == 0 {
		exposure = 1
	}
	group := d.Group
	if group == 0 {
		group = 1
	}
	ds, err := fit.NewDataset(d.Name, group, statistic.Spectrum{
		Counts:   d.Counts,
		Errors:   d.Errors,
		Exposure: exposure,
	}, resp)
	if err != nil {
		return nil, err
	}
	if len(d.Notice) > 0 {
		if err := ds.Ignore(1, len(d.Counts)); err != nil {
			return nil, err
		}
		for _, r := range d.Notice {
			if err := ds.Notice(r.Lo, r.Hi); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range d.Ignore {
		if err := ds.Ignore(r.Lo, r.Hi); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// BuildModel instantiates the session model from lib and applies the
// parameter overrides in order. The caller closes the model.
func (s Session) BuildModel(lib *component.Library) (*fit.Model, error) {
	if s.Model == "" {
		return nil, errors.New("session model expression is required")
	}
	datasets := make([]*fit.Dataset, 0, len(s.Datasets))
	for _, dc := range s.Datasets {
		ds, err := dc.build()
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	m, err := fit.NewModel(lib, s.Model, datasets)
	if err != nil {
		return nil, err
	}
	for _, o := range s.Params {
		if err := o.apply(m); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("parameter %d: %w", o.Index, err)
		}
	}
	return m, nil
}

func (o ParamOverride) apply(m *fit.Model) error {
	p, err := m.Params().Get(o.Index)
	if err != nil {
		return err
	}
	if o.Unlink {
		if err := m.Unlink(o.Index); err != nil {
			return err
		}
	}
	if o.Bounds != nil {
		if err := p.SetBounds(param.Bounds{
			HardMin: o.Bounds.HardMin,
			SoftMin: o.Bounds.SoftMin,
			SoftMax: o.Bounds.SoftMax,
			HardMax: o.Bounds.HardMax,
		}); err != nil {
			return err
		}
	}
	if o.Delta != nil {
		if err := p.SetDelta(*o.Delta); err != nil {
			return err
		}
	}
	if o.Value != nil {
		if err := m.SetParameter(o.Index, *o.Value); err != nil {
			return err
		}
	}
	if o.Link != "" {
		if err := m.Link(o.Index, o.Link); err != nil {
			return err
		}
	}
	if o.Frozen != nil {
		if *o.Frozen {
			return m.Freeze(o.Index)
		}
		return m.Thaw(o.Index)
	}
	return nil
}

// Build assembles the model and the fit described by c. Observers are left
// to the caller.
func (c Config) Build(lib *component.Library) (*fit.Fit, error) {
	m, err := c.Session.BuildModel(lib)
	if err != nil {
		return nil, err
	}
	stat, err := statistic.FromConfig(c.Statistic.Name)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	weight, err := statistic.WeightingFromConfig(c.Statistic.Weight)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	f, err := fit.New(m, stat, weight, c.FitOptions())
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	method, err := fit.MethodFromConfig(c.Fit.Method)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	f.SetMethod(method)
	return f, nil
}
