package fit

import (
	"errors"
	"fmt"

	"xspecfit/internal/response"
	"xspecfit/internal/statistic"
)

// Dataset is one observed spectrum with its response, assigned to a data
// group. Channels can be noticed or ignored before a fit.
type Dataset struct {
	Name     string
	Group    int
	Spectrum statistic.Spectrum
	Response *response.Response

	notice []bool
}

func NewDataset(name string, group int, spectrum statistic.Spectrum, resp *response.Response) (*Dataset, error) {
	if name == "" {
		return nil, errors.New("dataset name is required")
	}
	if group < 1 {
		return nil, fmt.Errorf("dataset %s: data group must be >= 1, got %d", name, group)
	}
	if resp == nil {
		return nil, fmt.Errorf("dataset %s: response is required", name)
	}
	if err := spectrum.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	if resp.Channels() != spectrum.Channels() {
		return nil, fmt.Errorf("dataset %s: %w: response has %d channels, spectrum %d", name, response.ErrShapeMismatch, resp.Channels(), spectrum.Channels())
	}
	notice := make([]bool, spectrum.Channels())
	for i := range notice {
		notice[i] = true
	}
	return &Dataset{Name: name, Group: group, Spectrum: spectrum, Response: resp, notice: notice}, nil
}

// Notice includes channels lo..hi (1-based, inclusive).
func (d *Dataset) Notice(lo, hi int) error {
	return d.setRange(lo, hi, true)
}

// Ignore excludes channels lo..hi (1-based, inclusive).
func (d *Dataset) Ignore(lo, hi int) error {
	return d.setRange(lo, hi, false)
}

func (d *Dataset) setRange(lo, hi int, value bool) error {
	if lo < 1 || hi > len(d.notice) || lo > hi {
		return fmt.Errorf("dataset %s: channel range %d-%d outside 1-%d", d.Name, lo, hi, len(d.notice))
	}
	for i := lo - 1; i < hi; i++ {
		d.notice[i] = value
	}
	return nil
}

// Noticed returns the 0-based indices of channels used in the fit.
func (d *Dataset) Noticed() []int {
	out := make([]int, 0, len(d.notice))
	for i, ok := range d.notice {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// selectNoticed picks the noticed entries of a per-channel slice.
func (d *Dataset) selectNoticed(values []float64) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, 0, len(values))
	for i, ok := range d.notice {
		if ok {
			out = append(out, values[i])
		}
	}
	return out
}
