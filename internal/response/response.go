package response

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidGrid     = errors.New("invalid energy grid")
	ErrShapeMismatch   = errors.New("response shape mismatch")
	ErrRegistrySealed  = errors.New("energy registry is sealed")
	ErrEnergyNotFound  = errors.New("energy grid not found")
	ErrClientNotHolder = errors.New("client does not hold energy grid")
)

const (
	KindMatrix   = "matrix"
	KindDiagonal = "diagonal"
	KindIdentity = "identity"
)

// Response maps flux on a true-energy grid to count rates per channel.
// It is read-only once built.
type Response struct {
	kind     string
	energies []float64
	channels int
	matrix   *mat.Dense
	area     []float64
}

// ValidateGrid checks that energies are finite, non-negative and strictly
// increasing with at least one bin.
func ValidateGrid(energies []float64) error {
	if len(energies) < 2 {
		return fmt.Errorf("%w: need at least 2 edges, got %d", ErrInvalidGrid, len(energies))
	}
	for i, e := range energies {
		if math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
			return fmt.Errorf("%w: edge %d = %g", ErrInvalidGrid, i, e)
		}
		if i > 0 && e <= energies[i-1] {
			return fmt.Errorf("%w: edges not increasing at %d", ErrInvalidGrid, i)
		}
	}
	return nil
}

// NewMatrix builds a response from rows indexed by energy bin, each row
// holding the channel redistribution times effective area.
func NewMatrix(energies []float64, rows [][]float64) (*Response, error) {
	if err := ValidateGrid(energies); err != nil {
		return nil, err
	}
	nE := len(energies) - 1
	if len(rows) != nE {
		return nil, fmt.Errorf("%w: %d rows for %d energy bins", ErrShapeMismatch, len(rows), nE)
	}
	nC := len(rows[0])
	if nC == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrShapeMismatch)
	}
	data := make([]float64, 0, nE*nC)
	for i, row := range rows {
		if len(row) != nC {
			return nil, fmt.Errorf("%w: row %d has %d channels, want %d", ErrShapeMismatch, i, len(row), nC)
		}
		data = append(data, row...)
	}
	return &Response{
		kind:     KindMatrix,
		energies: append([]float64(nil), energies...),
		channels: nC,
		matrix:   mat.NewDense(nE, nC, data),
	}, nil
}

// NewDiagonal builds a one channel per energy bin response scaled by area.
func NewDiagonal(energies, area []float64) (*Response, error) {
	if err := ValidateGrid(energies); err != nil {
		return nil, err
	}
	if len(area) != len(energies)-1 {
		return nil, fmt.Errorf("%w: %d area values for %d energy bins", ErrShapeMismatch, len(area), len(energies)-1)
	}
	return &Response{
		kind:     KindDiagonal,
		energies: append([]float64(nil), energies...),
		channels: len(area),
		area:     append([]float64(nil), area...),
	}, nil
}

// NewIdentity is the fallback used when a spectrum has no response.
func NewIdentity(energies []float64) (*Response, error) {
	if err := ValidateGrid(energies); err != nil {
		return nil, err
	}
	area := make([]float64, len(energies)-1)
	for i := range area {
		area[i] = 1
	}
	r, err := NewDiagonal(energies, area)
	if err != nil {
		return nil, err
	}
	r.kind = KindIdentity
	return r, nil
}

func (r *Response) Kind() string { return r.kind }

// Energies returns the true-energy grid edges. Callers must not modify it.
func (r *Response) Energies() []float64 { return r.energies }

func (r *Response) Bins() int { return len(r.energies) - 1 }

func (r *Response) Channels() int { return r.channels }

// Fold returns count rates per channel for flux given per energy bin.
func (r *Response) Fold(flux []float64) ([]float64, error) {
	if len(flux) != r.Bins() {
		return nil, fmt.Errorf("%w: flux has %d bins, response has %d", ErrShapeMismatch, len(flux), r.Bins())
	}
	if r.matrix == nil {
		out := make([]float64, r.channels)
		floats.MulTo(out, flux, r.area)
		return out, nil
	}
	out := mat.NewVecDense(r.channels, nil)
	out.MulVec(r.matrix.T(), mat.NewVecDense(len(flux), flux))
	return out.RawVector().Data, nil
}

// Efficiency is the total response to unit flux in each energy bin.
func (r *Response) Efficiency() []float64 {
	out := make([]float64, r.Bins())
	if r.matrix == nil {
		copy(out, r.area)
		return out
	}
	for i := range out {
		out[i] = floats.Sum(r.matrix.RawRowView(i))
	}
	return out
}
