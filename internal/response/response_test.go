package response

import (
	"errors"
	"math"
	"testing"
)

func grid(n int) []float64 {
	out := make([]float64, n+1)
	for i := range out {
		out[i] = 1 + float64(i)
	}
	return out
}

func TestValidateGrid(t *testing.T) {
	if err := ValidateGrid([]float64{1}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected short grid error, got %v", err)
	}
	if err := ValidateGrid([]float64{1, 1}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected non-increasing error, got %v", err)
	}
	if err := ValidateGrid([]float64{-1, 1}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected negative edge error, got %v", err)
	}
	if err := ValidateGrid([]float64{0, math.Inf(1)}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected non-finite error, got %v", err)
	}
	if err := ValidateGrid(grid(3)); err != nil {
		t.Fatalf("valid grid rejected: %v", err)
	}
}

func TestIdentityFoldIsPassthrough(t *testing.T) {
	r, err := NewIdentity(grid(4))
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	flux := []float64{1, 2, 3, 4}
	out, err := r.Fold(flux)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	for i := range flux {
		if out[i] != flux[i] {
			t.Fatalf("unexpected folded value at %d: got=%f want=%f", i, out[i], flux[i])
		}
	}
	if r.Kind() != KindIdentity || r.Channels() != 4 || r.Bins() != 4 {
		t.Fatalf("unexpected identity shape: kind=%s channels=%d bins=%d", r.Kind(), r.Channels(), r.Bins())
	}
	if _, err := r.Fold([]float64{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMatrixFoldRedistributes(t *testing.T) {
	rows := [][]float64{
		{0.5, 0.5, 0},
		{0, 1, 0},
		{0, 0.25, 0.75},
		{0, 0, 2},
	}
	r, err := NewMatrix(grid(4), rows)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	out, err := r.Fold([]float64{2, 1, 4, 1})
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	want := []float64{1, 3, 5}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Fatalf("channel %d: got=%f want=%f", i, out[i], want[i])
		}
	}
	eff := r.Efficiency()
	wantEff := []float64{1, 1, 1, 2}
	for i := range wantEff {
		if eff[i] != wantEff[i] {
			t.Fatalf("efficiency %d: got=%f want=%f", i, eff[i], wantEff[i])
		}
	}
}

func TestMatrixShapeValidation(t *testing.T) {
	if _, err := NewMatrix(grid(2), [][]float64{{1}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected row count mismatch, got %v", err)
	}
	if _, err := NewMatrix(grid(2), [][]float64{{1, 0}, {1}}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ragged row mismatch, got %v", err)
	}
	if _, err := NewDiagonal(grid(2), []float64{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected area mismatch, got %v", err)
	}
}

func TestEnergyRegistrySharesIdenticalGrids(t *testing.T) {
	reg := NewEnergyRegistry()
	a, err := reg.Acquire("spec1", grid(5), false)
	if err != nil {
		t.Fatalf("acquire spec1: %v", err)
	}
	b, err := reg.Acquire("spec2", grid(5), false)
	if err != nil {
		t.Fatalf("acquire spec2: %v", err)
	}
	if a != b || reg.Len() != 1 {
		t.Fatalf("expected shared entry: a=%d b=%d len=%d", a, b, reg.Len())
	}
	if clients := reg.Clients(a); len(clients) != 2 || clients[0] != "spec1" {
		t.Fatalf("unexpected clients: %v", clients)
	}

	c, err := reg.Acquire("spec3", grid(5), true)
	if err != nil {
		t.Fatalf("acquire spec3: %v", err)
	}
	if c == a || reg.Len() != 2 {
		t.Fatalf("dontShare must create a private entry: c=%d len=%d", c, reg.Len())
	}
	d, err := reg.Acquire("spec4", grid(6), false)
	if err != nil {
		t.Fatalf("acquire spec4: %v", err)
	}
	if d == a || d == c {
		t.Fatalf("different shape must not share: d=%d", d)
	}
}

func TestEnergyRegistryReleaseAndMerge(t *testing.T) {
	reg := NewEnergyRegistry()
	a, _ := reg.Acquire("spec1", grid(3), false)
	b, _ := reg.Acquire("spec2", grid(4), false)

	// moving spec2 onto spec1's grid merges the entries
	if err := reg.Release("spec2", b); err != nil {
		t.Fatalf("release: %v", err)
	}
	merged, err := reg.Acquire("spec2", grid(3), false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if merged != a || reg.Len() != 1 {
		t.Fatalf("expected merge into %d, got %d (len=%d)", a, merged, reg.Len())
	}
	if _, err := reg.Grid(b); !errors.Is(err, ErrEnergyNotFound) {
		t.Fatalf("expected released entry to be destroyed, got %v", err)
	}
	if err := reg.Release("nobody", a); !errors.Is(err, ErrClientNotHolder) {
		t.Fatalf("expected ErrClientNotHolder, got %v", err)
	}
	_ = reg.Release("spec1", a)
	_ = reg.Release("spec2", a)
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

func TestEnergyRegistrySealed(t *testing.T) {
	reg := NewEnergyRegistry()
	id, _ := reg.Acquire("spec1", grid(3), false)
	reg.Seal()
	if _, err := reg.Acquire("spec2", grid(3), false); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed on acquire, got %v", err)
	}
	if err := reg.Release("spec1", id); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed on release, got %v", err)
	}
	if _, err := reg.Grid(id); err != nil {
		t.Fatalf("reads must work while sealed: %v", err)
	}
	reg.Unseal()
	if err := reg.Release("spec1", id); err != nil {
		t.Fatalf("release after unseal: %v", err)
	}
}
