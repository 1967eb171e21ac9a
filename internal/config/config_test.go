package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xspecfit/internal/component"
	"xspecfit/internal/fit"
	"xspecfit/internal/statistic"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.FitOptions() != fit.DefaultOptions() {
		t.Fatalf("unexpected fit options: %+v", cfg.FitOptions())
	}
	if cfg.ErrorOptions() != fit.DefaultErrorOptions() {
		t.Fatalf("unexpected error options: %+v", cfg.ErrorOptions())
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte("fit:\n  method: simplex\nerrors:\n  workers: 4\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Fit.Method != "simplex" || cfg.Errors.Workers != 4 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Fit.Iterations != 100 || cfg.Fit.CriticalDelta != 0.01 || cfg.Errors.DeltaStat != 2.706 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		doc  string
		want error
	}{
		{doc: "statistic:\n  name: cstat\n  weight: churazov\n", want: statistic.ErrWeightRejected},
		{doc: "fit:\n  method: powell\n", want: fit.ErrUnknownMethod},
		{doc: "statistic:\n  name: wstat\n", want: statistic.ErrUnknownStatistic},
		{doc: "statistic:\n  weight: user\n", want: statistic.ErrUnknownWeighting},
		{doc: "statistic:\n  goodness: [ks, runs]\n", want: statistic.ErrUnknownTest},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.doc)); !errors.Is(err, tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.doc, tc.want, err)
		}
	}
	for _, doc := range []string{
		"fit:\n  iterations: 0\n",
		"errors:\n  delta_stat: -1\n",
		"store:\n  kind: sqlite\n",
		"store:\n  kind: redis\n",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%q: expected validation error", doc)
		}
	}
}

// powerlawSession writes counts of a unit-index power law with norm 10 on
// the grid 1..11 keV for two data groups.
func powerlawSession() string {
	var counts []string
	for i := 1; i <= 10; i++ {
		counts = append(counts, fmt.Sprintf("%.10f", 10*math.Log(float64(i+1)/float64(i))))
	}
	grid := "[1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11]"
	data := "[" + strings.Join(counts, ", ") + "]"
	return `
fit:
  critical_delta: 1.0e-10
  converge_count: 2
session:
  model: po
  datasets:
    - name: front
      counts: ` + data + `
      response:
        kind: identity
        energies: ` + grid + `
      ignore:
        - {lo: 10, hi: 10}
    - name: back
      group: 2
      exposure: 2
      counts: ` + data + `
      response:
        kind: diagonal
        energies: ` + grid + `
        area: [0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5]
      notice:
        - {lo: 2, hi: 5}
  params:
    - index: 1
      frozen: true
    - index: 2
      value: 1
    - index: 3
      unlink: true
      value: 1.5
      frozen: true
`
}

func TestBuildSessionAppliesOverrides(t *testing.T) {
	cfg, err := Parse([]byte(powerlawSession()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := cfg.Build(component.BuiltinLibrary())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m := f.Model()
	t.Cleanup(func() { _ = m.Close() })

	if m.Expression() != "po" || m.Params().Len() != 4 {
		t.Fatalf("unexpected model %q with %d params", m.Expression(), m.Params().Len())
	}
	p1, _ := m.Params().Get(1)
	p3, _ := m.Params().Get(3)
	p4, _ := m.Params().Get(4)
	if !p1.Frozen() {
		t.Fatal("expected parameter 1 frozen")
	}
	if p3.Linked() || p3.Value() != 1.5 {
		t.Fatalf("expected parameter 3 unlinked at 1.5, got linked=%v value=%g", p3.Linked(), p3.Value())
	}
	if p4.LinkExpression() != "p2" {
		t.Fatalf("expected parameter 4 linked to p2, got %q", p4.LinkExpression())
	}
	datasets := m.Datasets()
	if got := len(datasets[0].Noticed()); got != 9 {
		t.Fatalf("front: expected 9 noticed channels, got %d", got)
	}
	if got := len(datasets[1].Noticed()); got != 4 {
		t.Fatalf("back: expected 4 noticed channels, got %d", got)
	}
	if datasets[1].Spectrum.Exposure != 2 || datasets[0].Spectrum.Exposure != 1 {
		t.Fatalf("unexpected exposures: %g %g", datasets[0].Spectrum.Exposure, datasets[1].Spectrum.Exposure)
	}
	if len(f.FreeParams()) != 1 {
		t.Fatalf("expected one free parameter, got %d", len(f.FreeParams()))
	}
}

func TestBuiltSessionFits(t *testing.T) {
	cfg, err := Parse([]byte(powerlawSession()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// keep group 2 tied to group 1
	cfg.Session.Params = cfg.Session.Params[:2]
	f, err := cfg.Build(component.BuiltinLibrary())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = f.Model().Close() })

	res, err := f.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if res.Status != fit.StatusConverged {
		t.Fatalf("expected converged, got %s (%v)", res.Status, res.Err)
	}
	// area 0.5 times exposure 2 leaves group 2 identical to group 1
	p2, _ := f.Model().Params().Get(2)
	if math.Abs(p2.Value()-10) > 1e-4 {
		t.Fatalf("norm: got=%f want=10", p2.Value())
	}
}

func TestBuildRejectsBadSessions(t *testing.T) {
	lib := component.BuiltinLibrary()
	if _, err := (Config{}).Session.BuildModel(lib); err == nil {
		t.Fatal("expected missing model error")
	}
	s := Session{Model: "powerlaw"}
	if _, err := s.BuildModel(lib); !errors.Is(err, fit.ErrNoDatasets) {
		t.Fatalf("expected ErrNoDatasets, got %v", err)
	}
	s.Datasets = []DatasetConfig{{
		Name:     "a",
		Counts:   []float64{1, 2},
		Response: ResponseConfig{Kind: "fits", Energies: []float64{1, 2, 3}},
	}}
	if _, err := s.BuildModel(lib); err == nil {
		t.Fatal("expected unknown response kind error")
	}
	s.Datasets[0].Response.Kind = "identity"
	s.Params = []ParamOverride{{Index: 9}}
	if _, err := s.BuildModel(lib); err == nil {
		t.Fatal("expected unknown parameter error")
	}
	s.Params = []ParamOverride{{Index: 1, Link: "p1"}}
	if _, err := s.BuildModel(lib); err == nil {
		t.Fatal("expected self link error")
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(powerlawSession()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Session.Datasets) != 2 || cfg.Fit.ConvergeCount != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
