package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xspecfit/internal/record"
	"xspecfit/pkg/xspecfit"
)

const sessionYAML = `
fit:
  critical_delta: 1.0e-8
  converge_count: 2
statistic:
  goodness: [ks]
errors:
  params: [2]
session:
  model: powerlaw
  datasets:
    - name: src
      counts: [10, 10, 10, 10, 10, 10, 10, 10]
      errors: [1, 1, 1, 1, 1, 1, 1, 1]
      response:
        kind: diagonal
        energies: [1, 2, 3, 4, 5, 6, 7, 8, 9]
        area: [2, 2, 2, 2, 2, 2, 2, 2]
  params:
    - {index: 1, value: 0, frozen: true}
`

func writeSession(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(sessionYAML), 0o644); err != nil {
		t.Fatalf("write session: %v", err)
	}
	return path
}

func TestFitCommandPrintsJSONRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"fit", "--config", writeSession(t), "--dry-run", "--json", "--log-level", "warn"}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("fit command: %v (stderr %s)", err, stderr.String())
	}
	var out record.FitRun
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if out.Status != "converged" || out.DOF != 7 {
		t.Fatalf("unexpected run: %+v", out)
	}
	// area 2 halves the fitted normalization
	if len(out.Params) != 2 || math.Abs(out.Params[1].Value-5) > 1e-4 {
		t.Fatalf("unexpected params: %+v", out.Params)
	}
	if len(out.ErrorBounds) != 1 || len(out.Goodness) != 1 {
		t.Fatalf("expected error bounds and goodness, got %+v", out)
	}
}

func TestFitCommandPrintsTextReport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"fit", "--config", writeSession(t), "--method", "simplex", "--progress"}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("fit command: %v", err)
	}
	text := stdout.String()
	for _, want := range []string{"method simplex", "PARAMETER", "2 powerlaw<1>.norm", "frozen", "goodness ks"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if !strings.Contains(stderr.String(), `"msg"`) {
		t.Fatalf("expected JSON logs on a non-terminal, got %q", stderr.String())
	}
}

func TestFitCommandRequiresConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"fit"}, &stdout, &stderr); err == nil {
		t.Fatal("expected missing config error")
	}
	args := []string{"fit", "--config", filepath.Join(t.TempDir(), "missing.yaml")}
	if err := run(context.Background(), args, &stdout, &stderr); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestRunsAndShowOnEmptyStore(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"runs"}, &stdout, &stderr); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "no runs" {
		t.Fatalf("unexpected runs output: %q", stdout.String())
	}
	err := run(context.Background(), []string{"show", "nope"}, &stdout, &stderr)
	if !errors.Is(err, xspecfit.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	err = run(context.Background(), []string{"delete", "nope"}, &stdout, &stderr)
	if !errors.Is(err, xspecfit.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	err = run(context.Background(), []string{"export", "--latest", "--out", t.TempDir()}, &stdout, &stderr)
	if !errors.Is(err, xspecfit.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from export, got %v", err)
	}
}

func TestComponentsCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"components"}, &stdout, &stderr); err != nil {
		t.Fatalf("components: %v", err)
	}
	text := stdout.String()
	for _, want := range []string{"powerlaw", "PhoIndex norm", "crosstalk", "mix"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestUnknownCommandAndStore(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"plot"}, &stdout, &stderr); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := run(context.Background(), []string{"runs", "--store", "redis"}, &stdout, &stderr); err == nil {
		t.Fatal("expected unsupported store error")
	}
	if err := run(context.Background(), []string{"runs", "--log-level", "loud"}, &stdout, &stderr); err == nil {
		t.Fatal("expected invalid log level error")
	}
}
