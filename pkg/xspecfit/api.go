package xspecfit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"xspecfit/internal/artifacts"
	"xspecfit/internal/component"
	"xspecfit/internal/config"
	"xspecfit/internal/fit"
	"xspecfit/internal/metrics"
	"xspecfit/internal/record"
	"xspecfit/internal/statistic"
	"xspecfit/internal/storage"
)

const (
	defaultDBPath     = "xspecfit.db"
	defaultExportsDir = "exports"
)

var ErrRunNotFound = errors.New("fit run not found")

type Options struct {
	StoreKind string
	DBPath    string
	// Logger receives fit progress; nil uses slog.Default.
	Logger *slog.Logger
	// Registerer enables fit metrics when set.
	Registerer prometheus.Registerer
	// Progress receives the per-iteration table when set.
	Progress io.Writer
}

type Client struct {
	store    storage.Store
	logger   *slog.Logger
	metrics  *metrics.Observer
	progress io.Writer
	now      func() time.Time
}

type FitRequest struct {
	Config config.Config
	// Library defaults to the built-in components.
	Library   *component.Library
	Observers []fit.Observer
	// DryRun skips persisting the run.
	DryRun bool
}

type FitSummary struct {
	RunID       string
	Result      *fit.Result
	ErrorBounds []fit.ErrorBound
	Goodness    map[string]float64
	Run         record.FitRun
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ComponentInfo struct {
	Name        string
	Kind        string
	Description string
	Params      []string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		store:    store,
		logger:   logger,
		progress: opts.Progress,
		now:      time.Now,
	}
	if opts.Registerer != nil {
		c.metrics = metrics.NewObserver(opts.Registerer)
	}
	return c, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Fit builds the session in req.Config, fits it, runs the configured error
// search and goodness tests, and stores the run. A fit that ends with
// StatusError is still stored and returned without an error.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return FitSummary{}, err
	}
	lib := req.Library
	if lib == nil {
		lib = component.BuiltinLibrary()
	}
	f, err := cfg.Build(lib)
	if err != nil {
		return FitSummary{}, err
	}
	defer func() { _ = f.Model().Close() }()

	f.AddObserver(fit.NewLogObserver(c.logger))
	if c.metrics != nil {
		f.AddObserver(c.metrics)
	}
	if c.progress != nil {
		f.AddObserver(fit.NewTableObserver(c.progress))
	}
	for _, o := range req.Observers {
		f.AddObserver(o)
	}

	res, err := f.Perform(ctx)
	if err != nil {
		return FitSummary{}, err
	}
	out := FitSummary{Result: res, Goodness: make(map[string]float64)}

	if res.Converged() && len(cfg.Errors.Params) > 0 {
		bounds, err := f.Errors(ctx, cfg.Errors.Params, cfg.ErrorOptions())
		if err != nil {
			return FitSummary{}, fmt.Errorf("error search: %w", err)
		}
		out.ErrorBounds = bounds
	}
	if res.Status != fit.StatusError {
		for _, test := range cfg.Statistic.Goodness {
			v, err := f.Goodness(test)
			if err != nil {
				return FitSummary{}, fmt.Errorf("goodness %s: %w", test, err)
			}
			out.Goodness[test] = v
		}
	}

	out.RunID = uuid.NewString()
	out.Run = c.fitRecord(out, f, cfg)
	if res.Status != fit.StatusError {
		if err := attachPredicted(&out.Run, f); err != nil {
			return FitSummary{}, fmt.Errorf("predicted counts: %w", err)
		}
	}
	if !req.DryRun {
		if err := c.store.SaveFitRun(ctx, out.Run); err != nil {
			return FitSummary{}, err
		}
	}
	return out, nil
}

func (c *Client) fitRecord(s FitSummary, f *fit.Fit, cfg config.Config) record.FitRun {
	res := s.Result
	run := record.FitRun{
		ID:         s.RunID,
		CreatedAt:  c.now().UTC(),
		Expression: f.Model().Expression(),
		Statistic:  f.Statistic().Name(),
		Weighting:  f.Weighting().Name(),
		Method:     res.Method,
		Status:     res.Status.String(),
		Iterations: res.Iterations,
		Value:      res.Statistic,
		DOF:        res.DOF,
		Pegged:     res.Pegged,
		History:    res.History,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if f.Statistic().Name() == "chi" {
		if p := statistic.NullHypothesis(res.Statistic, res.DOF); !math.IsNaN(p) {
			run.NullHypothesis = p
		}
	}
	for _, d := range f.Model().Datasets() {
		run.Datasets = append(run.Datasets, d.Name)
	}
	for _, p := range res.Params {
		run.Params = append(run.Params, record.Param{
			Index:  p.Index,
			Label:  p.Label,
			Unit:   p.Unit,
			Value:  p.Value,
			Sigma:  p.Sigma,
			Frozen: p.Frozen,
			Link:   p.Link,
			Pegged: p.Pegged,
		})
	}
	for _, b := range s.ErrorBounds {
		run.ErrorBounds = append(run.ErrorBounds, record.ErrorBound{
			Index:           b.Index,
			Label:           b.Label,
			Low:             b.Low,
			High:            b.High,
			LowAtLimit:      b.LowAtLimit,
			HighAtLimit:     b.HighAtLimit,
			LowUnbracketed:  b.LowUnbracketed,
			HighUnbracketed: b.HighUnbracketed,
			NewMinimum:      b.NewMinimum,
		})
	}
	for _, test := range cfg.Statistic.Goodness {
		if v, ok := s.Goodness[test]; ok {
			run.Goodness = append(run.Goodness, record.Goodness{Test: test, Value: v})
		}
	}
	for _, fault := range res.DerivativeFaults {
		run.Faults = append(run.Faults, fault.Error())
	}
	return storage.Stamp(run)
}

// attachPredicted stores the folded model of every dataset and the flux
// each component contributed at the final parameters.
func attachPredicted(run *record.FitRun, f *fit.Fit) error {
	predicted, err := f.Predicted()
	if err != nil {
		return err
	}
	for i, d := range f.Model().Datasets() {
		run.Predicted = append(run.Predicted, record.DatasetCounts{
			Dataset: d.Name,
			Counts:  append([]float64(nil), d.Spectrum.Counts...),
			Model:   predicted[i],
		})
	}
	for _, g := range f.Model().Groups() {
		tree, ok := f.Model().Tree(g)
		if !ok {
			continue
		}
		for _, comp := range tree.Components() {
			if flux := comp.SavedFlux(); len(flux) > 0 {
				run.Components = append(run.Components, record.ComponentFlux{
					Label: comp.Label(),
					Group: g,
					Flux:  append([]float64(nil), flux...),
				})
			}
		}
	}
	return nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]record.FitRunSummary, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	runs, err := c.store.ListFitRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

func (c *Client) Show(ctx context.Context, id string) (record.FitRun, error) {
	run, ok, err := c.store.GetFitRun(ctx, id)
	if err != nil {
		return record.FitRun{}, err
	}
	if !ok {
		return record.FitRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	ok, err := c.store.DeleteFitRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Export writes the artifacts of a stored run into OutDir and returns the
// run directory.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return "", errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = defaultExportsDir
	}
	if req.Latest {
		runs, err := c.store.ListFitRuns(ctx)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", fmt.Errorf("%w: no runs stored", ErrRunNotFound)
		}
		req.RunID = runs[0].ID
	}
	run, err := c.Show(ctx, req.RunID)
	if err != nil {
		return "", err
	}
	return artifacts.WriteRunArtifacts(req.OutDir, run)
}

// Components describes every component in lib, or the built-in library
// when lib is nil.
func Components(lib *component.Library) []ComponentInfo {
	if lib == nil {
		lib = component.BuiltinLibrary()
	}
	names := lib.List()
	out := make([]ComponentInfo, 0, len(names))
	for _, name := range names {
		def, err := lib.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, ComponentInfo{
			Name:        def.Name,
			Kind:        def.Kind.String(),
			Description: def.Description,
			Params:      def.ParamNames(),
		})
	}
	return out
}

func (c *Client) Components() []ComponentInfo {
	return Components(nil)
}
