package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"xspecfit/internal/fit"
	"xspecfit/internal/statistic"
	"xspecfit/internal/storage"
)

// Config is a fit session file: engine settings plus the session to fit.
type Config struct {
	Fit       FitConfig       `yaml:"fit" json:"fit"`
	Statistic StatisticConfig `yaml:"statistic" json:"statistic"`
	Errors    ErrorsConfig    `yaml:"errors" json:"errors"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Session   Session         `yaml:"session" json:"session"`
}

type FitConfig struct {
	Method        string  `yaml:"method" json:"method"`
	Iterations    int     `yaml:"iterations" json:"iterations"`
	CriticalDelta float64 `yaml:"critical_delta" json:"critical_delta"`
	ConvergeCount int     `yaml:"converge_count" json:"converge_count"`
	InitialLambda float64 `yaml:"initial_lambda" json:"initial_lambda"`
	LambdaMax     float64 `yaml:"lambda_max" json:"lambda_max"`
}

type StatisticConfig struct {
	Name   string `yaml:"name" json:"name"`
	Weight string `yaml:"weight" json:"weight"`
	// Goodness lists goodness-of-fit tests run after the fit.
	Goodness []string `yaml:"goodness" json:"goodness"`
}

type ErrorsConfig struct {
	// Params lists the parameter indices to search; empty skips the search.
	Params        []int   `yaml:"params" json:"params"`
	DeltaStat     float64 `yaml:"delta_stat" json:"delta_stat"`
	Workers       int     `yaml:"workers" json:"workers"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" json:"kind"`
	Path string `yaml:"path" json:"path"`
}

func Default() Config {
	opts := fit.DefaultOptions()
	errOpts := fit.DefaultErrorOptions()
	return Config{
		Fit: FitConfig{
			Method:        "leven",
			Iterations:    opts.MaxIterations,
			CriticalDelta: opts.CriticalDelta,
			ConvergeCount: opts.ConvergeCount,
			InitialLambda: opts.InitialLambda,
			LambdaMax:     opts.LambdaMax,
		},
		Statistic: StatisticConfig{Name: "chi", Weight: "standard"},
		Errors: ErrorsConfig{
			DeltaStat:     errOpts.DeltaStat,
			Workers:       errOpts.Workers,
			MaxIterations: errOpts.MaxIterations,
			Tolerance:     errOpts.Tolerance,
		},
		Store: StoreConfig{Kind: "memory"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := fit.MethodFromConfig(c.Fit.Method); err != nil {
		return err
	}
	if err := c.FitOptions().Validate(); err != nil {
		return err
	}
	stat, err := statistic.FromConfig(c.Statistic.Name)
	if err != nil {
		return err
	}
	weight, err := statistic.WeightingFromConfig(c.Statistic.Weight)
	if err != nil {
		return err
	}
	if err := stat.CheckWeight(weight); err != nil {
		return err
	}
	tests := make(map[string]bool)
	for _, name := range statistic.GoodnessTests() {
		tests[name] = true
	}
	for _, name := range c.Statistic.Goodness {
		if !tests[name] {
			return fmt.Errorf("%w: %s", statistic.ErrUnknownTest, name)
		}
	}
	if err := c.ErrorOptions().Validate(); err != nil {
		return err
	}
	switch c.Store.Kind {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store path is required for sqlite")
		}
	default:
		return fmt.Errorf("%w: %s", storage.ErrUnsupportedStore, c.Store.Kind)
	}
	return nil
}

func (c Config) FitOptions() fit.Options {
	return fit.Options{
		MaxIterations: c.Fit.Iterations,
		CriticalDelta: c.Fit.CriticalDelta,
		ConvergeCount: c.Fit.ConvergeCount,
		InitialLambda: c.Fit.InitialLambda,
		LambdaMax:     c.Fit.LambdaMax,
	}
}

func (c Config) ErrorOptions() fit.ErrorOptions {
	return fit.ErrorOptions{
		DeltaStat:     c.Errors.DeltaStat,
		Workers:       c.Errors.Workers,
		MaxIterations: c.Errors.MaxIterations,
		Tolerance:     c.Errors.Tolerance,
	}
}
