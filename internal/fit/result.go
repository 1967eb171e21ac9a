package fit

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoFreeParameters = errors.New("no free parameters")
	ErrSingularMatrix   = errors.New("singular curvature matrix")
	ErrNotImplemented   = errors.New("fit method not implemented")
	ErrUnknownMethod    = errors.New("unknown fit method")
)

// DataError is a recoverable fault raised while evaluating the model
// against the data. A fit that hits one stops and restores its starting
// parameters.
type DataError struct {
	Dataset string
	Err     error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("dataset %s: %v", e.Dataset, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// DerivativeFault records a parameter whose numerical derivative could not
// be computed in one iteration.
type DerivativeFault struct {
	Iteration int    `json:"iteration"`
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Err       error  `json:"-"`
	Message   string `json:"message"`
}

func (f DerivativeFault) Error() string {
	return fmt.Sprintf("iteration %d: parameter %s: %v", f.Iteration, f.Label, f.Err)
}

type Status int

const (
	StatusConverged Status = iota
	StatusMaxIterations
	StatusPegged
	StatusError
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusPegged:
		return "pegged"
	case StatusError:
		return "error"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

func ParseStatus(s string) (Status, error) {
	for _, status := range []Status{StatusConverged, StatusMaxIterations, StatusPegged, StatusError, StatusInterrupted} {
		if status.String() == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown fit status %q", s)
}

type ParamResult struct {
	Index   int     `json:"index"`
	Label   string  `json:"label"`
	Unit    string  `json:"unit,omitempty"`
	Value   float64 `json:"value"`
	Sigma   float64 `json:"sigma"`
	ErrLow  float64 `json:"err_low"`
	ErrHigh float64 `json:"err_high"`
	Frozen  bool    `json:"frozen"`
	Link    string  `json:"link,omitempty"`
	Pegged  bool    `json:"pegged"`
}

// Result is the outcome of one fit attempt. A fatal numerical fault or a
// data error gives StatusError with Err set; it is not returned as an error.
type Result struct {
	Method           string
	Status           Status
	Iterations       int
	Statistic        float64
	DOF              int
	Lambda           float64
	Params           []ParamResult
	Pegged           []string
	DerivativeFaults []DerivativeFault
	Covariance       *mat.SymDense
	History          []float64
	Err              error
}

// Converged reports whether the fit reached a minimum it can report errors
// for.
func (r *Result) Converged() bool {
	return r != nil && r.Status == StatusConverged
}
