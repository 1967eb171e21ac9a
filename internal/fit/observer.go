package fit

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type ParamValue struct {
	Index int
	Label string
	Value float64
}

// Report describes one accepted iteration.
type Report struct {
	Method    string
	Iteration int
	Statistic float64
	Lambda    float64
	Params    []ParamValue
}

// Observer receives progress from a running fit. Observers are called on
// the fitting goroutine and must not modify the fit.
type Observer interface {
	Iteration(Report)
	Done(*Result)
}

// Observers fans out to every observer in order.
type Observers []Observer

func (o Observers) Iteration(r Report) {
	for _, obs := range o {
		obs.Iteration(r)
	}
}

func (o Observers) Done(r *Result) {
	for _, obs := range o {
		obs.Done(r)
	}
}

type logObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &logObserver{logger: logger}
}

func (l *logObserver) Iteration(r Report) {
	attrs := make([]any, 0, len(r.Params))
	for _, p := range r.Params {
		attrs = append(attrs, slog.Float64(p.Label, p.Value))
	}
	l.logger.Debug("fit iteration",
		"method", r.Method,
		"iteration", r.Iteration,
		"statistic", r.Statistic,
		"lambda", r.Lambda,
		slog.Group("params", attrs...),
	)
}

func (l *logObserver) Done(r *Result) {
	attrs := []any{
		"method", r.Method,
		"status", r.Status.String(),
		"iterations", r.Iterations,
		"statistic", r.Statistic,
		"dof", r.DOF,
	}
	if len(r.Pegged) > 0 {
		attrs = append(attrs, "pegged", r.Pegged)
	}
	if len(r.DerivativeFaults) > 0 {
		attrs = append(attrs, "derivative_faults", len(r.DerivativeFaults))
	}
	if r.Err != nil {
		l.logger.Error("fit failed", append(attrs, "error", r.Err)...)
		return
	}
	l.logger.Info("fit finished", attrs...)
}

type tableObserver struct {
	w      io.Writer
	header bool
}

// NewTableObserver writes the classic per-iteration progress table.
func NewTableObserver(w io.Writer) Observer {
	return &tableObserver{w: w}
}

func (t *tableObserver) Iteration(r Report) {
	if !t.header {
		cols := []string{fmt.Sprintf("%-6s", "Iter"), fmt.Sprintf("%14s", "Statistic"), fmt.Sprintf("%10s", "Lambda")}
		for _, p := range r.Params {
			cols = append(cols, fmt.Sprintf("%14s", p.Label))
		}
		fmt.Fprintln(t.w, strings.Join(cols, " "))
		t.header = true
	}
	cols := []string{fmt.Sprintf("%-6d", r.Iteration), fmt.Sprintf("%14.6g", r.Statistic), fmt.Sprintf("%10.3g", r.Lambda)}
	for _, p := range r.Params {
		cols = append(cols, fmt.Sprintf("%14.6g", p.Value))
	}
	fmt.Fprintln(t.w, strings.Join(cols, " "))
}

func (t *tableObserver) Done(r *Result) {
	fmt.Fprintf(t.w, "%s after %d iterations: statistic %.6g for %d degrees of freedom\n", r.Status, r.Iterations, r.Statistic, r.DOF)
	if len(r.Pegged) > 0 {
		fmt.Fprintf(t.w, "pegged: %s\n", strings.Join(r.Pegged, ", "))
	}
	for _, fault := range r.DerivativeFaults {
		fmt.Fprintf(t.w, "derivative fault: %s\n", fault.Error())
	}
	if r.Err != nil {
		fmt.Fprintf(t.w, "error: %v\n", r.Err)
	}
	t.header = false
}
