package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xspecfit/internal/fit"
)

// Observer exports fit progress as Prometheus metrics. Metrics are labelled
// by method.
type Observer struct {
	Iterations *prometheus.CounterVec
	Statistic  *prometheus.GaugeVec
	Lambda     *prometheus.GaugeVec
	Fits       *prometheus.CounterVec
}

// NewObserver registers the fit metrics with reg. A nil reg uses the
// default registerer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Observer{
		Iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xspecfit_fit_iterations_total",
			Help: "Accepted fit iterations",
		}, []string{"method"}),
		Statistic: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspecfit_fit_statistic",
			Help: "Fit statistic after the latest iteration",
		}, []string{"method"}),
		Lambda: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspecfit_fit_lambda",
			Help: "Levenberg-Marquardt damping after the latest iteration",
		}, []string{"method"}),
		Fits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xspecfit_fits_total",
			Help: "Finished fits by status",
		}, []string{"method", "status"}),
	}
}

func (o *Observer) Iteration(r fit.Report) {
	o.Iterations.WithLabelValues(r.Method).Inc()
	o.Statistic.WithLabelValues(r.Method).Set(r.Statistic)
	o.Lambda.WithLabelValues(r.Method).Set(r.Lambda)
}

func (o *Observer) Done(r *fit.Result) {
	o.Statistic.WithLabelValues(r.Method).Set(r.Statistic)
	o.Fits.WithLabelValues(r.Method, r.Status.String()).Inc()
}
