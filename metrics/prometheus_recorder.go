// Package metrics exports build statistics as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/ZacxDev/texgate/executor"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultError   = "error"
)

// PrometheusRecorder observes a build and records it as Prometheus metrics.
type PrometheusRecorder struct {
	executor.NopObserver

	reg            *prom.Registry
	outcomes       *prom.CounterVec
	targetResults  *prom.CounterVec
	targetDuration *prom.HistogramVec
	rollbacks      prom.Counter
	build          prom.Histogram
	runStart       time.Time
}

// NewPrometheusRecorder registers the build metrics on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{reg: reg, runStart: time.Now()}
	pr.outcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "texgate",
		Name:      "exercise_outcomes_total",
		Help:      "Exercise outcomes by final status",
	}, []string{"outcome"})
	pr.targetResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "texgate",
		Name:      "target_results_total",
		Help:      "Compilation results by target",
	}, []string{"target", "result"})
	pr.targetDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "texgate",
		Name:      "target_duration_seconds",
		Help:      "Duration of individual compilations",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"target"})
	pr.rollbacks = prom.NewCounter(prom.CounterOpts{
		Namespace: "texgate",
		Name:      "rollbacks_total",
		Help:      "Targets rolled back after an aborted build",
	})
	pr.build = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "texgate",
		Name:      "run_duration_seconds",
		Help:      "Total run duration",
		Buckets:   prom.DefBuckets,
	})
	reg.MustRegister(pr.outcomes, pr.targetResults, pr.targetDuration, pr.rollbacks, pr.build)
	return pr
}

func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

func (p *PrometheusRecorder) ExerciseFinished(_ string, status executor.ExerciseStatus, _ executor.Outcome) {
	p.outcomes.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusRecorder) TargetFinished(_, target string, code int, elapsed time.Duration, err error) {
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case code != 0:
		result = ResultFailed
	}
	p.targetResults.WithLabelValues(target, result).Inc()
	if err == nil {
		p.targetDuration.WithLabelValues(target).Observe(elapsed.Seconds())
	}
}

func (p *PrometheusRecorder) RolledBack(string, string) {
	p.rollbacks.Inc()
}

// RunFinished observes the time since the recorder was created or the
// previous run finished.
func (p *PrometheusRecorder) RunFinished(executor.RunResult) {
	p.build.Observe(time.Since(p.runStart).Seconds())
	p.runStart = time.Now()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
