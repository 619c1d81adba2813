// Package metrics defines the Prometheus collectors exported by a run.
// All methods are safe to call on a nil *Collectors, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deploygrid"

// Collectors groups the scheduler's instruments.
type Collectors struct {
	running      prometheus.Gauge
	targets      *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	hookFailures *prometheus.CounterVec
	runs         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets_running",
			Help:      "Number of targets currently executing.",
		}),
		targets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_total",
			Help:      "Targets that reached a final state, by state.",
		}, []string{"state", "replayed"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual run steps including retries.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"step", "outcome"}),
		hookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Lifecycle hook failures, by phase.",
		}, []string{"phase"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed scheduler runs, by outcome.",
		}, []string{"outcome"}),
	}
}

// TargetStarted marks a target as running.
func (c *Collectors) TargetStarted() {
	if c == nil {
		return
	}
	c.running.Inc()
}

// TargetStopped undoes TargetStarted once the worker reported back.
func (c *Collectors) TargetStopped() {
	if c == nil {
		return
	}
	c.running.Dec()
}

// TargetFinished counts a target reaching a final state.
func (c *Collectors) TargetFinished(state string, replayed bool) {
	if c == nil {
		return
	}
	r := "false"
	if replayed {
		r = "true"
	}
	c.targets.WithLabelValues(state, r).Inc()
}

// ObserveStep records one step execution.
func (c *Collectors) ObserveStep(step string, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.stepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// HookFailed counts a failed lifecycle hook.
func (c *Collectors) HookFailed(phase string) {
	if c == nil {
		return
	}
	c.hookFailures.WithLabelValues(phase).Inc()
}

// RunFinished counts a finished run.
func (c *Collectors) RunFinished(ok bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.runs.WithLabelValues(outcome).Inc()
}
