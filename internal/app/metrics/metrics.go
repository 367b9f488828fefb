// Package metrics wires the coordination kernel's Prometheus
// instrumentation: module installs, self-tests, task dispatch outcomes and
// execution duration.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	core "github.com/atomrun/kernel/internal/app/core/service"
)

// Metrics bundles every counter/histogram the kernel emits, registered on a
// private registry so the composition root controls exactly what the
// diagnostics endpoint exposes.
type Metrics struct {
	Registry *prometheus.Registry

	ModuleInstallsTotal  *prometheus.CounterVec
	ModuleSelfTestsTotal *prometheus.CounterVec
	TaskDispatchTotal    *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
}

// New constructs and registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ModuleInstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Subsystem: "registry",
			Name:      "module_installs_total",
			Help:      "Module install attempts, labeled by outcome.",
		}, []string{"outcome"}),
		ModuleSelfTestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Subsystem: "registry",
			Name:      "module_self_tests_total",
			Help:      "Module self-test runs, labeled by outcome.",
		}, []string{"outcome"}),
		TaskDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Subsystem: "execution",
			Name:      "task_dispatch_total",
			Help:      "Task dispatch outcomes.",
		}, []string{"outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskrun",
			Subsystem: "execution",
			Name:      "task_duration_seconds",
			Help:      "Time spent executing a task end to end, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.ModuleInstallsTotal, m.ModuleSelfTestsTotal, m.TaskDispatchTotal, m.ExecutionDuration)
	return m
}

// RegistryHooks returns core.ObservationHooks that record each
// discover_and_register pass as a module install/self-test outcome.
func (m *Metrics) RegistryHooks() core.ObservationHooks {
	return core.ObservationHooks{
		OnComplete: func(_ context.Context, _ map[string]string, err error, _ time.Duration) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.ModuleInstallsTotal.WithLabelValues(outcome).Inc()
			m.ModuleSelfTestsTotal.WithLabelValues(outcome).Inc()
		},
	}
}

// ExecutionHooks returns core.ObservationHooks that record each run_once
// dispatch's outcome and duration.
func (m *Metrics) ExecutionHooks() core.ObservationHooks {
	return core.ObservationHooks{
		OnComplete: func(_ context.Context, _ map[string]string, err error, d time.Duration) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.TaskDispatchTotal.WithLabelValues(outcome).Inc()
			m.ExecutionDuration.WithLabelValues(outcome).Observe(d.Seconds())
		},
	}
}
