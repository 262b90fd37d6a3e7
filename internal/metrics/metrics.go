package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of worker start invocations.",
		}, []string{"supervisor", "worker"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of restarts applied by a restart strategy.",
		}, []string{"supervisor", "worker"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker stop requests issued by the supervisor.",
		}, []string{"supervisor", "worker"},
	)
	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of observed worker terminations by exit reason.",
		}, []string{"supervisor", "worker", "reason"},
	)
	supervisorRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisr",
			Subsystem: "supervisor",
			Name:      "running",
			Help:      "Whether a supervisor is currently running (1) or stopped (0).",
		}, []string{"supervisor"},
	)
	budgetExhaustions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "supervisor",
			Name:      "budget_exhausted_total",
			Help:      "Number of restart-storm shutdowns triggered by the ledger.",
		}, []string{"supervisor"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, workerRestarts, workerStops, workerExits, supervisorRunning, budgetExhaustions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(sup, worker string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(sup, worker).Inc()
	}
}

func IncRestart(sup, worker string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(sup, worker).Inc()
	}
}

func IncStop(sup, worker string) {
	if regOK.Load() {
		workerStops.WithLabelValues(sup, worker).Inc()
	}
}

func IncExit(sup, worker, reason string) {
	if regOK.Load() {
		workerExits.WithLabelValues(sup, worker, reason).Inc()
	}
}

func SetRunning(sup string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1.0
		}
		supervisorRunning.WithLabelValues(sup).Set(v)
	}
}

func IncBudgetExhausted(sup string) {
	if regOK.Load() {
		budgetExhaustions.WithLabelValues(sup).Inc()
	}
}
