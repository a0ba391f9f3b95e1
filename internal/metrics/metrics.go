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

	unitStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "starts_total",
			Help:      "Number of successful unit starts.",
		}, []string{"unit"},
	)
	unitStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "start_failures_total",
			Help:      "Number of launches that failed or died within the confirmation window.",
		}, []string{"unit"},
	)
	unitStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"unit"},
	)
	unitRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "restarts_total",
			Help:      "Number of monitor-initiated restarts.",
		}, []string{"unit"},
	)
	readyWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "ready_wait_seconds",
			Help:      "Time spent in the WAIT_FOR readiness gate before launch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"unit"},
	)
	unitsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "unitherd",
			Subsystem: "unit",
			Name:      "running",
			Help:      "Number of units currently alive.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{unitStarts, unitStartFailures, unitStops, unitRestarts, readyWait, unitsRunning}
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

func IncStart(unit string) {
	if regOK.Load() {
		unitStarts.WithLabelValues(unit).Inc()
	}
}

func IncStartFailure(unit string) {
	if regOK.Load() {
		unitStartFailures.WithLabelValues(unit).Inc()
	}
}

func IncStop(unit string) {
	if regOK.Load() {
		unitStops.WithLabelValues(unit).Inc()
	}
}

func IncRestart(unit string) {
	if regOK.Load() {
		unitRestarts.WithLabelValues(unit).Inc()
	}
}

func ObserveReadyWait(unit string, seconds float64) {
	if regOK.Load() {
		readyWait.WithLabelValues(unit).Observe(seconds)
	}
}

func SetUnitsRunning(n int) {
	if regOK.Load() {
		unitsRunning.Set(float64(n))
	}
}
