// Package metrics exposes prometheus instrumentation for the dispatch
// pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch counts per-request outcomes of the dispatcher.
type Dispatch struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	bodyChunks    prometheus.Counter
	recoveries    prometheus.Counter
}

// NewDispatch registers the dispatch metrics on reg. Pass
// prometheus.DefaultRegisterer in production; a private registry in tests.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	factory := promauto.With(reg)
	return &Dispatch{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keel",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests by method, status and outcome.",
		}, []string{"method", "status", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keel",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from dispatch start to response write.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keel",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Requests currently being dispatched.",
		}),
		bodyChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keel",
			Subsystem: "dispatch",
			Name:      "body_chunks_total",
			Help:      "Body chunks pulled through content processors.",
		}),
		recoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keel",
			Subsystem: "dispatch",
			Name:      "recoveries_total",
			Help:      "Connection-level failures routed through the recovery chain.",
		}),
	}
}

// Started marks a dispatch in flight.
func (d *Dispatch) Started() {
	if d == nil {
		return
	}
	d.inFlight.Inc()
}

// Finished records the terminal outcome of a dispatch.
func (d *Dispatch) Finished(method string, status int, outcome string, started time.Time) {
	if d == nil {
		return
	}
	d.inFlight.Dec()
	d.requestsTotal.WithLabelValues(method, strconv.Itoa(status), outcome).Inc()
	d.duration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// ChunkProcessed counts one body chunk through the observer.
func (d *Dispatch) ChunkProcessed() {
	if d == nil {
		return
	}
	d.bodyChunks.Inc()
}

// Recovered counts one pass through the recovery chain.
func (d *Dispatch) Recovered() {
	if d == nil {
		return
	}
	d.recoveries.Inc()
}
