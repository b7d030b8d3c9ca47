// ============================================================================
// Coordinator Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Count protocol traffic and expose scheduling state for scraping
//
// Metric families:
//
//   1. Counters (monotonic):
//      - factorcoord_requests_total: FACTOR_REQ accepted from the upstream
//      - factorcoord_dispatches_total: POLLARD_REQ sent to workers
//      - factorcoord_completions_total: first POLLARD_RESP per request
//      - factorcoord_cancellations_total: CANCEL_REQ sent to losing siblings
//      - factorcoord_reclaims_total: rows reset after a worker died
//      - factorcoord_forwards_total: FACTOR_RESP delivered upstream
//      - factorcoord_forward_retries_total: deliveries put back for later
//      - factorcoord_malformed_messages_total{type}: dropped inbound lines
//      - factorcoord_connections_total{result}: admitted / rejected peers
//
//   2. Gauges (instantaneous):
//      - factorcoord_job_rows: rows currently in the job table
//      - factorcoord_results_queued: results waiting for the upstream
//      - factorcoord_workers_live: worker connections believed alive
//      - factorcoord_upstream_reachable: 1 while the upstream is connected
//
//   3. Histograms:
//      - factorcoord_request_duration_seconds: FACTOR_REQ to first result
//
// Example queries:
//
//   # completions per minute
//   rate(factorcoord_completions_total[1m])
//
//   # results stuck behind a missing upstream
//   factorcoord_results_queued and factorcoord_upstream_reachable == 0
//
// A nil *Collector is valid and records nothing, so components can be built
// without instrumentation in tests.
//
// ============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "factorcoord"

// Collector holds every coordinator metric.
type Collector struct {
	requests       prometheus.Counter
	dispatches     prometheus.Counter
	completions    prometheus.Counter
	cancellations  prometheus.Counter
	reclaims       prometheus.Counter
	forwards       prometheus.Counter
	forwardRetries prometheus.Counter
	malformed      *prometheus.CounterVec
	connections    *prometheus.CounterVec

	jobRows       prometheus.Gauge
	resultsQueued prometheus.Gauge
	workersLive   prometheus.Gauge
	upstreamUp    prometheus.Gauge

	requestDuration prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// falls back to prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of factorization requests accepted from the upstream",
		}),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of job rows dispatched to workers",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Total number of requests completed by a worker",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Total number of cancel requests sent to redundant workers",
		}),
		reclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaims_total",
			Help:      "Total number of job rows reset after their worker disconnected",
		}),
		forwards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Total number of results delivered to the upstream",
		}),
		forwardRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_retries_total",
			Help:      "Total number of result deliveries deferred after a send failure",
		}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Total number of inbound messages dropped as malformed",
		}, []string{"type"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of inbound connections by admission result",
		}, []string{"result"}),
		jobRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_rows",
			Help:      "Current number of rows in the job table",
		}),
		resultsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "results_queued",
			Help:      "Current number of results waiting for upstream delivery",
		}),
		workersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_live",
			Help:      "Current number of live worker connections",
		}),
		upstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_reachable",
			Help:      "1 when the upstream connection is up, 0 otherwise",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request arrival to first worker result",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	reg.MustRegister(
		c.requests,
		c.dispatches,
		c.completions,
		c.cancellations,
		c.reclaims,
		c.forwards,
		c.forwardRetries,
		c.malformed,
		c.connections,
		c.jobRows,
		c.resultsQueued,
		c.workersLive,
		c.upstreamUp,
		c.requestDuration,
	)
	return c
}

// RecordRequest counts an accepted FACTOR_REQ.
func (c *Collector) RecordRequest() {
	if c == nil {
		return
	}
	c.requests.Inc()
}

// RecordDispatch counts a POLLARD_REQ sent to a worker.
func (c *Collector) RecordDispatch() {
	if c == nil {
		return
	}
	c.dispatches.Inc()
}

// RecordCompletion counts a winning POLLARD_RESP and observes how long the
// request took.
func (c *Collector) RecordCompletion(latencySeconds float64) {
	if c == nil {
		return
	}
	c.completions.Inc()
	if latencySeconds >= 0 {
		c.requestDuration.Observe(latencySeconds)
	}
}

// RecordCancellations counts n CANCEL_REQ messages.
func (c *Collector) RecordCancellations(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.cancellations.Add(float64(n))
}

// RecordReclaims counts n rows returned to the unassigned pool.
func (c *Collector) RecordReclaims(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.reclaims.Add(float64(n))
}

// RecordForward counts a FACTOR_RESP delivered upstream.
func (c *Collector) RecordForward() {
	if c == nil {
		return
	}
	c.forwards.Inc()
}

// RecordForwardRetry counts a delivery that failed and was requeued.
func (c *Collector) RecordForwardRetry() {
	if c == nil {
		return
	}
	c.forwardRetries.Inc()
}

// RecordMalformed counts a dropped inbound message by its type tag.
func (c *Collector) RecordMalformed(msgType string) {
	if c == nil {
		return
	}
	if msgType == "" {
		msgType = "unknown"
	}
	c.malformed.WithLabelValues(msgType).Inc()
}

// RecordConnection counts an admission decision.
func (c *Collector) RecordConnection(admitted bool) {
	if c == nil {
		return
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	c.connections.WithLabelValues(result).Inc()
}

// UpdateTableStats sets the job table and result queue gauges.
func (c *Collector) UpdateTableStats(rows, queued int) {
	if c == nil {
		return
	}
	c.jobRows.Set(float64(rows))
	c.resultsQueued.Set(float64(queued))
}

// UpdatePeers sets the live worker and upstream gauges.
func (c *Collector) UpdatePeers(liveWorkers int, upstreamReachable bool) {
	if c == nil {
		return
	}
	c.workersLive.Set(float64(liveWorkers))
	if upstreamReachable {
		c.upstreamUp.Set(1)
	} else {
		c.upstreamUp.Set(0)
	}
}
