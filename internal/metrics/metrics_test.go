package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector.requests, "requests counter should be initialized")
	assert.NotNil(t, collector.malformed, "malformed counter should be initialized")
	assert.NotNil(t, collector.requestDuration, "duration histogram should be initialized")

	collector.RecordMalformed("POLLARD_RESP")
	collector.RecordConnection(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewCollectorDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	assert.Panics(t, func() {
		NewCollector(reg)
	}, "registering twice on one registry should panic")
}

func TestCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRequest()
	c.RecordRequest()
	for i := 0; i < 4; i++ {
		c.RecordDispatch()
	}
	c.RecordCompletion(0.25)
	c.RecordCancellations(3)
	c.RecordCancellations(0)
	c.RecordReclaims(2)
	c.RecordForward()
	c.RecordForwardRetry()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.dispatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.cancellations))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reclaims))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forwards))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forwardRetries))
}

func TestLabelledCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordMalformed("POLLARD_RESP")
	c.RecordMalformed("POLLARD_RESP")
	c.RecordMalformed("")
	c.RecordConnection(true)
	c.RecordConnection(false)
	c.RecordConnection(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.malformed.WithLabelValues("POLLARD_RESP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformed.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connections.WithLabelValues("admitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connections.WithLabelValues("rejected")))
}

func TestGauges(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		queued    int
		live      int
		reachable bool
		wantUp    float64
	}{
		{name: "idle", wantUp: 0},
		{name: "busy with upstream", rows: 6, queued: 0, live: 3, reachable: true, wantUp: 1},
		{name: "backlog without upstream", rows: 2, queued: 5, live: 1, reachable: false, wantUp: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCollector(t)
			c.UpdateTableStats(tt.rows, tt.queued)
			c.UpdatePeers(tt.live, tt.reachable)

			assert.Equal(t, float64(tt.rows), testutil.ToFloat64(c.jobRows))
			assert.Equal(t, float64(tt.queued), testutil.ToFloat64(c.resultsQueued))
			assert.Equal(t, float64(tt.live), testutil.ToFloat64(c.workersLive))
			assert.Equal(t, tt.wantUp, testutil.ToFloat64(c.upstreamUp))
		})
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordRequest()
		c.RecordDispatch()
		c.RecordCompletion(1)
		c.RecordCancellations(1)
		c.RecordReclaims(1)
		c.RecordForward()
		c.RecordForwardRetry()
		c.RecordMalformed("X")
		c.RecordConnection(true)
		c.UpdateTableStats(1, 1)
		c.UpdatePeers(1, true)
	})
}
