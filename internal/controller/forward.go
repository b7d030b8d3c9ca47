package controller

import (
	"github.com/kernbread/finalProjectDistributedForNoel/internal/protocol"
)

// ForwardTick drains the result queue to the upstream and returns the number
// of results delivered. It stops at the first failure; the failed result is
// put back at the head of the queue and retried on the next tick.
func (c *Controller) ForwardTick() int {
	delivered := 0
	for c.transport.UpstreamReachable() {
		result, ok := c.results.Pop()
		if !ok {
			break
		}

		line := protocol.FactorResponseFrom(result).Encode()
		if err := c.transport.SendUpstream(line); err != nil {
			c.results.PushFront(result)
			c.metrics.RecordForwardRetry()
			c.log.Warn("Failed to forward result, will retry",
				"client", result.ClientID, "target", result.Target, "error", err)
			break
		}

		delivered++
		c.metrics.RecordForward()
		c.log.Info("Forwarded result",
			"client", result.ClientID, "target", result.Target, "factors", result.FactorsCSV)
	}

	c.metrics.UpdateTableStats(c.table.Len(), c.results.Len())
	return delivered
}
