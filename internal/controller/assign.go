package controller

import (
	"github.com/kernbread/finalProjectDistributedForNoel/internal/protocol"
)

// AssignTick runs one pass of the assignment and recovery daemon and returns
// the number of POLLARD_REQ messages sent.
//
// Order matters: rows held by dead workers are reclaimed before the dead set
// is pruned, and finished rows are swept before idle workers are computed so
// a worker whose row was cancelled becomes available in the same pass.
func (c *Controller) AssignTick() int {
	live, dead := c.transport.WorkerSets()

	if reclaimed := c.table.ReclaimDead(dead); len(reclaimed) > 0 {
		c.metrics.RecordReclaims(len(reclaimed))
		for _, job := range reclaimed {
			c.log.Info("Reclaimed job from dead worker",
				"row", job.ID, "client", job.ClientID, "target", job.Target)
		}
	}
	c.transport.ForgetDead(dead)

	if completed, cancelled := c.table.SweepFinished(); len(completed)+len(cancelled) > 0 {
		c.log.Debug("Removed finished rows", "completed", len(completed), "cancelled", len(cancelled))
		c.pruneArrivals()
	}

	assigned := c.table.AssignIdle(live)

	sent := 0
	for _, job := range assigned {
		req := protocol.PollardRequest{
			WorkerID: job.AssignedWorker,
			ClientID: job.ClientID,
			Target:   job.Target,
		}
		// a failed send leaves the row assigned; the worker's read loop
		// reports the death and the row is reclaimed on a later tick
		if err := c.transport.SendWorker(job.AssignedWorker, req.Encode()); err != nil {
			c.log.Warn("Failed to dispatch job",
				"row", job.ID, "worker", job.AssignedWorker, "error", err)
			continue
		}
		sent++
		c.metrics.RecordDispatch()
		c.log.Info("Dispatched job",
			"row", job.ID, "worker", job.AssignedWorker,
			"client", job.ClientID, "target", job.Target)
	}

	c.updateGauges(len(live))
	return sent
}
