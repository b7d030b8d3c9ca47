package controller

import (
	"errors"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/jobtable"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/protocol"
	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

// Handle routes one inbound line from the connection identified by from.
// Malformed or unexpected messages are logged and dropped; the connection
// stays open either way.
func (c *Controller) Handle(line string, from types.Peer) {
	msg, err := protocol.Parse(line)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyMessage) {
			return
		}
		c.dropMalformed(msg, from, err)
		return
	}

	switch msg.Type {
	case protocol.TypeFactorReq:
		c.handleFactorRequest(msg, from)
	case protocol.TypePollardResp:
		c.handlePollardResponse(msg, from)
	case protocol.TypeCancelResp:
		c.handleCancelResponse(msg, from)
	default:
		c.log.Warn("Dropping message not addressed to the coordinator",
			"type", msg.Type, "conn", from.ID, "role", from.Role)
	}
}

func (c *Controller) dropMalformed(msg protocol.Message, from types.Peer, err error) {
	label := string(msg.Type)
	if errors.Is(err, protocol.ErrUnknownType) {
		label = ""
	}
	c.metrics.RecordMalformed(label)
	c.log.Warn("Dropping malformed message", "conn", from.ID, "role", from.Role, "error", err)
}

func (c *Controller) handleFactorRequest(msg protocol.Message, from types.Peer) {
	if from.Role != types.RoleUpstream {
		c.log.Warn("Ignoring FACTOR_REQ from non-upstream connection", "conn", from.ID, "role", from.Role)
		return
	}
	req, err := protocol.DecodeFactorRequest(msg)
	if err != nil {
		c.dropMalformed(msg, from, err)
		return
	}

	rows, err := c.table.InsertRedundant(req.ClientID, req.Target, c.config.Redundancy)
	if err != nil {
		c.log.Error("Failed to insert job rows", "client", req.ClientID, "error", err)
		return
	}
	c.recordArrival(req.ClientID, req.Target)
	c.metrics.RecordRequest()
	c.log.Info("Accepted factor request",
		"client", req.ClientID,
		"target", req.Target,
		"rows", len(rows))
}

func (c *Controller) handlePollardResponse(msg protocol.Message, from types.Peer) {
	if from.Role != types.RoleWorker {
		c.log.Warn("Ignoring POLLARD_RESP from non-worker connection", "conn", from.ID, "role", from.Role)
		return
	}
	resp, err := protocol.DecodePollardResponse(msg)
	if err != nil {
		c.dropMalformed(msg, from, err)
		return
	}
	if resp.WorkerID != from.ID {
		c.log.Warn("Ignoring POLLARD_RESP with foreign worker id",
			"conn", from.ID, "worker", resp.WorkerID)
		return
	}

	alreadyCancelled, cancelled, err := c.table.MarkDoneAndCancelSiblings(resp.WorkerID, resp.ClientID, resp.Target)
	switch {
	case errors.Is(err, jobtable.ErrJobNotFound):
		c.log.Warn("Ignoring POLLARD_RESP for a job the worker does not hold",
			"worker", resp.WorkerID, "client", resp.ClientID, "target", resp.Target)
		return
	case errors.Is(err, jobtable.ErrAlreadyDone):
		c.log.Warn("Ignoring duplicate POLLARD_RESP", "worker", resp.WorkerID, "client", resp.ClientID)
		return
	case err != nil:
		c.log.Error("Failed to record POLLARD_RESP", "worker", resp.WorkerID, "error", err)
		return
	case alreadyCancelled:
		c.log.Info("Discarding result from cancelled sibling",
			"worker", resp.WorkerID, "client", resp.ClientID, "target", resp.Target)
		return
	}

	c.results.Push(types.CompletedResult{
		ClientID:   resp.ClientID,
		Target:     resp.Target,
		FactorsCSV: resp.FactorsCSV,
	})
	c.metrics.RecordCompletion(c.takeArrival(resp.ClientID, resp.Target))
	c.log.Info("Job completed",
		"worker", resp.WorkerID,
		"client", resp.ClientID,
		"target", resp.Target,
		"factors", resp.FactorsCSV,
		"cancelling", len(cancelled))

	// table lock is released; notify the losing siblings
	for _, worker := range cancelled {
		if err := c.transport.SendWorker(worker, protocol.CancelRequest{WorkerID: worker}.Encode()); err != nil {
			c.log.Warn("Failed to send CANCEL_REQ", "worker", worker, "error", err)
			continue
		}
		c.metrics.RecordCancellations(1)
	}
}

func (c *Controller) handleCancelResponse(msg protocol.Message, from types.Peer) {
	if from.Role != types.RoleWorker {
		c.log.Warn("Ignoring CANCEL_RESP from non-worker connection", "conn", from.ID, "role", from.Role)
		return
	}
	resp, err := protocol.DecodeCancelResponse(msg)
	if err != nil {
		c.dropMalformed(msg, from, err)
		return
	}
	if resp.WorkerID != from.ID {
		c.log.Warn("Ignoring CANCEL_RESP with foreign worker id",
			"conn", from.ID, "worker", resp.WorkerID)
		return
	}

	switch err := c.table.MarkDone(resp.WorkerID); {
	case err == nil:
		c.log.Debug("Cancellation acknowledged", "worker", resp.WorkerID)
	case errors.Is(err, jobtable.ErrJobNotFound), errors.Is(err, jobtable.ErrNotCancelled):
		c.log.Debug("Ignoring stale CANCEL_RESP", "worker", resp.WorkerID, "reason", err)
	default:
		c.log.Error("Failed to record CANCEL_RESP", "worker", resp.WorkerID, "error", err)
	}
}
