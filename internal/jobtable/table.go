// ============================================================================
// Job Table - shared scheduling state
// ============================================================================
//
// Package: internal/jobtable
// File: table.go
// Purpose: Single source of truth for every outstanding job row
//
// Row lifecycle:
//   unassigned --Assign--> assigned --MarkDoneAndCancelSiblings--> done
//        ^                    |
//        +----ReclaimDead-----+   (worker connection failed)
//
//   cancelled may be set on any outstanding sibling once another sibling
//   completes. Finished rows (done or cancelled) are removed by
//   SweepFinished, always by RowID.
//
// Concurrency:
//   Every method takes the table lock for its whole body. No method returns
//   pointers into the table; callers only ever see copies, so no iteration
//   happens outside the lock. Methods never perform I/O.
//
// ============================================================================

package jobtable

import (
	"errors"
	"sort"
	"sync"

	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

var (
	// ErrJobNotFound no row matches the given id or worker.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotAssignable the row is assigned, done or cancelled.
	ErrNotAssignable = errors.New("job is not assignable")
	// ErrWorkerBusy the worker already holds a row.
	ErrWorkerBusy = errors.New("worker already holds a job")
	// ErrAlreadyDone the worker already reported a result for its row.
	ErrAlreadyDone = errors.New("job already done")
	// ErrNotCancelled a cancellation ack arrived for a row that was never cancelled.
	ErrNotCancelled = errors.New("job was not cancelled")
	// ErrInvalidCount redundancy must be at least one.
	ErrInvalidCount = errors.New("redundant copy count must be positive")
)

// Table holds job rows in insertion order.
type Table struct {
	mu     sync.Mutex
	rows   []*types.Job
	nextID types.RowID
}

// New creates an empty job table.
func New() *Table {
	return &Table{
		rows:   make([]*types.Job, 0),
		nextID: 1,
	}
}

// InsertRedundant adds count unassigned sibling rows for one client request
// and returns copies of them.
func (t *Table) InsertRedundant(clientID, target string, count int) ([]types.Job, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	inserted := make([]types.Job, 0, count)
	for i := 0; i < count; i++ {
		job := &types.Job{
			ID:             t.nextID,
			AssignedWorker: types.Unassigned,
			ClientID:       clientID,
			Target:         target,
		}
		t.nextID++
		t.rows = append(t.rows, job)
		inserted = append(inserted, *job)
	}
	return inserted, nil
}

// ListAssignable returns the rows eligible for scheduling, oldest first.
func (t *Table) ListAssignable() []types.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.Job
	for _, job := range t.rows {
		if job.Assignable() {
			out = append(out, *job)
		}
	}
	return out
}

// Assign hands row id to worker. A worker holds at most one row.
func (t *Table) Assign(id types.RowID, worker types.ConnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.findRow(id)
	if job == nil {
		return ErrJobNotFound
	}
	if !job.Assignable() {
		return ErrNotAssignable
	}
	if t.findByWorker(worker) != nil {
		return ErrWorkerBusy
	}
	job.AssignedWorker = worker
	return nil
}

// AssignIdle assigns every assignable row, oldest first, to the lowest-id
// worker in live that holds no row. It returns copies of the rows it
// assigned so the caller can dispatch them after the lock is released.
func (t *Table) AssignIdle(live []types.ConnID) []types.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	busy := make(map[types.ConnID]bool, len(t.rows))
	for _, job := range t.rows {
		if job.IsAssigned() {
			busy[job.AssignedWorker] = true
		}
	}

	idle := make([]types.ConnID, 0, len(live))
	for _, id := range live {
		if !busy[id] {
			idle = append(idle, id)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i] < idle[j] })

	var assigned []types.Job
	for _, job := range t.rows {
		if len(idle) == 0 {
			break
		}
		if !job.Assignable() {
			continue
		}
		job.AssignedWorker = idle[0]
		idle = idle[1:]
		assigned = append(assigned, *job)
	}
	return assigned
}

// ReclaimDead resets every outstanding row held by a worker in dead back to
// unassigned and returns copies of the reset rows. Done and cancelled rows
// are left alone.
func (t *Table) ReclaimDead(dead []types.ConnID) []types.Job {
	if len(dead) == 0 {
		return nil
	}
	deadSet := make(map[types.ConnID]bool, len(dead))
	for _, id := range dead {
		deadSet[id] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var reclaimed []types.Job
	for _, job := range t.rows {
		if !job.IsAssigned() || !deadSet[job.AssignedWorker] || job.Finished() {
			continue
		}
		job.AssignedWorker = types.Unassigned
		reclaimed = append(reclaimed, *job)
	}
	return reclaimed
}

// MarkDoneAndCancelSiblings records that worker finished the row it holds
// for (clientID, target). Unless that row was already cancelled, it is
// marked done and every other outstanding sibling is cancelled; the workers
// holding those siblings are returned so the caller can notify them.
//
// ErrJobNotFound is returned when worker holds no row for the request and
// ErrAlreadyDone when the row already completed.
func (t *Table) MarkDoneAndCancelSiblings(worker types.ConnID, clientID, target string) (alreadyCancelled bool, cancelled []types.ConnID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.findByWorker(worker)
	if job == nil || !job.SameRequest(clientID, target) {
		return false, nil, ErrJobNotFound
	}
	if job.Cancelled {
		return true, nil, nil
	}
	if job.Done {
		return false, nil, ErrAlreadyDone
	}

	job.Done = true
	for _, sibling := range t.rows {
		if sibling.ID == job.ID || !sibling.SameRequest(clientID, target) || sibling.Finished() {
			continue
		}
		sibling.Cancelled = true
		if sibling.IsAssigned() {
			cancelled = append(cancelled, sibling.AssignedWorker)
		}
	}
	return false, cancelled, nil
}

// MarkDone acknowledges that worker stopped working on its cancelled row.
// The row becomes done so it is never rescheduled.
//
// Only a cancelled row is acknowledged. A CANCEL_RESP is only ever an answer
// to a CANCEL_REQ, and cancelled rows are usually swept before the ack
// arrives, so by then the worker may already hold a fresh row. Marking that
// row done would drop live work; instead an ack for a row that was not
// cancelled is stale and returns ErrNotCancelled without changes.
func (t *Table) MarkDone(worker types.ConnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.findByWorker(worker)
	if job == nil {
		return ErrJobNotFound
	}
	if !job.Cancelled {
		return ErrNotCancelled
	}
	job.Done = true
	return nil
}

// SweepFinished removes every done or cancelled row. Completed rows (whose
// result was already queued) and cancelled rows are returned separately.
func (t *Table) SweepFinished() (completed, cancelled []types.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.rows[:0]
	for _, job := range t.rows {
		switch {
		case job.Completed():
			completed = append(completed, *job)
		case job.Cancelled:
			cancelled = append(cancelled, *job)
		default:
			kept = append(kept, job)
		}
	}
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	return completed, cancelled
}

// Snapshot returns copies of all rows in insertion order.
func (t *Table) Snapshot() []types.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Job, 0, len(t.rows))
	for _, job := range t.rows {
		out = append(out, *job)
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// HasRequest reports whether any row for (clientID, target) remains.
func (t *Table) HasRequest(clientID, target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, job := range t.rows {
		if job.SameRequest(clientID, target) {
			return true
		}
	}
	return false
}

// Stats returns row counts by state.
func (t *Table) Stats() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := map[string]int{
		"total":      len(t.rows),
		"unassigned": 0,
		"assigned":   0,
		"done":       0,
		"cancelled":  0,
	}
	for _, job := range t.rows {
		switch {
		case job.Cancelled:
			stats["cancelled"]++
		case job.Done:
			stats["done"]++
		case job.IsAssigned():
			stats["assigned"]++
		default:
			stats["unassigned"]++
		}
	}
	return stats
}

// findRow and findByWorker must be called with mu held.
func (t *Table) findRow(id types.RowID) *types.Job {
	for _, job := range t.rows {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (t *Table) findByWorker(worker types.ConnID) *types.Job {
	if worker == types.Unassigned {
		return nil
	}
	for _, job := range t.rows {
		if job.AssignedWorker == worker {
			return job
		}
	}
	return nil
}
