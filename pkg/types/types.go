// Package types defines the domain model shared by the coordinator, its
// transport layer and the reference worker.
package types

import "strconv"

// ConnID identifies an admitted connection. Worker ids on the wire are the
// connection ids assigned by the coordinator.
type ConnID int64

// Unassigned marks a job row that no worker currently holds.
const Unassigned ConnID = -1

func (id ConnID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RowID is the stable identity of a job row. Rows are only ever removed by
// RowID, never by comparing field values.
type RowID uint64

// Role is the tagged role of a connection, fixed at admission time.
type Role int

const (
	RoleWorker Role = iota + 1
	RoleUpstream
)

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Peer is the identity of the connection a message arrived on.
type Peer struct {
	ID   ConnID
	Role Role
}

// Job is one schedulable unit of factorization work. A client request
// produces several sibling rows sharing (ClientID, Target).
type Job struct {
	ID             RowID  `json:"id"`
	AssignedWorker ConnID `json:"assigned_worker"`
	ClientID       string `json:"client_id"`
	Target         string `json:"target"` // decimal, may exceed int64
	Done           bool   `json:"done"`
	Cancelled      bool   `json:"cancelled"`
}

// IsAssigned reports whether a worker holds the row.
func (j Job) IsAssigned() bool {
	return j.AssignedWorker != Unassigned
}

// Assignable reports whether the scheduler may hand the row to a worker.
func (j Job) Assignable() bool {
	return !j.IsAssigned() && !j.Done && !j.Cancelled
}

// Completed reports whether the row produced the forwarded result. A
// cancelled row that was later acknowledged is done but not completed.
func (j Job) Completed() bool {
	return j.Done && !j.Cancelled
}

// Finished reports whether the row can be removed from the table.
func (j Job) Finished() bool {
	return j.Done || j.Cancelled
}

// SameRequest reports whether j belongs to the client request (clientID, target).
func (j Job) SameRequest(clientID, target string) bool {
	return j.ClientID == clientID && j.Target == target
}

// CompletedResult is a finished factorization waiting to be relayed upstream.
type CompletedResult struct {
	ClientID   string `json:"client_id"`
	Target     string `json:"target"`
	FactorsCSV string `json:"factors"`
}
