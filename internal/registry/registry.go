// ============================================================================
// Connection Registry & Admission Gate
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Purpose: Admit inbound peers, tag their role and track their liveness
//
// Admission flow (one accepted socket):
//
//   accept -> allowlisted? --no--> warn, close (nothing is read)
//                 |
//                yes
//                 v
//        remote host == upstream host?
//           |                    |
//          yes                   no
//           v                    v
//   replace current upstream   append to live worker set
//           |                    |
//           +------ read loop ---+   one goroutine per connection
//                       |
//                 EOF / error
//                       v
//   upstream: unreachable (only if still current)
//   worker:   live set -> dead set
//
// The dead set is drained by the assignment daemon through ForgetDead once
// the rows held by those workers have been reclaimed. Peers never
// reconnect under the same id; a returning worker is a new connection.
//
// Framing:
//   Each read is split on newlines; text after the last newline is a
//   message too, so peers that write one bare message per send and peers
//   that write newline-terminated lines are both understood.
//
// Locking:
//   The registry lock guards the sets, the upstream pointer and the
//   connection map. Sends happen on the Conn after the registry lock is
//   released; each Conn serializes its own writes.
//
// ============================================================================

package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/metrics"
	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

var (
	// ErrNotAllowed the peer address is not on the allowlist.
	ErrNotAllowed = errors.New("peer not allowlisted")
	// ErrUpstreamUnavailable no upstream connection is currently up.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnknownWorker no live worker has the given id.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrClosed the registry has been shut down.
	ErrClosed = errors.New("registry closed")
)

const (
	// DefaultWriteTimeout bounds a single send to a peer.
	DefaultWriteTimeout = 5 * time.Second
	// readBufferSize is the largest single read from a peer.
	readBufferSize = 64 << 10
)

// Handler receives every inbound line together with the connection it came
// from. It is called from the connection's read goroutine.
type Handler interface {
	Handle(line string, from types.Peer)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(line string, from types.Peer)

// Handle calls f.
func (f HandlerFunc) Handle(line string, from types.Peer) { f(line, from) }

// Config configures a Registry.
type Config struct {
	// UpstreamHost is the address of the client-facing front-end. Any
	// admitted connection from another host is a worker.
	UpstreamHost string
	// Allowlist gates admission. nil admits everyone.
	Allowlist    *Allowlist
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Collector
}

// ConnInfo describes one registered connection.
type ConnInfo struct {
	ID         types.ConnID `json:"id"`
	Role       string       `json:"role"`
	RemoteAddr string       `json:"remote_addr"`
}

// Registry tracks admitted connections.
type Registry struct {
	upstreamHost string
	allowlist    *Allowlist
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Collector

	mu       sync.RWMutex
	conns    map[types.ConnID]*Conn
	live     map[types.ConnID]struct{}
	dead     map[types.ConnID]struct{}
	upstream *Conn
	nextID   types.ConnID
	closed   bool

	connWg sync.WaitGroup
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Registry{
		upstreamHost: normalizeHost(cfg.UpstreamHost),
		allowlist:    cfg.Allowlist,
		writeTimeout: cfg.WriteTimeout,
		log:          cfg.Logger.With("component", "registry"),
		metrics:      cfg.Metrics,
		conns:        make(map[types.ConnID]*Conn),
		live:         make(map[types.ConnID]struct{}),
		dead:         make(map[types.ConnID]struct{}),
		nextID:       1,
	}
}

// Serve accepts connections on ln until ctx is cancelled or ln fails, and
// runs one read loop per admitted connection. It returns nil after a
// cancellation-triggered shutdown.
func (r *Registry) Serve(ctx context.Context, ln net.Listener, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	r.log.Info("Accepting connections", "addr", ln.Addr().String(), "upstream_host", r.upstreamHost)
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		_, _ = r.Attach(nc, h)
	}
}

// Attach admits nc and starts its read loop, which feeds h until the
// connection fails.
func (r *Registry) Attach(nc net.Conn, h Handler) (*Conn, error) {
	c, err := r.Admit(nc)
	if err != nil {
		return nil, err
	}
	r.connWg.Add(1)
	go func() {
		defer r.connWg.Done()
		r.readLoop(c, h)
	}()
	return c, nil
}

// Admit applies the allowlist to nc and, if allowed, registers it under a
// fresh id with its role decided by the remote host. Rejected connections are
// closed without reading from them.
func (r *Registry) Admit(nc net.Conn) (*Conn, error) {
	host := hostOf(nc.RemoteAddr())
	if !r.allowlist.Allowed(host) {
		r.log.Warn("Refusing connection from address not on allowlist", "remote", nc.RemoteAddr().String())
		r.metrics.RecordConnection(false)
		_ = nc.Close()
		return nil, ErrNotAllowed
	}

	role := types.RoleWorker
	if r.upstreamHost != "" && host == r.upstreamHost {
		role = types.RoleUpstream
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = nc.Close()
		return nil, ErrClosed
	}
	id := r.nextID
	r.nextID++
	c := newConn(id, role, nc, r.writeTimeout)
	r.conns[id] = c

	var replaced *Conn
	if role == types.RoleUpstream {
		replaced = r.upstream
		r.upstream = c
	} else {
		r.live[id] = struct{}{}
	}
	r.mu.Unlock()

	r.metrics.RecordConnection(true)
	r.log.Info("Admitted connection", "conn", id, "role", role, "remote", c.RemoteAddr())
	if replaced != nil {
		r.log.Warn("Replacing previous upstream connection", "old", replaced.ID(), "new", id)
	}
	return c, nil
}

func (r *Registry) readLoop(c *Conn, h Handler) {
	defer r.disconnect(c)

	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			var msgs []string
			msgs, pending = splitChunk(pending, buf[:n], n == len(buf))
			for _, msg := range msgs {
				r.log.Debug("Received message", "conn", c.ID(), "role", c.Role(), "line", msg)
				h.Handle(msg, c.Peer())
			}
		}
		if err != nil {
			if len(pending) > 0 {
				h.Handle(string(pending), c.Peer())
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				r.log.Warn("Read failed", "conn", c.ID(), "role", c.Role(), "error", err)
			}
			return
		}
	}
}

// splitChunk frames one read. Peers either send one bare message per write
// or newline-terminated lines, so every newline ends a message and whatever
// follows the last newline is a message of its own. The exception is a read
// that filled the buffer: its tail is returned as rest and prefixed to the
// next read.
func splitChunk(pending, chunk []byte, full bool) (msgs []string, rest []byte) {
	data := append(pending, chunk...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if line := data[:i]; len(bytes.TrimSpace(line)) > 0 {
			msgs = append(msgs, string(line))
		}
		data = data[i+1:]
	}
	if full {
		return msgs, append([]byte(nil), data...)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		msgs = append(msgs, string(data))
	}
	return msgs, nil
}

// disconnect records the loss of c. A stale upstream connection being torn
// down after its replacement leaves the current upstream untouched.
func (r *Registry) disconnect(c *Conn) {
	c.close()

	r.mu.Lock()
	delete(r.conns, c.ID())
	switch c.Role() {
	case types.RoleUpstream:
		if r.upstream == c {
			r.upstream = nil
		}
	case types.RoleWorker:
		if _, ok := r.live[c.ID()]; ok {
			delete(r.live, c.ID())
			r.dead[c.ID()] = struct{}{}
		}
	}
	r.mu.Unlock()

	if c.Role() == types.RoleUpstream {
		r.log.Warn("Lost connection with upstream", "conn", c.ID())
	} else {
		r.log.Warn("Lost connection with worker", "conn", c.ID())
	}
}

// SendWorker sends line to a live worker.
func (r *Registry) SendWorker(id types.ConnID, line string) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok || c.Role() != types.RoleWorker {
		return ErrUnknownWorker
	}
	return c.Send(line)
}

// SendUpstream sends line to the current upstream.
func (r *Registry) SendUpstream(line string) error {
	r.mu.RLock()
	c := r.upstream
	r.mu.RUnlock()
	if c == nil {
		return ErrUpstreamUnavailable
	}
	return c.Send(line)
}

// UpstreamReachable reports whether an upstream connection is up.
func (r *Registry) UpstreamReachable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upstream != nil && r.upstream.Alive()
}

// WorkerSets returns the live and dead worker ids, each sorted ascending.
func (r *Registry) WorkerSets() (live, dead []types.ConnID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.live), sortedIDs(r.dead)
}

// ForgetDead drops ids from the dead set once their rows were reclaimed.
func (r *Registry) ForgetDead(ids []types.ConnID) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.dead, id)
	}
}

// Conns describes every registered connection, ordered by id.
func (r *Registry) Conns() []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, ConnInfo{ID: c.ID(), Role: c.Role().String(), RemoteAddr: c.RemoteAddr()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns connection counts.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	upstream := 0
	if r.upstream != nil {
		upstream = 1
	}
	return map[string]int{
		"connections":  len(r.conns),
		"live_workers": len(r.live),
		"dead_workers": len(r.dead),
		"upstream":     upstream,
	}
}

// Close closes every connection and waits for their read loops to finish.
// Serve must be stopped separately by cancelling its context.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	r.connWg.Wait()
	return nil
}

func sortedIDs(set map[types.ConnID]struct{}) []types.ConnID {
	out := make([]types.ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
