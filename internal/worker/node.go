// ============================================================================
// Reference Worker Node
// ============================================================================
//
// Package: internal/worker
// File: node.go
// Purpose: Connect to a coordinator and factor whatever it dispatches
//
// Message handling:
//   POLLARD_REQ|id|client|target  start factoring; a running job is
//                                 superseded and its result discarded
//   CANCEL_REQ|id                 abort the running job (if any) and reply
//                                 CANCEL_RESP|id
//
// On completion the node replies POLLARD_RESP|id|client|target|factors.
// The id is whatever the coordinator put in the request; the node never
// invents one.
//
// Execution model:
//   One read loop goroutine plus at most one computation goroutine. Each
//   computation gets its own cancellable context and a generation number;
//   only the current generation may send a result.
//
// ============================================================================

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/protocol"
)

// ErrNoCoordinator no coordinator address was configured.
var ErrNoCoordinator = errors.New("coordinator address is required")

// FactorFunc computes the comma-joined prime factors of a decimal target.
type FactorFunc func(ctx context.Context, target string) (string, error)

// Config configures a Node.
type Config struct {
	CoordinatorAddr string
	// BindAddr is the local host to dial from. The coordinator tells
	// workers and the upstream apart by source address.
	BindAddr    string
	DialTimeout time.Duration
	Factor      FactorFunc
	Logger      *slog.Logger
}

// Node is a single worker connection.
type Node struct {
	config Config
	log    *slog.Logger

	wmu  sync.Mutex
	conn net.Conn

	mu         sync.Mutex
	generation uint64
	cancelJob  context.CancelFunc
	jobWg      sync.WaitGroup
}

// NewNode creates a worker node.
func NewNode(config Config) *Node {
	if config.Factor == nil {
		config.Factor = FactorizeString
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Node{
		config: config,
		log:    config.Logger.With("component", "worker"),
	}
}

// Run dials the coordinator and serves until ctx is cancelled or the
// connection drops.
func (n *Node) Run(ctx context.Context) error {
	if n.config.CoordinatorAddr == "" {
		return ErrNoCoordinator
	}

	dialer := net.Dialer{Timeout: n.config.DialTimeout}
	if n.config.BindAddr != "" {
		ip := net.ParseIP(n.config.BindAddr)
		if ip == nil {
			return fmt.Errorf("invalid bind address %q", n.config.BindAddr)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	conn, err := dialer.DialContext(ctx, "tcp", n.config.CoordinatorAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	n.log.Info("Connected to coordinator",
		"addr", n.config.CoordinatorAddr,
		"local", conn.LocalAddr().String())
	return n.Serve(ctx, conn)
}

// Serve handles coordinator messages on conn until ctx is cancelled or conn
// fails. It closes conn before returning.
func (n *Node) Serve(ctx context.Context, conn net.Conn) error {
	n.wmu.Lock()
	n.conn = conn
	n.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		n.abort()
		n.jobWg.Wait()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			n.handle(ctx, line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				n.log.Warn("Coordinator closed the connection")
				return nil
			}
			return fmt.Errorf("read from coordinator: %w", err)
		}
	}
}

func (n *Node) handle(ctx context.Context, line string) {
	msg, err := protocol.Parse(line)
	if err != nil {
		if !errors.Is(err, protocol.ErrEmptyMessage) {
			n.log.Warn("Dropping malformed message", "error", err)
		}
		return
	}

	switch msg.Type {
	case protocol.TypePollardReq:
		req, err := protocol.DecodePollardRequest(msg)
		if err != nil {
			n.log.Warn("Dropping malformed POLLARD_REQ", "error", err)
			return
		}
		n.start(ctx, req)

	case protocol.TypeCancelReq:
		req, err := protocol.DecodeCancelRequest(msg)
		if err != nil {
			n.log.Warn("Dropping malformed CANCEL_REQ", "error", err)
			return
		}
		n.abort()
		n.log.Info("Job cancelled", "worker", req.WorkerID)
		if err := n.send(protocol.CancelResponse{WorkerID: req.WorkerID}.Encode()); err != nil {
			n.log.Warn("Failed to send CANCEL_RESP", "error", err)
		}

	default:
		n.log.Warn("Ignoring unexpected message", "type", msg.Type)
	}
}

// start launches a computation for req, superseding any running one.
func (n *Node) start(parent context.Context, req protocol.PollardRequest) {
	ctx, cancel := context.WithCancel(parent)

	n.mu.Lock()
	if n.cancelJob != nil {
		n.cancelJob()
		n.log.Info("Superseding running job")
	}
	n.generation++
	gen := n.generation
	n.cancelJob = cancel
	n.mu.Unlock()

	n.log.Info("Factoring", "worker", req.WorkerID, "client", req.ClientID, "target", req.Target)

	n.jobWg.Add(1)
	go func() {
		defer n.jobWg.Done()
		defer cancel()

		start := time.Now()
		factors, err := n.config.Factor(ctx, req.Target)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				n.log.Error("Factoring failed", "target", req.Target, "error", err)
			}
			return
		}

		n.mu.Lock()
		current := gen == n.generation && ctx.Err() == nil
		if current {
			n.cancelJob = nil
		}
		n.mu.Unlock()
		if !current {
			return
		}

		resp := protocol.PollardResponse{
			WorkerID:   req.WorkerID,
			ClientID:   req.ClientID,
			Target:     req.Target,
			FactorsCSV: factors,
		}
		if err := n.send(resp.Encode()); err != nil {
			n.log.Warn("Failed to send POLLARD_RESP", "error", err)
			return
		}
		n.log.Info("Job finished",
			"target", req.Target,
			"factors", factors,
			"duration", time.Since(start))
	}()
}

// abort cancels the running computation, if any.
func (n *Node) abort() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancelJob != nil {
		n.cancelJob()
		n.cancelJob = nil
	}
	n.generation++
}

func (n *Node) send(line string) error {
	n.wmu.Lock()
	defer n.wmu.Unlock()
	if n.conn == nil {
		return net.ErrClosed
	}
	_, err := n.conn.Write([]byte(line + "\n"))
	return err
}
