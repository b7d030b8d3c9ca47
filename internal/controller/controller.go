// ============================================================================
// Coordinator Controller - scheduling core
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Own the job table and result queue, route inbound messages and
//          drive the two periodic daemons
//
// Components:
//   - Job table (internal/jobtable.Table): redundant rows per client request
//   - Result queue (internal/jobtable.ResultQueue): finished results waiting
//     for the upstream, with its own lock
//   - Transport: the connection registry, used for every send and for the
//     live/dead worker snapshot
//
// Goroutines:
//   1. Connection read loops (owned by the registry) call Handle
//   2. Assignment loop - every tick: reclaim rows of dead workers, sweep
//      finished rows, assign idle workers, send POLLARD_REQ
//   3. Forward loop - every tick: drain the result queue to the upstream
//      while it is reachable
//
// Each daemon body is exposed as a single-step method (AssignTick,
// ForwardTick) so tests drive it without timers.
//
// Locking:
//   The table and the queue each lock internally and return copies. No send
//   happens while either lock is held. The controller's own mutex only
//   guards its lifecycle.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/jobtable"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/metrics"
	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

const (
	// DefaultRedundancy is the number of sibling rows per request.
	DefaultRedundancy = 2
	// DefaultTickInterval is the cadence of both daemons.
	DefaultTickInterval = 100 * time.Millisecond
)

var (
	// ErrAlreadyStarted Start was called twice.
	ErrAlreadyStarted = errors.New("controller already started")
	// ErrStopped the controller was stopped and cannot be restarted.
	ErrStopped = errors.New("controller stopped")
)

// Transport is what the controller needs from the connection layer.
type Transport interface {
	SendWorker(id types.ConnID, line string) error
	SendUpstream(line string) error
	UpstreamReachable() bool
	// WorkerSets returns the live and dead worker ids.
	WorkerSets() (live, dead []types.ConnID)
	// ForgetDead drops ids from the dead set after their rows were reclaimed.
	ForgetDead(ids []types.ConnID)
}

// Config configures a Controller.
type Config struct {
	Redundancy   int           // sibling rows per FACTOR_REQ
	TickInterval time.Duration // daemon cadence
	Logger       *slog.Logger
	Metrics      *metrics.Collector
}

// Controller is the scheduling core of the coordinator.
type Controller struct {
	table     *jobtable.Table
	results   *jobtable.ResultQueue
	transport Transport
	config    Config
	log       *slog.Logger
	metrics   *metrics.Collector

	arrivalsMu sync.Mutex
	arrivals   map[requestKey]time.Time

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	startTime time.Time
	loopWg    sync.WaitGroup
}

// requestKey identifies one client request across its sibling rows.
type requestKey struct {
	clientID string
	target   string
}

// New creates a controller that sends through transport.
func New(transport Transport, config Config) *Controller {
	if config.Redundancy < 1 {
		config.Redundancy = DefaultRedundancy
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Controller{
		table:     jobtable.New(),
		results:   jobtable.NewResultQueue(),
		transport: transport,
		config:    config,
		log:       config.Logger.With("component", "controller"),
		metrics:   config.Metrics,
		arrivals:  make(map[requestKey]time.Time),
		startTime: time.Now(),
	}
}

// Start launches the assignment and forward loops. They run until ctx is
// cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.startTime = time.Now()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.loopWg.Add(2)
	go c.runLoop(loopCtx, "assignment", func() { c.AssignTick() })
	go c.runLoop(loopCtx, "forward", func() { c.ForwardTick() })

	c.log.Info("Controller started",
		"redundancy", c.config.Redundancy,
		"tick", c.config.TickInterval)
	return nil
}

// runLoop calls tick on every ticker fire until ctx is done. A panicking
// tick is logged and the loop keeps running.
func (c *Controller) runLoop(ctx context.Context, name string, tick func()) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Loop stopped", "loop", name)
			return

		case <-ticker.C:
			// ctx may have been cancelled while the ticker fired
			if ctx.Err() != nil {
				c.log.Info("Loop stopped", "loop", name)
				return
			}
			c.safeTick(name, tick)
		}
	}
}

func (c *Controller) safeTick(name string, tick func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Loop tick panicked", "loop", name, "panic", r)
		}
	}()
	tick()
}

// Stop cancels both loops and waits for them to exit. It is safe to call
// more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.log.Info("Stopping controller...")
	if cancel != nil {
		cancel()
	}
	c.loopWg.Wait()

	if n := c.results.Len(); n > 0 {
		c.log.Warn("Controller stopped with undelivered results", "queued", n)
	}
	c.log.Info("Controller stopped")
}

// Status is a point-in-time view of the scheduling state.
type Status struct {
	Uptime            time.Duration           `json:"uptime"`
	Redundancy        int                     `json:"redundancy"`
	Rows              map[string]int          `json:"rows"`
	Jobs              []types.Job             `json:"jobs"`
	QueuedResults     []types.CompletedResult `json:"queued_results"`
	LiveWorkers       []types.ConnID          `json:"live_workers"`
	DeadWorkers       []types.ConnID          `json:"dead_workers"`
	UpstreamReachable bool                    `json:"upstream_reachable"`
}

// Status returns the current scheduling state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	uptime := time.Since(c.startTime)
	c.mu.Unlock()

	live, dead := c.transport.WorkerSets()
	return Status{
		Uptime:            uptime,
		Redundancy:        c.config.Redundancy,
		Rows:              c.table.Stats(),
		Jobs:              c.table.Snapshot(),
		QueuedResults:     c.results.Snapshot(),
		LiveWorkers:       live,
		DeadWorkers:       dead,
		UpstreamReachable: c.transport.UpstreamReachable(),
	}
}

// Table exposes the job table for inspection.
func (c *Controller) Table() *jobtable.Table { return c.table }

// Results exposes the result queue for inspection.
func (c *Controller) Results() *jobtable.ResultQueue { return c.results }

func (c *Controller) recordArrival(clientID, target string) {
	key := requestKey{clientID: clientID, target: target}
	c.arrivalsMu.Lock()
	defer c.arrivalsMu.Unlock()
	if _, ok := c.arrivals[key]; !ok {
		c.arrivals[key] = time.Now()
	}
}

// takeArrival returns how long ago the request arrived, or -1 if unknown.
func (c *Controller) takeArrival(clientID, target string) float64 {
	key := requestKey{clientID: clientID, target: target}
	c.arrivalsMu.Lock()
	defer c.arrivalsMu.Unlock()
	at, ok := c.arrivals[key]
	if !ok {
		return -1
	}
	delete(c.arrivals, key)
	return time.Since(at).Seconds()
}

// pruneArrivals forgets arrival times of requests that no longer have rows,
// so the map never outgrows the table.
func (c *Controller) pruneArrivals() {
	c.arrivalsMu.Lock()
	defer c.arrivalsMu.Unlock()
	for key := range c.arrivals {
		if !c.table.HasRequest(key.clientID, key.target) {
			delete(c.arrivals, key)
		}
	}
}

// pendingArrivals is the number of requests with a recorded arrival time.
func (c *Controller) pendingArrivals() int {
	c.arrivalsMu.Lock()
	defer c.arrivalsMu.Unlock()
	return len(c.arrivals)
}

func (c *Controller) updateGauges(liveWorkers int) {
	c.metrics.UpdateTableStats(c.table.Len(), c.results.Len())
	c.metrics.UpdatePeers(liveWorkers, c.transport.UpstreamReachable())
}
