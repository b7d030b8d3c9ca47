package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/config"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/controller"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/metrics"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/registry"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Coordinator is a fully wired, running coordinator process.
type Coordinator struct {
	Registry   *registry.Registry
	Controller *controller.Controller
	Gatherer   prometheus.Gatherer

	log      *slog.Logger
	cancel   context.CancelFunc
	listener net.Listener
	admin    *server.Server
	adminLn  net.Listener
	http     *http.Server
	httpLn   net.Listener

	wg       sync.WaitGroup
	stopOnce sync.Once
	serveErr chan error
}

// StartCoordinator builds every component described by cfg and starts them.
// Failing to bind any listener is fatal and releases what was already bound.
func StartCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var allowlist *registry.Allowlist
	if cfg.Coordinator.AllowlistPath != "" {
		var err error
		allowlist, err = registry.LoadAllowlist(cfg.Coordinator.AllowlistPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded allowlist", "path", cfg.Coordinator.AllowlistPath, "entries", allowlist.Len())
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	reg := registry.New(registry.Config{
		UpstreamHost: cfg.Coordinator.UpstreamAddr,
		Allowlist:    allowlist,
		WriteTimeout: cfg.Coordinator.WriteTimeout,
		Logger:       logger,
		Metrics:      collector,
	})
	ctrl := controller.New(reg, controller.Config{
		Redundancy:   cfg.Coordinator.Redundancy,
		TickInterval: cfg.Coordinator.TickInterval,
		Logger:       logger,
		Metrics:      collector,
	})

	ctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		Registry:   reg,
		Controller: ctrl,
		Gatherer:   promReg,
		log:        logger.With("component", "coordinator"),
		cancel:     cancel,
		serveErr:   make(chan error, 1),
	}

	ln, err := net.Listen("tcp", cfg.Coordinator.ListenAddr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Coordinator.ListenAddr, err)
	}
	c.listener = ln

	source := server.CoordinatorSource{Controller: ctrl, Registry: reg}

	if cfg.Admin.Enabled {
		c.adminLn, err = net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			_ = ln.Close()
			cancel()
			return nil, fmt.Errorf("failed to listen on admin addr %s: %w", cfg.Admin.Addr, err)
		}
		c.admin = server.NewServer(source, logger)
	}

	if cfg.HTTP.Enabled {
		c.httpLn, err = net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			_ = ln.Close()
			if c.adminLn != nil {
				_ = c.adminLn.Close()
			}
			cancel()
			return nil, fmt.Errorf("failed to listen on http addr %s: %w", cfg.HTTP.Addr, err)
		}
		c.http = &http.Server{
			Handler:           server.NewHTTPHandler(source, promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if err := ctrl.Start(ctx); err != nil {
		c.closeListeners()
		cancel()
		return nil, fmt.Errorf("failed to start controller: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := reg.Serve(ctx, ln, ctrl); err != nil {
			c.log.Error("Listener failed", "error", err)
			c.serveErr <- err
		}
	}()

	if c.admin != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.admin.Serve(c.adminLn); err != nil {
				c.log.Error("Admin service stopped", "error", err)
			}
		}()
	}

	if c.http != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.log.Info("HTTP service listening", "addr", c.httpLn.Addr().String())
			if err := c.http.Serve(c.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("HTTP service stopped", "error", err)
			}
		}()
	}

	c.log.Info("Coordinator started",
		"addr", ln.Addr().String(),
		"redundancy", cfg.Coordinator.Redundancy,
		"upstream_host", cfg.Coordinator.UpstreamAddr)
	return c, nil
}

// Addr is the address peers connect to.
func (c *Coordinator) Addr() net.Addr { return c.listener.Addr() }

// AdminAddr is the gRPC admin address, or nil when disabled.
func (c *Coordinator) AdminAddr() net.Addr {
	if c.adminLn == nil {
		return nil
	}
	return c.adminLn.Addr()
}

// HTTPAddr is the metrics/status address, or nil when disabled.
func (c *Coordinator) HTTPAddr() net.Addr {
	if c.httpLn == nil {
		return nil
	}
	return c.httpLn.Addr()
}

// Err reports a listener failure that happened after startup.
func (c *Coordinator) Err() <-chan error { return c.serveErr }

// Shutdown closes the listener, every connection and both daemons, then the
// admin and HTTP services. It is safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.stopOnce.Do(func() {
		c.log.Info("Shutting down")
		c.cancel()
		c.Controller.Stop()
		_ = c.Registry.Close()

		if c.admin != nil {
			c.admin.Stop()
		}
		if c.http != nil {
			if err := c.http.Shutdown(ctx); err != nil {
				c.log.Warn("HTTP shutdown incomplete", "error", err)
			}
		}
		c.wg.Wait()
		c.log.Info("Coordinator stopped")
	})
}

func (c *Coordinator) closeListeners() {
	for _, ln := range []net.Listener{c.listener, c.adminLn, c.httpLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}
