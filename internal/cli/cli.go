// ============================================================================
// factorcoord CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the coordinator, worker and client tools
//
// Command Structure:
//   factorcoord                    # Root command
//   ├── run                        # Start the coordinator
//   ├── worker                     # Run a reference worker node
//   │   ├── --coordinator         # Coordinator address
//   │   └── --bind                # Local source address
//   ├── submit <client> <target>   # Send one FACTOR_REQ as the upstream
//   │   └── --timeout             # Give up after this long
//   ├── status                     # Query a running coordinator
//   │   └── --admin               # Admin gRPC address
//   ├── --config, -c               # Config file (optional)
//   └── --version
//
// Configuration:
//   YAML file (see internal/config). Without --config the built-in defaults
//   apply. Flags override the matching config fields.
//
// run Command:
//   1. Load and validate config
//   2. Install the slog handler (stderr, plus log.file when set)
//   3. Bind the peer listener, admin gRPC and HTTP services
//   4. Start both daemons
//   5. Wait for SIGINT/SIGTERM, then shut everything down
//
//   Examples:
//     ./factorcoord run
//     ./factorcoord run -c configs/coordinator.yaml
//
// submit Command:
//   The coordinator decides roles by source address, so submit must dial
//   from the configured upstream host. Prints the comma-joined factors.
//
//   Examples:
//     ./factorcoord submit 7 8051
//
// ============================================================================

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/config"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/protocol"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/server"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/worker"
	"github.com/spf13/cobra"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "factorcoord",
		Short: "factorcoord: a redundant factorization coordinator",
		Long: `factorcoord accepts factorization requests from one upstream peer,
dispatches each to several workers, keeps the first answer and cancels the
rest. Workers that disconnect have their jobs reassigned.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults built in)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildWorkerCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Coordinator.ListenAddr = listen
			}
			return runCoordinator(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "peer listen address (overrides coordinator.listen_addr)")
	return cmd
}

func runCoordinator(parent context.Context, cfg *config.Config) error {
	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := StartCoordinator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping gracefully")
	case runErr = <-coord.Err():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coord.Shutdown(shutdownCtx)
	return runErr
}

func buildWorkerCommand() *cobra.Command {
	var coordinatorAddr string
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a reference worker node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if coordinatorAddr != "" {
				cfg.Worker.CoordinatorAddr = coordinatorAddr
			}
			if bindAddr != "" {
				cfg.Worker.BindAddr = bindAddr
			}

			logger, closeLog, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			node := worker.NewNode(worker.Config{
				CoordinatorAddr: cfg.Worker.CoordinatorAddr,
				BindAddr:        cfg.Worker.BindAddr,
				Logger:          logger,
			})
			return node.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "", "coordinator address (overrides worker.coordinator_addr)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "local source address (overrides worker.bind_addr)")
	return cmd
}

func buildSubmitCommand() *cobra.Command {
	var coordinatorAddr string
	var bindAddr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <client-id> <target>",
		Short: "Submit one factorization request as the upstream peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if coordinatorAddr == "" {
				coordinatorAddr = cfg.Worker.CoordinatorAddr
			}
			if bindAddr == "" {
				bindAddr = cfg.Coordinator.UpstreamAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := Submit(ctx, coordinatorAddr, bindAddr, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.FactorsCSV)
			return nil
		},
	}

	cmd.Flags().StringVar(&coordinatorAddr, "coordinator", "", "coordinator address (defaults to worker.coordinator_addr)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "local source address (defaults to coordinator.upstream_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for the answer")
	return cmd
}

// Submit connects to the coordinator from bindAddr, sends one FACTOR_REQ and
// waits for the FACTOR_RESP answering it. Other responses on the connection
// are skipped.
func Submit(ctx context.Context, addr, bindAddr, clientID, target string) (protocol.FactorResponse, error) {
	req := protocol.FactorRequest{ClientID: clientID, Target: target}
	// round-trip through the parser so a '|' in either field is caught here
	msg, err := protocol.Parse(req.Encode())
	if err == nil {
		_, err = protocol.DecodeFactorRequest(msg)
	}
	if err != nil {
		return protocol.FactorResponse{}, fmt.Errorf("invalid request: %w", err)
	}

	dialer := net.Dialer{}
	if bindAddr != "" {
		ip := net.ParseIP(bindAddr)
		if ip == nil {
			return protocol.FactorResponse{}, fmt.Errorf("invalid bind address %q", bindAddr)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return protocol.FactorResponse{}, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(req.Encode() + "\n")); err != nil {
		return protocol.FactorResponse{}, fmt.Errorf("send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return protocol.FactorResponse{}, ctx.Err()
			}
			return protocol.FactorResponse{}, fmt.Errorf("read response: %w", err)
		}
		msg, err := protocol.Parse(line)
		if err != nil {
			continue
		}
		resp, err := protocol.DecodeFactorResponse(msg)
		if err != nil {
			continue
		}
		if resp.ClientID == clientID && resp.Target == target {
			return resp, nil
		}
	}
}

func buildStatusCommand() *cobra.Command {
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator status",
		Long:  "Query a running coordinator's admin service and print the job table, queue and peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if adminAddr == "" {
				adminAddr = cfg.Admin.Addr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			report, err := server.FetchStatus(ctx, adminAddr)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin gRPC address (defaults to admin.addr)")
	return cmd
}

func printStatus(w io.Writer, r *server.Report) {
	fmt.Fprintln(w, "Coordinator Status")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "Uptime:             %s\n", r.Uptime)
	fmt.Fprintf(w, "Redundancy:         %d\n", r.Redundancy)
	fmt.Fprintf(w, "Upstream reachable: %t\n", r.UpstreamReachable)
	fmt.Fprintf(w, "Live workers:       %v\n", r.LiveWorkers)
	fmt.Fprintf(w, "Dead workers:       %v\n", r.DeadWorkers)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Job rows:")
	fmt.Fprintf(w, "  total %d  assigned %d  unassigned %d  done %d  cancelled %d\n",
		r.Rows["total"], r.Rows["assigned"], r.Rows["unassigned"], r.Rows["done"], r.Rows["cancelled"])
	for _, j := range r.Jobs {
		fmt.Fprintf(w, "  #%d worker=%s client=%s target=%s done=%t cancelled=%t\n",
			j.ID, j.AssignedWorker, j.ClientID, j.Target, j.Done, j.Cancelled)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Queued results: %d\n", len(r.QueuedResults))
	for _, res := range r.QueuedResults {
		fmt.Fprintf(w, "  client=%s target=%s factors=%s\n", res.ClientID, res.Target, res.FactorsCSV)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(r.Connections))
	for _, c := range r.Connections {
		fmt.Fprintf(w, "  %d %-8s %s\n", c.ID, c.Role, c.RemoteAddr)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger: a text handler at the configured
// level on stderr, also appending to log.file when set.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	out := stderr
	closeFn := func() {}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}
