package cli

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/config"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/worker"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// testConfig binds every listener to an ephemeral loopback port.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Coordinator.ListenAddr = "127.0.0.1:0"
	cfg.Coordinator.UpstreamAddr = "127.0.0.1"
	cfg.Coordinator.AllowlistPath = ""
	cfg.Coordinator.TickInterval = 20 * time.Millisecond
	cfg.Admin.Addr = "127.0.0.1:0"
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func startTestCoordinator(t *testing.T, cfg *config.Config) *Coordinator {
	t.Helper()
	coord, err := StartCoordinator(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coord.Shutdown(ctx)
	})
	return coord
}

func startTestWorker(t *testing.T, addr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	node := worker.NewNode(worker.Config{CoordinatorAddr: addr, BindAddr: "127.0.0.2"})
	go func() {
		defer close(done)
		_ = node.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// ============================================================================
// Command Tree Tests
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "factorcoord", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "worker", "submit", "status"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestSubcommandFlags(t *testing.T) {
	tests := []struct {
		name  string
		build func() *cobra.Command
		flags []string
	}{
		{name: "run", build: buildRunCommand, flags: []string{"listen"}},
		{name: "worker", build: buildWorkerCommand, flags: []string{"coordinator", "bind"}},
		{name: "submit", build: buildSubmitCommand, flags: []string{"coordinator", "bind", "timeout"}},
		{name: "status", build: buildStatusCommand, flags: []string{"admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.build()
			assert.Equal(t, tt.name, cmd.Name())
			assert.NotNil(t, cmd.RunE)
			for _, f := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(f), "missing --%s", f)
			}
		})
	}
}

func TestSubmitRequiresTwoArgs(t *testing.T) {
	cmd := BuildCLI()
	cmd.SetArgs([]string{"submit", "7"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	assert.Error(t, cmd.Execute())
}

// ============================================================================
// Logger Tests
// ============================================================================

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.File = filepath.Join(t.TempDir(), "coordinator.log")

	var stderr bytes.Buffer
	logger, closeLog, err := newLogger(cfg, &stderr)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible", "conn", 3)
	closeLog()

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "visible")
	assert.Contains(t, stderr.String(), "conn=3")

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Equal(t, stderr.String(), string(data))
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	_, _, err := newLogger(cfg, new(bytes.Buffer))
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

// ============================================================================
// Coordinator Assembly Tests
// ============================================================================

func TestStartCoordinatorErrors(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "invalid config", mutate: func(c *config.Config) { c.Coordinator.Redundancy = 0 }},
		{name: "missing allowlist", mutate: func(c *config.Config) {
			c.Coordinator.AllowlistPath = filepath.Join(t.TempDir(), "whitelist")
		}},
		{name: "listen address in use", mutate: func(c *config.Config) { c.Coordinator.ListenAddr = busy.Addr().String() }},
		{name: "admin address in use", mutate: func(c *config.Config) { c.Admin.Addr = busy.Addr().String() }},
		{name: "http address in use", mutate: func(c *config.Config) { c.HTTP.Addr = busy.Addr().String() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := StartCoordinator(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestStartCoordinatorDisabledServices(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Enabled = false
	cfg.HTTP.Enabled = false

	coord := startTestCoordinator(t, cfg)
	assert.NotNil(t, coord.Addr())
	assert.Nil(t, coord.AdminAddr())
	assert.Nil(t, coord.HTTPAddr())
}

func TestShutdownIsIdempotent(t *testing.T) {
	coord, err := StartCoordinator(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	coord.Shutdown(context.Background())
	coord.Shutdown(context.Background())

	_, err = net.DialTimeout("tcp", coord.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestSubmitThroughCoordinator(t *testing.T) {
	coord := startTestCoordinator(t, testConfig())
	startTestWorker(t, coord.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := Submit(ctx, coord.Addr().String(), "127.0.0.1", "7", "8051")
	require.NoError(t, err)
	assert.Equal(t, "7", resp.ClientID)
	assert.Equal(t, "8051", resp.Target)
	assert.Equal(t, "83,97", resp.FactorsCSV)
}

func TestStatusCommand(t *testing.T) {
	coord := startTestCoordinator(t, testConfig())
	startTestWorker(t, coord.Addr().String())

	require.Eventually(t, func() bool {
		live, _ := coord.Registry.WorkerSets()
		return len(live) == 1
	}, 5*time.Second, 20*time.Millisecond)

	var out bytes.Buffer
	cmd := BuildCLI()
	cmd.SetOut(&out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"status", "--admin", coord.AdminAddr().String()})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Coordinator Status")
	assert.Contains(t, out.String(), "Redundancy:         2")
	assert.Contains(t, out.String(), "Connections: 1")
	assert.Contains(t, out.String(), "worker")
}

// ============================================================================
// Submit Client Tests
// ============================================================================

func TestSubmitSkipsUnrelatedResponses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- strings.TrimSpace(line)
		_, _ = conn.Write([]byte("FACTOR_RESP|9|15|3,5\ngarbage\nFACTOR_RESP|7|15|3,5\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Submit(ctx, ln.Addr().String(), "", "7", "15")
	require.NoError(t, err)
	assert.Equal(t, "FACTOR_REQ|7|15", <-got)
	assert.Equal(t, "7", resp.ClientID)
	assert.Equal(t, "3,5", resp.FactorsCSV)
}

func TestSubmitInvalidRequest(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		target   string
	}{
		{name: "bad target", clientID: "7", target: "abc"},
		{name: "zero target", clientID: "7", target: "0"},
		{name: "empty client", clientID: "", target: "15"},
		{name: "delimiter in client", clientID: "7|8", target: "15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Submit(context.Background(), "127.0.0.1:1", "", tt.clientID, tt.target)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid request")
		})
	}
}

func TestSubmitTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = Submit(ctx, ln.Addr().String(), "", "7", "15")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
