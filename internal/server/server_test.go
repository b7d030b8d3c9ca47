package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/controller"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/registry"
	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type staticSource struct {
	report Report
}

func (s staticSource) Report() Report { return s.report }

type fakeController struct{ status controller.Status }

func (f fakeController) Status() controller.Status { return f.status }

type fakeConns []registry.ConnInfo

func (f fakeConns) Conns() []registry.ConnInfo { return f }

func sampleReport() Report {
	return Report{
		Uptime:     "1.5s",
		Redundancy: 2,
		Rows:       map[string]int{"total": 2, "assigned": 1, "unassigned": 1, "done": 0, "cancelled": 0},
		Jobs: []types.Job{
			{ID: 1, AssignedWorker: 3, ClientID: "7", Target: "8051"},
			{ID: 2, AssignedWorker: types.Unassigned, ClientID: "7", Target: "8051"},
		},
		QueuedResults:     []types.CompletedResult{{ClientID: "8", Target: "15", FactorsCSV: "3,5"}},
		LiveWorkers:       []types.ConnID{3},
		DeadWorkers:       []types.ConnID{},
		UpstreamReachable: false,
		Connections:       []registry.ConnInfo{{ID: 3, Role: "worker", RemoteAddr: "127.0.0.2:40000"}},
	}
}

// startBufconn serves s over an in-memory listener and returns a client
// connection to it.
func startBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCoordinatorSourceReport(t *testing.T) {
	src := CoordinatorSource{
		Controller: fakeController{status: controller.Status{
			Uptime:            1500 * time.Millisecond,
			Redundancy:        2,
			Rows:              map[string]int{"total": 0},
			LiveWorkers:       []types.ConnID{3, 5},
			UpstreamReachable: true,
		}},
		Registry: fakeConns{{ID: 1, Role: "upstream", RemoteAddr: "10.0.0.1:5000"}},
	}

	r := src.Report()
	assert.Equal(t, "1.5s", r.Uptime)
	assert.Equal(t, []types.ConnID{3, 5}, r.LiveWorkers)
	assert.True(t, r.UpstreamReachable)
	require.Len(t, r.Connections, 1)
	assert.Equal(t, "upstream", r.Connections[0].Role)
}

func TestAdminStatusOverGRPC(t *testing.T) {
	want := sampleReport()
	conn := startBufconn(t, NewServer(staticSource{report: want}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := NewAdminClient(conn).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Uptime, got.Uptime)
	assert.Equal(t, want.Rows, got.Rows)
	assert.Equal(t, want.Jobs, got.Jobs)
	assert.Equal(t, want.QueuedResults, got.QueuedResults)
	assert.Equal(t, want.LiveWorkers, got.LiveWorkers)
	assert.Equal(t, want.Connections, got.Connections)
	assert.False(t, got.UpstreamReachable)
}

func TestHealthService(t *testing.T) {
	conn := startBufconn(t, NewServer(staticSource{report: sampleReport()}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: AdminServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestFetchStatusUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := FetchStatus(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}

func TestHTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "factorcoord_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(NewHTTPHandler(staticSource{report: sampleReport()}, reg))
	defer srv.Close()

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantContain string
	}{
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, wantContain: "ok"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantContain: "factorcoord_test_total 1"},
		{name: "status", path: "/status", wantStatus: http.StatusOK, wantContain: `"redundancy":2`},
		{name: "unknown route", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			if tt.wantContain != "" {
				assert.Contains(t, string(body), tt.wantContain)
			}
		})
	}
}

func TestHTTPStatusDecodes(t *testing.T) {
	want := sampleReport()
	srv := httptest.NewServer(NewHTTPHandler(staticSource{report: want}, prometheus.NewRegistry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, want, got)
}
