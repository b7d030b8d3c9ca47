// Package server exposes the coordinator's read-only admin surface: a gRPC
// Admin service with the standard health service, and an HTTP handler for
// Prometheus scraping and JSON status.
//
// The worker and upstream wire protocol is not served here; see
// internal/registry.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/internal/controller"
	"github.com/kernbread/finalProjectDistributedForNoel/internal/registry"
	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Report is the status document served over gRPC and HTTP.
type Report struct {
	Uptime            string                  `json:"uptime"`
	Redundancy        int                     `json:"redundancy"`
	Rows              map[string]int          `json:"rows"`
	Jobs              []types.Job             `json:"jobs"`
	QueuedResults     []types.CompletedResult `json:"queued_results"`
	LiveWorkers       []types.ConnID          `json:"live_workers"`
	DeadWorkers       []types.ConnID          `json:"dead_workers"`
	UpstreamReachable bool                    `json:"upstream_reachable"`
	Connections       []registry.ConnInfo     `json:"connections"`
}

// Source produces the current Report.
type Source interface {
	Report() Report
}

// StatusProvider is satisfied by *controller.Controller.
type StatusProvider interface {
	Status() controller.Status
}

// ConnLister is satisfied by *registry.Registry.
type ConnLister interface {
	Conns() []registry.ConnInfo
}

// CoordinatorSource builds reports from a running controller and registry.
type CoordinatorSource struct {
	Controller StatusProvider
	Registry   ConnLister
}

// Report implements Source.
func (s CoordinatorSource) Report() Report {
	st := s.Controller.Status()
	r := Report{
		Uptime:            st.Uptime.Round(time.Millisecond).String(),
		Redundancy:        st.Redundancy,
		Rows:              st.Rows,
		Jobs:              st.Jobs,
		QueuedResults:     st.QueuedResults,
		LiveWorkers:       st.LiveWorkers,
		DeadWorkers:       st.DeadWorkers,
		UpstreamReachable: st.UpstreamReachable,
	}
	if s.Registry != nil {
		r.Connections = s.Registry.Conns()
	}
	return r
}

// ============================================================================
// gRPC Admin service
// ============================================================================

const (
	// AdminServiceName is the fully qualified gRPC service name.
	AdminServiceName = "factorcoord.v1.Admin"
	// AdminStatusMethod is the full method path of Admin/Status.
	AdminStatusMethod = "/" + AdminServiceName + "/Status"
)

// AdminServer is the server API of the Admin service.
type AdminServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func adminStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AdminStatusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    adminStatusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "factorcoord/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

// Server implements the Admin service and owns the gRPC server it runs on.
type Server struct {
	source Source
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a gRPC server carrying the Admin and health services.
func NewServer(source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source: source,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		log:    logger.With("component", "admin"),
	}
	RegisterAdminServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving gRPC on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("Admin service listening", "addr", ln.Addr().String())
	return s.grpc.Serve(ln)
}

// Stop marks the services not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Status implements AdminServer.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return reportToStruct(s.source.Report())
}

// reportToStruct converts through JSON so the struct keys match the HTTP
// document exactly.
func reportToStruct(r Report) (*structpb.Struct, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return structpb.NewStruct(fields)
}

func structToReport(s *structpb.Struct) (*Report, error) {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &r, nil
}
