package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminClient calls the Admin service.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient wraps an established connection.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// Status fetches the coordinator's current report.
func (c *AdminClient) Status(ctx context.Context, opts ...grpc.CallOption) (*Report, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AdminStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, fmt.Errorf("rpc status failed: %w", err)
	}
	return structToReport(out)
}

// FetchStatus dials addr without transport security and fetches one report.
func FetchStatus(ctx context.Context, addr string) (*Report, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial admin %s: %w", addr, err)
	}
	defer conn.Close()

	return NewAdminClient(conn).Status(ctx)
}
