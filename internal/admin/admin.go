// Package admin exposes a minimal gRPC introspection surface over every
// running domain's occupancy (internal/domain.SnapshotState). The wire
// types below carry their own JSON tags and travel over the "json"
// content-subtype codec registered in codec.go rather than generated
// protobuf messages.
package admin

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/logger"
)

// SnapshotRequest names the domain to introspect.
type SnapshotRequest struct {
	Domain string `json:"domain"`
}

// SnapshotResponse is domain.Snapshot reshaped for the wire.
type SnapshotResponse struct {
	ClientIDs       []int64 `json:"client_ids"`
	ServiceIDs      []int64 `json:"service_ids"`
	SubscriptionIDs []int64 `json:"subscription_ids"`
}

// Service implements the Introspection gRPC service against a fixed set of
// named domains.
type Service struct {
	domains map[string]*domain.Domain
	server  *grpc.Server
}

// NewService builds a Service over domains, keyed by domain name.
func NewService(domains map[string]*domain.Domain) *Service {
	return &Service{domains: domains}
}

func (s *Service) snapshot(_ context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	dom, ok := s.domains[req.Domain]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown domain %q", req.Domain)
	}
	snap := dom.SnapshotState()
	return &SnapshotResponse{
		ClientIDs:       snap.ClientIDs,
		ServiceIDs:      snap.ServiceIDs,
		SubscriptionIDs: snap.SubscriptionIDs,
	}, nil
}

func snapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pathfinder.admin.Introspection/Snapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "pathfinder.admin.Introspection",
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/admin/admin.go",
}

// Serve starts a gRPC server for s at addr, forcing the JSON codec so no
// protobuf-generated types are ever needed on either end.
func (s *Service) Serve(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.server = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.server.RegisterService(&serviceDesc, s)

	go func() {
		if err := s.server.Serve(ln); err != nil {
			logger.ErrorF("admin: grpc server stopped: %v", err)
		}
	}()
	logger.InfoF("admin: listening on %s", ln.Addr())
	return ln, nil
}

// Invoke satisfies internal/event.Callable.
func (s *Service) Invoke(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}
	return nil
}
