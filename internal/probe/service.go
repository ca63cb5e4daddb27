// Package probe implements the dependency-probe protocol: when the redux
// driver is invoked as a child of a running rule, it does
// not start its own build context. Instead it dials its parent job's
// probe socket and issues Want/Stamp/Depfile/Volatile RPCs, each of which
// (a) appends a record to the calling job's tracefile, (b) may trigger
// recursive building in the coordinator, and (c) may race against the job
// being killed for a mid-job cutoff.
package probe

import (
	"context"

	"google.golang.org/grpc"

	"github.com/reduxbuild/redux/internal/probe/reduxpb"
)

// ServiceName is the gRPC service path probes are issued against.
const ServiceName = "redux.probe.v1.Probe"

// Server is implemented by whatever owns a running job's tracefile — the
// engine package's *Job — and invoked for each probe RPC the job's
// children issue.
type Server interface {
	Want(ctx context.Context, req *reduxpb.WantRequest) (*reduxpb.WantResponse, error)
	Stamp(ctx context.Context, req *reduxpb.StampRequest) (*reduxpb.StampResponse, error)
	Depfile(ctx context.Context, req *reduxpb.DepfileRequest) (*reduxpb.DepfileResponse, error)
	Volatile(ctx context.Context, req *reduxpb.VolatileRequest) (*reduxpb.VolatileResponse, error)
}

func wantHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(reduxpb.WantRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).Want(ctx, req)
}

func stampHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(reduxpb.StampRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).Stamp(ctx, req)
}

func depfileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(reduxpb.DepfileRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).Depfile(ctx, req)
}

func volatileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(reduxpb.VolatileRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).Volatile(ctx, req)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate from a .proto file; there is no .proto source here, so
// the descriptor is maintained by hand against the Server interface above.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Want", Handler: wantHandler},
		{MethodName: "Stamp", Handler: stampHandler},
		{MethodName: "Depfile", Handler: depfileHandler},
		{MethodName: "Volatile", Handler: volatileHandler},
	},
}

// RegisterServer attaches srv to s under the probe service descriptor.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}
