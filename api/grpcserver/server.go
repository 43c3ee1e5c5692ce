// Package grpcserver exposes a heap's control surface over gRPC. The
// messages are the well-known protobuf types, so the service is
// described by hand instead of by generated code.
package grpcserver

import (
	"context"
	"log"

	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "tlxr.v1.Control"

// ControlServer is the server API of the Control service.
type ControlServer interface {
	// Collect runs a collection and waits for it. The request may set
	// "emergency" to clear soft references.
	Collect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// IsLive answers as of the last finished cycle.
	IsLive(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error)
}

// Server adapts service.Heap to gRPC.
type Server struct {
	heap *service.Heap
}

func NewServer(h *service.Heap) *Server {
	return &Server{heap: h}
}

// Register installs s on g.
func Register(g *grpc.Server, s ControlServer) {
	g.RegisterService(&ServiceDesc, s)
}

// -------------------- Commands --------------------

func (s *Server) Collect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if !s.heap.Plan().Constraints().Collects {
		return nil, status.Errorf(codes.FailedPrecondition, "plan %s does not collect", s.heap.Plan().Name())
	}
	r := scheduler.Request{
		UserTriggered: true,
		Emergency:     req.GetFields()["emergency"].GetBoolValue(),
	}

	coord := s.heap.Coordinator()
	id := coord.Request(r)
	done := make(chan bool, 1)
	go func() { done <- coord.Wait(id) }()

	select {
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case ok := <-done:
		if !ok {
			return nil, status.Error(codes.Unavailable, "heap is shutting down")
		}
	}

	log.Printf("[gRPC] Collect cycle=%d emergency=%t", id, r.Emergency)
	return structpb.NewStruct(map[string]any{"cycle": float64(id)})
}

// -------------------- Queries --------------------

func (s *Server) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st := s.heap.Stats()
	return structpb.NewStruct(map[string]any{
		"plan":            st.Plan,
		"collections":     float64(st.Collections),
		"heap_pages":      st.HeapPages,
		"used_pages":      st.UsedPages,
		"state":           st.State.String(),
		"soft_cleared":    float64(st.References.SoftCleared),
		"weak_cleared":    float64(st.References.WeakCleared),
		"phantom_cleared": float64(st.References.PhantomCleared),
		"finalized":       float64(st.References.Finalized),
		"finalizable":     st.References.Pending,
		"ready":           st.References.Ready,
	})
}

func (s *Server) IsLive(_ context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error) {
	obj := memory.ObjectReference(req.GetValue())
	if !s.heap.IsInHeap(obj.ToAddress()) {
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(s.heap.IsLive(obj)), nil
}

// -------------------- Service description --------------------

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Collect", ControlServer.Collect),
		unary("Stats", ControlServer.Stats),
		unary("IsLive", ControlServer.IsLive),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tlxr/v1/control.proto",
}

func unary[Req, Resp any, PReq interface {
	*Req
	proto.Message
}](name string, call func(ControlServer, context.Context, PReq) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(PReq))
			})
		},
	}
}

// -------------------- Client --------------------

// Client calls a remote Control service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) Collect(ctx context.Context, emergency bool) (uint64, error) {
	req, err := structpb.NewStruct(map[string]any{"emergency": emergency})
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Collect", req, out); err != nil {
		return 0, err
	}
	return uint64(out.GetFields()["cycle"].GetNumberValue()), nil
}

func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Stats", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) IsLive(ctx context.Context, obj memory.ObjectReference) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/IsLive", wrapperspb.UInt64(uint64(obj)), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
