package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the ledger service
const ServiceName = "ledger.LedgerService"

const (
	addBlockMethod = "/" + ServiceName + "/AddBlock"
	tipHashMethod  = "/" + ServiceName + "/TipHash"
	blocksMethod   = "/" + ServiceName + "/Blocks"
)

// LedgerServer is the server API of the ledger service. Blocks are streamed
// in their stored encoding, tip first.
type LedgerServer interface {
	AddBlock(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	TipHash(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Blocks(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddBlock", Handler: addBlockHandler},
		{MethodName: "TipHash", Handler: tipHashHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Blocks", Handler: blocksHandler, ServerStreams: true},
	},
	Metadata: "ledger.proto",
}

func addBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).AddBlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: addBlockMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).AddBlock(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func tipHashHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).TipHash(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: tipHashMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LedgerServer).TipHash(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func blocksHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LedgerServer).Blocks(in, stream)
}
