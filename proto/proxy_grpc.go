package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ProxyService_ServiceName           = "prometheus.proxy.ProxyService"
	ProxyService_Stream_FullMethodName = "/prometheus.proxy.ProxyService/Stream"
)

type ProxyServiceClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (ProxyService_StreamClient, error)
}

type proxyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewProxyServiceClient(cc grpc.ClientConnInterface) ProxyServiceClient {
	return &proxyServiceClient{cc}
}

func (c *proxyServiceClient) Stream(ctx context.Context, opts ...grpc.CallOption) (ProxyService_StreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ProxyService_ServiceDesc.Streams[0], ProxyService_Stream_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ProxyMessage, ProxyMessage]{ClientStream: stream}, nil
}

type ProxyService_StreamClient = grpc.BidiStreamingClient[ProxyMessage, ProxyMessage]

type ProxyServiceServer interface {
	Stream(ProxyService_StreamServer) error
}

type UnimplementedProxyServiceServer struct{}

func (UnimplementedProxyServiceServer) Stream(ProxyService_StreamServer) error {
	return status.Errorf(codes.Unimplemented, "method Stream not implemented")
}

type ProxyService_StreamServer = grpc.BidiStreamingServer[ProxyMessage, ProxyMessage]

func RegisterProxyServiceServer(s grpc.ServiceRegistrar, srv ProxyServiceServer) {
	s.RegisterService(&ProxyService_ServiceDesc, srv)
}

func _ProxyService_Stream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ProxyServiceServer).Stream(&grpc.GenericServerStream[ProxyMessage, ProxyMessage]{ServerStream: stream})
}

var ProxyService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ProxyService_ServiceName,
	HandlerType: (*ProxyServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _ProxyService_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "proxy.proto",
}
