package alarm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmsink.v1.AlarmService"

// Method names of the alarm service.
const (
	MethodCreateAlarm = "CreateAlarm"
	MethodUpdateAlarm = "UpdateAlarm"
	MethodClearAlarm  = "ClearAlarm"
	MethodPurgeAlarms = "PurgeAlarms"
	MethodShowAlarms  = "ShowAlarms"
)

// AlarmServiceServer is the server API of the alarm service.
type AlarmServiceServer interface {
	CreateAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ClearAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PurgeAlarms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ShowAlarms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv AlarmServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes the alarm service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodCreateAlarm,
			Handler:    unaryHandler(MethodCreateAlarm, AlarmServiceServer.CreateAlarm),
		},
		{
			MethodName: MethodUpdateAlarm,
			Handler:    unaryHandler(MethodUpdateAlarm, AlarmServiceServer.UpdateAlarm),
		},
		{
			MethodName: MethodClearAlarm,
			Handler:    unaryHandler(MethodClearAlarm, AlarmServiceServer.ClearAlarm),
		},
		{
			MethodName: MethodPurgeAlarms,
			Handler:    unaryHandler(MethodPurgeAlarms, AlarmServiceServer.PurgeAlarms),
		},
		{
			MethodName: MethodShowAlarms,
			Handler:    unaryHandler(MethodShowAlarms, AlarmServiceServer.ShowAlarms),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alarmsink/v1/alarm_service.proto",
}

// RegisterAlarmServiceServer registers srv on the gRPC server.
func RegisterAlarmServiceServer(s grpc.ServiceRegistrar, srv AlarmServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the "/service/method" path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(AlarmServiceServer), ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AlarmServiceServer), ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // Decoded above.
		}

		return interceptor(ctx, in, info, handler)
	}
}

// AlarmServiceClient is the client API of the alarm service.
type AlarmServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAlarmServiceClient creates a client over the connection.
func NewAlarmServiceClient(cc grpc.ClientConnInterface) *AlarmServiceClient {
	return &AlarmServiceClient{cc: cc}
}

// CreateAlarm raises an alarm.
func (c *AlarmServiceClient) CreateAlarm(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateAlarm, in, opts...)
}

// UpdateAlarm updates or, with the cleared marker, clears an alarm.
func (c *AlarmServiceClient) UpdateAlarm(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateAlarm, in, opts...)
}

// ClearAlarm clears an alarm.
func (c *AlarmServiceClient) ClearAlarm(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodClearAlarm, in, opts...)
}

// PurgeAlarms removes alarms matching a filter.
func (c *AlarmServiceClient) PurgeAlarms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPurgeAlarms, in, opts...)
}

// ShowAlarms returns the inventory projection.
func (c *AlarmServiceClient) ShowAlarms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodShowAlarms, in, opts...)
}

func (c *AlarmServiceClient) invoke(
	ctx context.Context,
	method string,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
