package appmgr

import (
	"context"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "appmanager.v1.AppManager"

// methodPath returns the full method name of op. Method names equal the
// operation names of the appmanager contract.
func methodPath(op string) string {
	return "/" + ServiceName + "/" + op
}

// AppManagerServer is the server API for the AppManager service. Messages
// are protobuf well-known types; structured payloads travel as Struct.
type AppManagerServer interface {
	RegisterObserver(*structpb.Struct, AppManager_RegisterObserverServer) error
	UnregisterObserver(context.Context, *wrapperspb.Int32Value) (*emptypb.Empty, error)
	IsRunningInStabilityTest(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	KillProcessesByBundleName(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	IsRamConstrainedDevice(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	GetAppMemorySize(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	GetRunningProcessInformation(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	IsAppRunning(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// AppManager_RegisterObserverServer is the server side of the observer stream.
type AppManager_RegisterObserverServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type registerObserverServer struct {
	grpc.ServerStream
}

func (x *registerObserverServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterAppManagerServer registers srv on s.
func RegisterAppManagerServer(s grpc.ServiceRegistrar, srv AppManagerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the AppManager service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AppManagerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(appmanager.OpUnregisterObserver, func(s AppManagerServer, ctx context.Context, in *wrapperspb.Int32Value) (proto.Message, error) {
			return s.UnregisterObserver(ctx, in)
		}),
		unary(appmanager.OpIsRunningInStabilityTest, func(s AppManagerServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.IsRunningInStabilityTest(ctx, in)
		}),
		unary(appmanager.OpKillProcessesByBundleName, func(s AppManagerServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.KillProcessesByBundleName(ctx, in)
		}),
		unary(appmanager.OpIsRamConstrainedDevice, func(s AppManagerServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.IsRamConstrainedDevice(ctx, in)
		}),
		unary(appmanager.OpGetAppMemorySize, func(s AppManagerServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.GetAppMemorySize(ctx, in)
		}),
		unary(appmanager.OpGetRunningProcessInformation, func(s AppManagerServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.GetRunningProcessInformation(ctx, in)
		}),
		unary(appmanager.OpIsAppRunning, func(s AppManagerServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.IsAppRunning(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    appmanager.OpRegisterObserver,
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(AppManagerServer).RegisterObserver(in, &registerObserverServer{stream})
			},
		},
	},
	Metadata: "appmanager/v1/appmanager.proto",
}

// unary builds the MethodDesc for one request/response method, following the
// shape protoc-gen-go-grpc emits.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}](op string, call func(AppManagerServer, context.Context, PReq) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: op,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AppManagerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPath(op)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AppManagerServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Wire payloads carried inside Struct messages.

type killRequest struct {
	BundleName     string `json:"bundleName"`
	ClearPageStack bool   `json:"clearPageStack"`
	AppIndex       *int32 `json:"appIndex,omitempty"`
}

type runningRequest struct {
	BundleName    string `json:"bundleName"`
	AppCloneIndex *int32 `json:"appCloneIndex,omitempty"`
}

type observerRequest struct {
	BundleNames []string `json:"bundleNames,omitempty"`
}

type processList struct {
	Processes []appmanager.ProcessInformation `json:"processes"`
}

// streamMessage is one frame of the observer stream. The first frame carries
// only ObserverID; every later frame carries one event.
type streamMessage struct {
	ObserverID int32             `json:"observerId,omitempty"`
	Event      *appmanager.Event `json:"event,omitempty"`
}

// toStruct encodes v through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := sonic.ConfigStd.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}
