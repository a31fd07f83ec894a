package api

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "gigline.v1.Agent"

// AgentServer is the control surface the agent exposes on its Unix socket.
type AgentServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	SendText(context.Context, *SendTextRequest) (*SendTextResponse, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	GetPresence(context.Context, *PresenceRequest) (*PresenceResponse, error)
	WatchEvents(*WatchRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

type eventStream struct {
	grpc.ServerStream
}

func (s eventStream) Send(e *Event) error { return s.ServerStream.SendMsg(e) }

// RegisterAgentServer attaches srv to s.
func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&agentServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(AgentServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AgentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AgentServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", AgentServer.GetStatus),
		unary("Connect", AgentServer.Connect),
		unary("SendText", AgentServer.SendText),
		unary("ListChats", AgentServer.ListChats),
		unary("ListMessages", AgentServer.ListMessages),
		unary("GetPresence", AgentServer.GetPresence),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchEvents",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(AgentServer).WatchEvents(in, eventStream{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "gigline/v1/agent",
}
