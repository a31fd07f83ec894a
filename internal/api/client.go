package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a running agent over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the agent socket. The connection is established lazily.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(CodecName))
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	resp := new(StatusResponse)
	return resp, c.invoke(ctx, "GetStatus", &StatusRequest{}, resp)
}

func (c *Client) Connect(ctx context.Context) (*ConnectResponse, error) {
	resp := new(ConnectResponse)
	return resp, c.invoke(ctx, "Connect", &ConnectRequest{}, resp)
}

func (c *Client) SendText(ctx context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	resp := new(SendTextResponse)
	return resp, c.invoke(ctx, "SendText", req, resp)
}

func (c *Client) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	resp := new(ListChatsResponse)
	return resp, c.invoke(ctx, "ListChats", req, resp)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	resp := new(ListMessagesResponse)
	return resp, c.invoke(ctx, "ListMessages", req, resp)
}

func (c *Client) GetPresence(ctx context.Context, req *PresenceRequest) (*PresenceResponse, error) {
	resp := new(PresenceResponse)
	return resp, c.invoke(ctx, "GetPresence", req, resp)
}

// Health queries the standard gRPC health service of the agent.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// WatchEvents streams agent events to fn until ctx ends, the stream closes, or
// fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, req *WatchRequest, fn func(*Event) error) error {
	stream, err := c.conn.NewStream(ctx, &agentServiceDesc.Streams[0], "/"+serviceName+"/WatchEvents",
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(Event)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
