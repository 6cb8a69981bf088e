package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method and returns the response fields.
func (c *Client) Call(ctx context.Context, service, method string, req map[string]any) (map[string]any, error) {
	if req == nil {
		req = map[string]any{}
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Watch streams events whose kind starts with prefix to fn until ctx is
// done or the daemon closes the stream.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(evt map[string]any)) error {
	desc := &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, FullMethod(SessionServiceName, "WatchEvents"))
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"prefix": prefix})
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
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(evt.AsMap())
	}
}
