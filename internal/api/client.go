package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a running chatd over its Unix domain socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial returns a client for the daemon listening on socketPath. The
// connection is established lazily on the first call.
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

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func (c *Client) call(ctx context.Context, method string, in proto.Message) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) callEmpty(ctx context.Context, method string, fields map[string]any) error {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return c.invoke(ctx, method, in, new(emptypb.Empty))
}

func (c *Client) callFields(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, method, in)
}

func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "GetStatus", &emptypb.Empty{})
}

func (c *Client) ListRooms(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "ListRooms", &emptypb.Empty{})
}

func (c *Client) RefreshRooms(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, "RefreshRooms", &emptypb.Empty{})
}

func (c *Client) OpenRoom(ctx context.Context, roomID string) (map[string]any, error) {
	return c.callFields(ctx, "OpenRoom", map[string]any{"room_id": roomID})
}

// OpenWithReceiver creates a room with receiverID and opens it.
func (c *Client) OpenWithReceiver(ctx context.Context, receiverID string) (map[string]any, error) {
	return c.callFields(ctx, "OpenRoom", map[string]any{"receiver_id": receiverID})
}

func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	return c.callEmpty(ctx, "CloseRoom", map[string]any{"room_id": roomID})
}

func (c *Client) CreateRoom(ctx context.Context, receiverID string) (map[string]any, error) {
	return c.callFields(ctx, "CreateRoom", map[string]any{"receiver_id": receiverID})
}

func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.callEmpty(ctx, "DeleteRoom", map[string]any{"room_id": roomID})
}

func (c *Client) SendMessage(ctx context.Context, roomID, text string) (map[string]any, error) {
	return c.callFields(ctx, "SendMessage", map[string]any{"room_id": roomID, "text": text})
}

// Attach uploads the files at paths, which the daemon reads itself.
func (c *Client) Attach(ctx context.Context, roomID string, paths []string) (map[string]any, error) {
	return c.callFields(ctx, "Attach", map[string]any{"room_id": roomID, "paths": anyList(paths)})
}

// AttachToForm uploads the files at paths for a post or portfolio form.
func (c *Client) AttachToForm(ctx context.Context, scope, ownerID string, paths []string) (map[string]any, error) {
	return c.callFields(ctx, "Attach", map[string]any{"scope": scope, "owner_id": ownerID, "paths": anyList(paths)})
}

func (c *Client) CancelAttachment(ctx context.Context, roomID, localRef string) error {
	return c.callEmpty(ctx, "CancelAttachment", map[string]any{"room_id": roomID, "local_ref": localRef})
}

func (c *Client) CancelFormAttachment(ctx context.Context, scope, ownerID, localRef string) error {
	return c.callEmpty(ctx, "CancelAttachment", map[string]any{"scope": scope, "owner_id": ownerID, "local_ref": localRef})
}

func (c *Client) PendingAttachments(ctx context.Context, roomID string) (map[string]any, error) {
	return c.callFields(ctx, "PendingAttachments", map[string]any{"room_id": roomID})
}

func (c *Client) PendingFormAttachments(ctx context.Context, scope, ownerID string) (map[string]any, error) {
	return c.callFields(ctx, "PendingAttachments", map[string]any{"scope": scope, "owner_id": ownerID})
}

func anyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (c *Client) History(ctx context.Context, roomID string, limit int) (map[string]any, error) {
	return c.callFields(ctx, "History", map[string]any{"room_id": roomID, "limit": limit})
}

// WatchEvents streams bus events whose kind starts with prefix to fn until
// ctx ends or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(map[string]any) error) error {
	desc := &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod("WatchEvents"))
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			return err
		}
		if err := fn(evt.AsMap()); err != nil {
			return err
		}
	}
}
