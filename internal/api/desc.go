// Package api is chatd's control service, spoken over the profile's Unix
// socket by chatctl. Requests and responses are protobuf Struct and Empty
// messages; field names are listed on each method.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "taptoon.chat.v1.ChatDaemon"

// ChatDaemonServer is implemented by Service.
type ChatDaemonServer interface {
	// GetStatus -> {profile, user_id, uptime_ms, notifications{channel,state,retry_count}, rooms, total_unread, open_rooms[{room_id,state}], bus_dropped}
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListRooms -> {rooms[]}
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RefreshRooms -> {rooms[]}
	RefreshRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// OpenRoom {room_id | receiver_id} -> {room_id, state, items[]}
	OpenRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// CloseRoom {room_id}
	CloseRoom(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// CreateRoom {receiver_id} -> {room_id}
	CreateRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// DeleteRoom {room_id}
	DeleteRoom(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// SendMessage {room_id, text} -> {images_sent, text_sent}
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Attach {room_id | scope, owner_id; paths[]} -> {attachments[], errors[]}
	Attach(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// CancelAttachment {room_id | scope, owner_id; local_ref}
	CancelAttachment(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// PendingAttachments {room_id | scope, owner_id} -> {attachments[], ready_ids[]}
	PendingAttachments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// History {room_id, limit} -> {room_id, source, items[]}
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// WatchEvents {prefix} streams {event_id, profile, kind, occurred_at_unix_ms, payload}
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// ServiceDesc registers a ChatDaemonServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatDaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ChatDaemonServer.GetStatus),
		unary("ListRooms", ChatDaemonServer.ListRooms),
		unary("RefreshRooms", ChatDaemonServer.RefreshRooms),
		unary("OpenRoom", ChatDaemonServer.OpenRoom),
		unary("CloseRoom", ChatDaemonServer.CloseRoom),
		unary("CreateRoom", ChatDaemonServer.CreateRoom),
		unary("DeleteRoom", ChatDaemonServer.DeleteRoom),
		unary("SendMessage", ChatDaemonServer.SendMessage),
		unary("Attach", ChatDaemonServer.Attach),
		unary("CancelAttachment", ChatDaemonServer.CancelAttachment),
		unary("PendingAttachments", ChatDaemonServer.PendingAttachments),
		unary("History", ChatDaemonServer.History),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ChatDaemonServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor of one request/response call.
func unary[Req, Resp proto.Message](name string, call func(ChatDaemonServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newMessage[Req]()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatDaemonServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatDaemonServer), ctx, req.(Req))
			})
		},
	}
}

// newMessage allocates the concrete message behind a pointer type parameter.
func newMessage[M proto.Message]() M {
	var zero M
	return zero.ProtoReflect().Type().New().Interface().(M)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatDaemonServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
