package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chat"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/socket"
	intsync "github.com/taptoon/taptoon-fe/internal/sync"
	"github.com/taptoon/taptoon-fe/internal/upload"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultHistoryLimit = 100

// Deps are the components a Service exposes.
type Deps struct {
	Profile       string
	Identity      identity.Identity
	Rooms         *rooms.Aggregator
	Hub           *chat.Hub
	Engine        *intsync.Engine
	Notifications *socket.Manager
	Forms         *upload.Forms
	Bus           *bus.Bus
	Logger        *zap.Logger
}

// Service implements ChatDaemonServer.
type Service struct {
	deps      Deps
	startedAt time.Time
	logger    *zap.Logger
}

var _ ChatDaemonServer = (*Service)(nil)

// NewService creates the control service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: d, startedAt: time.Now(), logger: logger}
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := map[string]any{
		"profile":   s.deps.Profile,
		"user_id":   s.deps.Identity.UserID,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if n := s.deps.Notifications; n != nil {
		fields["notifications"] = map[string]any{
			"channel":     n.Channel().Name,
			"state":       string(n.State()),
			"retry_count": n.RetryCount(),
		}
	}
	if s.deps.Rooms != nil {
		fields["rooms"] = len(s.deps.Rooms.List())
		fields["total_unread"] = s.deps.Rooms.TotalUnread()
	}
	if s.deps.Hub != nil {
		var open []any
		for _, id := range s.deps.Hub.OpenRooms() {
			if r, ok := s.deps.Hub.Get(id); ok {
				open = append(open, map[string]any{"room_id": id, "state": string(r.Status())})
			}
		}
		fields["open_rooms"] = open
	}
	if s.deps.Bus != nil {
		fields["bus_dropped"] = s.deps.Bus.Dropped()
	}
	return toStruct(fields)
}

func (s *Service) ListRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"rooms": roomList(s.deps.Rooms.List())})
}

func (s *Service) RefreshRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.deps.Rooms.Refresh(ctx); err != nil {
		s.logger.Warn("room refresh failed", zap.Error(err))
		return nil, toStatus("refresh rooms", err)
	}
	return s.ListRooms(ctx, nil)
}

func (s *Service) OpenRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		r   *chat.Room
		err error
	)
	if receiver := str(in, "receiver_id"); receiver != "" && str(in, "room_id") == "" {
		r, err = s.deps.Hub.OpenWithReceiver(ctx, receiver)
	} else {
		r, err = s.deps.Hub.Open(ctx, str(in, "room_id"))
	}
	if err != nil {
		return nil, toStatus("open room", err)
	}
	return toStruct(map[string]any{
		"room_id": r.ID(),
		"state":   string(r.Status()),
		"items":   timelineList(r.Timeline()),
	})
}

func (s *Service) CloseRoom(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	roomID := str(in, "room_id")
	if !s.deps.Hub.Close(roomID) {
		return nil, grpcstatus.Errorf(codes.NotFound, "room %q is not open", roomID)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) CreateRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.deps.Hub.OpenWithReceiver(ctx, str(in, "receiver_id"))
	if err != nil {
		return nil, toStatus("create room", err)
	}
	return toStruct(map[string]any{"room_id": r.ID()})
}

func (s *Service) DeleteRoom(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	roomID := str(in, "room_id")
	if roomID == "" {
		return nil, toStatus("delete room", &chaterr.ValidationError{Field: "room_id", Reason: "required"})
	}
	if err := s.deps.Hub.Delete(ctx, roomID); err != nil {
		return nil, toStatus("delete room", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.deps.Hub.Open(ctx, str(in, "room_id"))
	if err != nil {
		return nil, toStatus("send", err)
	}
	res, err := r.Send(ctx, str(in, "text"))
	if err != nil {
		return nil, toStatus("send", err)
	}
	return toStruct(map[string]any{"images_sent": res.ImagesSent, "text_sent": res.TextSent})
}

func (s *Service) Attach(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	paths := strList(in, "paths")
	if len(paths) == 0 {
		return nil, toStatus("attach", &chaterr.ValidationError{Field: "paths", Reason: "no files given"})
	}
	files := make([]upload.File, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "attach: %v", err)
		}
		files[i] = upload.File{Name: filepath.Base(p), Data: data}
	}

	var (
		atts []upload.Attachment
		err  error
	)
	if scope := str(in, "scope"); scope != "" && scope != string(upload.ScopeChat) {
		form, ferr := s.openForm(scope, str(in, "owner_id"))
		if ferr != nil {
			return nil, toStatus("attach", ferr)
		}
		atts, err = form.Select(ctx, files)
	} else {
		r, oerr := s.deps.Hub.Open(ctx, str(in, "room_id"))
		if oerr != nil {
			return nil, toStatus("attach", oerr)
		}
		atts, err = r.Attach(ctx, files)
	}
	var valErr *chaterr.ValidationError
	if errors.As(err, &valErr) {
		return nil, toStatus("attach", err)
	}

	// Per-file failures are reported next to the attachments they concern.
	var errs []any
	for _, a := range atts {
		if a.Err != nil {
			errs = append(errs, a.FileName+": "+a.Err.Error())
		}
	}
	return toStruct(map[string]any{"attachments": attachmentList(atts), "errors": errs})
}

func (s *Service) CancelAttachment(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	pending, err := s.pendingSet(in)
	if err != nil {
		return nil, err
	}
	if err := pending.Cancel(ctx, str(in, "local_ref")); err != nil {
		return nil, toStatus("cancel attachment", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) PendingAttachments(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pending, err := s.pendingSet(in)
	if err != nil {
		return nil, err
	}
	ready := make([]any, 0)
	for _, id := range pending.ReadyIDs() {
		ready = append(ready, id)
	}
	return toStruct(map[string]any{
		"attachments": attachmentList(pending.Pending()),
		"ready_ids":   ready,
	})
}

// attachmentSet is what CancelAttachment and PendingAttachments need from a
// room or a form.
type attachmentSet interface {
	Cancel(ctx context.Context, localRef string) error
	Pending() []upload.Attachment
	ReadyIDs() []string
}

// roomAttachments adapts an open room to attachmentSet.
type roomAttachments struct{ r *chat.Room }

func (a roomAttachments) Cancel(ctx context.Context, localRef string) error {
	return a.r.CancelAttachment(ctx, localRef)
}
func (a roomAttachments) Pending() []upload.Attachment { return a.r.Pending() }
func (a roomAttachments) ReadyIDs() []string           { return a.r.ReadyIDs() }

// pendingSet resolves {scope, owner_id} to a form, or {room_id} to an open
// room. Neither is created here.
func (s *Service) pendingSet(in *structpb.Struct) (attachmentSet, error) {
	if scope := str(in, "scope"); scope != "" && scope != string(upload.ScopeChat) {
		parsed, err := upload.ParseScope(scope)
		if err != nil {
			return nil, toStatus("attachments", err)
		}
		ownerID := str(in, "owner_id")
		if s.deps.Forms != nil {
			if form, ok := s.deps.Forms.Get(parsed, ownerID); ok {
				return form, nil
			}
		}
		return nil, grpcstatus.Errorf(codes.NotFound, "no attachments for %s %q", scope, ownerID)
	}
	roomID := str(in, "room_id")
	r, ok := s.deps.Hub.Get(roomID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "room %q is not open", roomID)
	}
	return roomAttachments{r}, nil
}

func (s *Service) openForm(scope, ownerID string) (*upload.Coordinator, error) {
	parsed, err := upload.ParseScope(scope)
	if err != nil {
		return nil, err
	}
	if s.deps.Forms == nil {
		return nil, &chaterr.ValidationError{Field: "scope", Reason: scope + " uploads are not available"}
	}
	return s.deps.Forms.Open(parsed, ownerID)
}

func (s *Service) History(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	roomID := str(in, "room_id")
	if roomID == "" {
		return nil, toStatus("history", &chaterr.ValidationError{Field: "room_id", Reason: "required"})
	}
	if r, ok := s.deps.Hub.Get(roomID); ok {
		return toStruct(map[string]any{
			"room_id": roomID,
			"source":  "live",
			"items":   timelineList(r.Timeline()),
		})
	}

	limit := num(in, "limit")
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.deps.Engine.CachedMessages(roomID, s.deps.Identity.UserID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "history: %v", err)
	}
	return toStruct(map[string]any{
		"room_id": roomID,
		"source":  "cache",
		"items":   messageList(msgs),
	})
}

func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	prefix := str(in, "prefix")
	ch, unsub := s.deps.Bus.Subscribe(prefix, 256)
	defer unsub()
	s.logger.Debug("event watcher attached", zap.String("prefix", prefix))

	for {
		select {
		case evt := <-ch:
			out, err := toStruct(map[string]any{
				"event_id":            uuid.NewString(),
				"profile":             s.deps.Profile,
				"kind":                evt.Kind,
				"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
				"payload":             eventPayload(evt.Payload),
			})
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
