// Package chat runs open room views: history, the room's socket, pending
// attachments and sending.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/conversation"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"github.com/taptoon/taptoon-fe/internal/outbox"
	"github.com/taptoon/taptoon-fe/internal/socket"
	"github.com/taptoon/taptoon-fe/internal/status"
	"github.com/taptoon/taptoon-fe/internal/upload"
	"github.com/taptoon/taptoon-fe/internal/wire"
	"go.uber.org/zap"
)

// Backend is everything a room view needs from the REST client.
type Backend interface {
	outbox.Backend
	upload.Backend
	Messages(ctx context.Context, roomID string) (json.RawMessage, error)
}

// Options configures the rooms a Hub opens.
type Options struct {
	WSBase    string
	Policy    socket.Policy
	ChatLimit int
	Dialer    socket.Dialer
	AfterFunc func(d time.Duration, f func()) socket.Timer
	OnError   socket.ErrorHandler
}

// Room is one open conversation.
type Room struct {
	id         string
	ident      identity.Identity
	backend    Backend
	store      *conversation.Store
	uploads    *upload.Coordinator
	sender     *outbox.Sender
	normalizer *wire.Normalizer
	socket     *socket.Manager
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewRoom creates a closed room view. Call Open to load it.
func NewRoom(roomID string, ident identity.Identity, backend Backend, opts Options, b *bus.Bus, logger *zap.Logger) *Room {
	logger = logger.With(zap.String("room_id", roomID))
	r := &Room{
		id:         roomID,
		ident:      ident,
		backend:    backend,
		store:      conversation.New(roomID),
		uploads:    upload.NewCoordinator(upload.ScopeChat, roomID, opts.ChatLimit, backend, b, logger),
		sender:     outbox.NewSender(backend, b, logger),
		normalizer: wire.NewNormalizer(ident.UserID, "room:"+roomID, logger),
		bus:        b,
		logger:     logger,
	}
	r.socket = socket.NewManager(socket.Room(opts.WSBase, roomID), r.handleFrame, socket.Options{
		Policy:    opts.Policy,
		Dialer:    opts.Dialer,
		AfterFunc: opts.AfterFunc,
		OnError:   opts.OnError,
		Bus:       b,
	}, logger)
	return r
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// Open loads the REST history into the store and then connects the room's
// socket, so pushes are applied on top of the history. A history failure
// leaves the store untouched. A failed dial is retried in the background;
// only a rejected credential is returned.
func (r *Room) Open(ctx context.Context) error {
	raw, err := r.backend.Messages(ctx, r.id)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	page, err := r.normalizer.ParsePage(raw)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	r.store.LoadInitial(page)
	r.logger.Info("history loaded", zap.Int("messages", r.store.Len()))
	r.publish(bus.KindRoomHistory, wire.History{RoomID: r.id, Messages: page})

	if err := r.socket.Connect(ctx, r.ident); err != nil {
		var authErr *chaterr.AuthRequiredError
		if errors.As(err, &authErr) {
			return err
		}
		r.logger.Warn("room socket not open yet", zap.Error(err))
	}
	return nil
}

// Reconnect re-opens the room socket after a loss.
func (r *Room) Reconnect(ctx context.Context) error {
	return r.socket.Connect(ctx, r.ident)
}

// Close disconnects the room's socket. Pending attachments are left as they
// are on the backend.
func (r *Room) Close() {
	r.socket.Disconnect()
	r.socket.Wait()
	r.logger.Info("room closed")
}

func (r *Room) handleFrame(raw []byte) {
	switch v := r.normalizer.Normalize(raw).(type) {
	case *wire.Message:
		if v.RoomID != r.id {
			r.logger.Warn("push for another room ignored", zap.String("msg_room_id", v.RoomID), zap.String("msg_id", v.ID))
			return
		}
		if r.store.ApplyPush(*v) {
			r.publish(bus.KindRoomMessage, *v)
		}
	case wire.Deletion:
		if v.RoomID == "" {
			v.RoomID = r.id
		}
		if v.RoomID != r.id {
			return
		}
		if r.store.ApplyDeletion(v.MessageID) {
			r.publish(bus.KindRoomDeletion, v)
		}
	}
}

// Send sends the ready attachments, then text.
func (r *Room) Send(ctx context.Context, text string) (outbox.Result, error) {
	return r.sender.Send(ctx, r.id, text, r.uploads)
}

// Attach uploads files as pending attachments.
func (r *Room) Attach(ctx context.Context, files []upload.File) ([]upload.Attachment, error) {
	return r.uploads.Select(ctx, files)
}

// CancelAttachment drops a pending attachment.
func (r *Room) CancelAttachment(ctx context.Context, localRef string) error {
	err := r.uploads.Cancel(ctx, localRef)
	r.store.RemovePendingAttachmentMessages()
	return err
}

// Messages returns the confirmed messages in arrival order.
func (r *Room) Messages() []conversation.Entry {
	return r.store.Messages()
}

// Pending returns the attachments not yet sent.
func (r *Room) Pending() []upload.Attachment {
	return r.uploads.Pending()
}

// ReadyIDs returns the remote ids of the attachments ready to send.
func (r *Room) ReadyIDs() []string {
	return r.uploads.ReadyIDs()
}

// Status returns the state of the room's socket.
func (r *Room) Status() status.State {
	return r.socket.State()
}

// Item is one line of a room's display: a confirmed message or a pending
// attachment, never both.
type Item struct {
	Message    *wire.Message
	Attachment *upload.Attachment
}

// Timeline merges the confirmed messages with the pending attachments for
// display. Pending attachments always follow the confirmed messages.
func (r *Room) Timeline() []Item {
	entries := r.store.Messages()
	pending := r.uploads.Pending()
	items := make([]Item, 0, len(entries)+len(pending))
	for i := range entries {
		items = append(items, Item{Message: &entries[i].Message})
	}
	for i := range pending {
		items = append(items, Item{Attachment: &pending[i]})
	}
	return items
}

func (r *Room) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
