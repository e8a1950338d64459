// Package sync feeds the notification channel into the room list and keeps
// the local cache in step with the in-memory state.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/store"
	"github.com/taptoon/taptoon-fe/internal/wire"
	"go.uber.org/zap"
)

// previewLen bounds the cached last-message text.
const previewLen = 100

// Engine applies notification frames to the aggregator and mirrors room and
// message changes published on the bus into the cache. db may be nil, in
// which case nothing is cached.
type Engine struct {
	db         *store.DB
	aggregator *rooms.Aggregator
	normalizer *wire.Normalizer
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, agg *rooms.Aggregator, n *wire.Normalizer, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		aggregator: agg,
		normalizer: n,
		bus:        b,
		logger:     logger,
	}
}

// WarmStart binds the cache to userID and seeds the aggregator from it.
// Returns the number of cached rooms.
func (e *Engine) WarmStart(userID string) (int, error) {
	if e.db == nil {
		return 0, nil
	}
	wiped, err := e.db.ClaimOwner(userID)
	if err != nil {
		return 0, fmt.Errorf("claim cache: %w", err)
	}
	if wiped {
		e.logger.Info("cache belonged to another user, wiped")
	}
	cached, err := e.db.ListRooms()
	if err != nil {
		return 0, fmt.Errorf("read cached rooms: %w", err)
	}
	list := make([]rooms.Summary, len(cached))
	for i, r := range cached {
		list[i] = rooms.Summary{
			RoomID:          r.RoomID,
			LastMessageText: r.LastMessageText,
			UnreadCount:     r.UnreadCount,
			MemberCount:     r.MemberCount,
		}
		if r.LastMessageAt > 0 {
			list[i].LastMessageAt = time.UnixMilli(r.LastMessageAt)
		}
	}
	e.aggregator.Seed(list)
	return len(list), nil
}

// HandleNotification is the frame handler of the notification channel. A
// message moves its room to the front of the list with the backend's unread
// count.
func (e *Engine) HandleNotification(raw []byte) {
	evt := e.normalizer.Normalize(raw)
	switch v := evt.(type) {
	case *wire.Message:
		s := e.aggregator.ApplyPush(v.RoomID, v.Preview(), v.CreatedAt, v.UnreadCount)
		e.logger.Debug("notification applied",
			zap.String("room_id", s.RoomID),
			zap.String("msg_id", v.ID),
			zap.Int("unread", s.UnreadCount))
	case wire.Deletion:
		if e.db == nil {
			return
		}
		if _, err := e.db.DeleteMessage(v.RoomID, v.MessageID); err != nil {
			e.logger.Error("failed to drop cached message", zap.String("msg_id", v.MessageID), zap.Error(err))
		}
	}
}

// Start mirrors "room." and "rooms." events into the cache until Stop.
func (e *Engine) Start(ctx context.Context) {
	if e.db == nil || e.bus == nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	roomCh, unsubRoom := e.bus.Subscribe("room.", 256)
	listCh, unsubList := e.bus.Subscribe("rooms.", 64)

	go func() {
		defer close(e.done)
		defer unsubRoom()
		defer unsubList()
		for {
			select {
			case evt := <-roomCh:
				e.handleEvent(evt)
			case evt := <-listCh:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the mirror loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if err := e.apply(evt); err != nil {
		e.logger.Error("failed to update cache", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (e *Engine) apply(evt bus.Event) error {
	switch evt.Kind {
	case bus.KindRoomsUpdated:
		list, ok := evt.Payload.([]rooms.Summary)
		if !ok {
			return nil
		}
		return e.CacheRooms(list)
	case bus.KindRoomsRemoved:
		roomID, ok := evt.Payload.(string)
		if !ok {
			return nil
		}
		return e.db.DeleteRoom(roomID)
	case bus.KindRoomMessage:
		msg, ok := evt.Payload.(wire.Message)
		if !ok {
			return nil
		}
		return e.db.UpsertMessage(toStore(msg))
	case bus.KindRoomDeletion:
		del, ok := evt.Payload.(wire.Deletion)
		if !ok {
			return nil
		}
		_, err := e.db.DeleteMessage(del.RoomID, del.MessageID)
		return err
	case bus.KindRoomHistory:
		h, ok := evt.Payload.(wire.History)
		if !ok {
			return nil
		}
		msgs := make([]store.Message, len(h.Messages))
		for i, m := range h.Messages {
			msgs[i] = *toStore(m)
		}
		return e.db.ReplaceMessages(h.RoomID, msgs)
	}
	return nil
}

// CacheRooms replaces the cached room list with list, keeping its order.
func (e *Engine) CacheRooms(list []rooms.Summary) error {
	if e.db == nil {
		return nil
	}
	cached := make([]store.Room, len(list))
	for i, s := range list {
		cached[i] = store.Room{
			RoomID:          s.RoomID,
			LastMessageText: truncate(s.LastMessageText, previewLen),
			UnreadCount:     s.UnreadCount,
			MemberCount:     s.MemberCount,
		}
		if !s.LastMessageAt.IsZero() {
			cached[i].LastMessageAt = s.LastMessageAt.UnixMilli()
		}
	}
	return e.db.ReplaceRooms(cached)
}

// CachedMessages returns the cached history of a room, for display before
// the REST page arrives.
func (e *Engine) CachedMessages(roomID, callerID string, limit int) ([]wire.Message, error) {
	if e.db == nil {
		return nil, nil
	}
	cached, err := e.db.ListMessages(roomID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]wire.Message, len(cached))
	for i, m := range cached {
		out[i] = wire.Message{
			ID:           m.MsgID,
			RoomID:       m.RoomID,
			SenderID:     m.SenderID,
			FromMe:       m.SenderID != "" && m.SenderID == callerID,
			Body:         m.Body,
			Kind:         wire.Kind(m.Kind),
			ThumbnailURL: m.ThumbnailURL,
			OriginalURL:  m.OriginalURL,
			CreatedAt:    time.UnixMilli(m.CreatedAt),
		}
	}
	return out, nil
}

func toStore(m wire.Message) *store.Message {
	return &store.Message{
		RoomID:       m.RoomID,
		MsgID:        m.ID,
		SenderID:     m.SenderID,
		Body:         m.Body,
		Kind:         string(m.Kind),
		ThumbnailURL: m.ThumbnailURL,
		OriginalURL:  m.OriginalURL,
		CreatedAt:    m.CreatedAt.UnixMilli(),
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
