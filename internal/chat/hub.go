package chat

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"go.uber.org/zap"
)

// HubBackend adds room lifecycle calls to Backend.
type HubBackend interface {
	Backend
	CreateRoom(ctx context.Context, memberIDs []string) (string, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Hub owns the open room views of a profile.
type Hub struct {
	ident      identity.Identity
	backend    HubBackend
	aggregator *rooms.Aggregator
	opts       Options
	bus        *bus.Bus
	logger     *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a hub with no open rooms.
func NewHub(ident identity.Identity, backend HubBackend, agg *rooms.Aggregator, opts Options, b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		ident:      ident,
		backend:    backend,
		aggregator: agg,
		opts:       opts,
		bus:        b,
		logger:     logger,
		rooms:      make(map[string]*Room),
	}
}

// Open returns the open view of roomID, opening it if needed. A room whose
// history cannot be loaded is not kept.
func (h *Hub) Open(ctx context.Context, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, &chaterr.ValidationError{Field: "room_id", Reason: "required"}
	}
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	r := NewRoom(roomID, h.ident, h.backend, h.opts, h.bus, h.logger)
	if err := r.Open(ctx); err != nil {
		r.Close()
		return nil, err
	}

	h.mu.Lock()
	if existing, ok := h.rooms[roomID]; ok {
		// Lost a race with a concurrent Open of the same room.
		h.mu.Unlock()
		r.Close()
		return existing, nil
	}
	h.rooms[roomID] = r
	h.mu.Unlock()
	return r, nil
}

// OpenWithReceiver creates a room with receiverID and opens it.
func (h *Hub) OpenWithReceiver(ctx context.Context, receiverID string) (*Room, error) {
	if receiverID == "" {
		return nil, &chaterr.ValidationError{Field: "receiver_id", Reason: "required"}
	}
	roomID, err := h.backend.CreateRoom(ctx, []string{receiverID})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	h.logger.Info("room created", zap.String("room_id", roomID), zap.String("receiver_id", receiverID))
	return h.Open(ctx, roomID)
}

// Get returns the open view of roomID.
func (h *Hub) Get(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// OpenRooms returns the ids of open rooms, sorted.
func (h *Hub) OpenRooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close closes the view of roomID. Reports whether it was open.
func (h *Hub) Close(roomID string) bool {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if ok {
		r.Close()
	}
	return ok
}

// Delete deletes the room on the backend, then closes its view and drops it
// from the room list. Nothing changes locally if the backend refuses.
func (h *Hub) Delete(ctx context.Context, roomID string) error {
	if err := h.backend.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	h.Close(roomID)
	if h.aggregator != nil {
		h.aggregator.Remove(roomID)
	}
	h.logger.Info("room deleted", zap.String("room_id", roomID))
	return nil
}

// CloseAll closes every open room.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	open := h.rooms
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()
	for _, r := range open {
		r.Close()
	}
}
