// Package rooms maintains the caller's room list, most recently active first.
package rooms

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// unreadFetchLimit bounds concurrent unread-count requests during Refresh.
const unreadFetchLimit = 4

// Summary is the list-view representation of one conversation.
type Summary struct {
	RoomID          string
	LastMessageText string
	LastMessageAt   time.Time
	UnreadCount     int
	MemberCount     int
}

// Fetcher is the REST side of the aggregator.
type Fetcher interface {
	ListRooms(ctx context.Context) ([]Summary, error)
	UnreadCount(ctx context.Context, roomID string) (int, error)
}

// Aggregator holds exactly one Summary per room, in display order.
type Aggregator struct {
	mu      sync.RWMutex
	list    []Summary
	fetcher Fetcher
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewAggregator creates an empty aggregator. b may be nil.
func NewAggregator(fetcher Fetcher, b *bus.Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		bus:     b,
		logger:  logger,
	}
}

// Refresh refetches the room list and every room's unread count, then
// replaces the contents. On error the contents are left untouched.
func (a *Aggregator) Refresh(ctx context.Context) error {
	fetched, err := a.fetcher.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	list := make([]Summary, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, s := range fetched {
		if seen[s.RoomID] {
			continue
		}
		seen[s.RoomID] = true
		list = append(list, s)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadFetchLimit)
	for i := range list {
		g.Go(func() error {
			unread, err := a.fetcher.UnreadCount(gctx, list[i].RoomID)
			if err != nil {
				return fmt.Errorf("unread count for room %s: %w", list[i].RoomID, err)
			}
			list[i].UnreadCount = max(unread, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.mu.Lock()
	a.list = list
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.logger.Info("room list refreshed", zap.Int("rooms", len(list)))
	a.publish(bus.KindRoomsUpdated, snapshot)
	return nil
}

// Seed installs a cached list without touching the network. Used for warm starts.
func (a *Aggregator) Seed(list []Summary) {
	deduped := make([]Summary, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		if seen[s.RoomID] {
			continue
		}
		seen[s.RoomID] = true
		deduped = append(deduped, s)
	}
	a.mu.Lock()
	a.list = deduped
	a.mu.Unlock()
}

// ApplyPush upserts the room and moves it to the front of the list,
// whatever its previous position. Returns the updated summary.
func (a *Aggregator) ApplyPush(roomID, lastMessageText string, at time.Time, unreadCount int) Summary {
	a.mu.Lock()
	updated := Summary{RoomID: roomID}
	rest := make([]Summary, 0, len(a.list)+1)
	for _, s := range a.list {
		if s.RoomID == roomID {
			updated = s
			continue
		}
		rest = append(rest, s)
	}
	updated.LastMessageText = lastMessageText
	updated.LastMessageAt = at
	updated.UnreadCount = max(unreadCount, 0)
	a.list = append([]Summary{updated}, rest...)
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.publish(bus.KindRoomsUpdated, snapshot)
	return updated
}

// Remove deletes the room's summary. Reports whether it existed. The list
// is replaced, never edited in place, so published snapshots stay intact.
func (a *Aggregator) Remove(roomID string) bool {
	a.mu.Lock()
	i := slices.IndexFunc(a.list, func(s Summary) bool { return s.RoomID == roomID })
	removed := i >= 0
	if removed {
		a.list = slices.Delete(slices.Clone(a.list), i, i+1)
	}
	a.mu.Unlock()

	if removed {
		a.publish(bus.KindRoomsRemoved, roomID)
	}
	return removed
}

// List returns a snapshot in display order.
func (a *Aggregator) List() []Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Get returns the summary for roomID.
func (a *Aggregator) Get(roomID string) (Summary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.list {
		if s.RoomID == roomID {
			return s, true
		}
	}
	return Summary{}, false
}

// TotalUnread sums the unread badges of every room.
func (a *Aggregator) TotalUnread() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, s := range a.list {
		total += s.UnreadCount
	}
	return total
}

func (a *Aggregator) snapshotLocked() []Summary {
	out := make([]Summary, len(a.list))
	copy(out, a.list)
	return out
}

func (a *Aggregator) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
