package rooms

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taptoon/taptoon-fe/internal/bus"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	rooms     []Summary
	unread    map[string]int
	listErr   error
	unreadErr map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) ListRooms(context.Context) ([]Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "list")
	f.mu.Unlock()
	return f.rooms, f.listErr
}

func (f *fakeFetcher) UnreadCount(_ context.Context, roomID string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "unread:"+roomID)
	f.mu.Unlock()
	if err := f.unreadErr[roomID]; err != nil {
		return 0, err
	}
	return f.unread[roomID], nil
}

func roomIDs(list []Summary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.RoomID
	}
	return out
}

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0)
}

func TestRefreshFetchesUnreadPerRoom(t *testing.T) {
	f := &fakeFetcher{
		rooms: []Summary{
			{RoomID: "a", LastMessageText: "hi", MemberCount: 2},
			{RoomID: "b", LastMessageText: "yo", MemberCount: 3},
		},
		unread: map[string]int{"a": 4, "b": 0},
	}
	agg := NewAggregator(f, nil, zap.NewNop())

	require.NoError(t, agg.Refresh(context.Background()))

	require.NotEmpty(t, f.calls)
	assert.Equal(t, "list", f.calls[0])
	unreadCalls := append([]string(nil), f.calls[1:]...)
	sort.Strings(unreadCalls)
	assert.Equal(t, []string{"unread:a", "unread:b"}, unreadCalls)
	list := agg.List()
	require.Len(t, list, 2)
	assert.Equal(t, 4, list[0].UnreadCount)
	assert.Equal(t, 3, list[1].MemberCount)
	assert.Equal(t, 4, agg.TotalUnread())
}

func TestRefreshFailureLeavesContents(t *testing.T) {
	f := &fakeFetcher{
		rooms:     []Summary{{RoomID: "a"}, {RoomID: "b"}},
		unreadErr: map[string]error{"b": errors.New("boom")},
	}
	agg := NewAggregator(f, nil, zap.NewNop())
	agg.Seed([]Summary{{RoomID: "cached", UnreadCount: 1}})

	err := agg.Refresh(context.Background())

	require.Error(t, err)
	assert.Equal(t, []string{"cached"}, roomIDs(agg.List()))
}

func TestApplyPushMovesRoomToFront(t *testing.T) {
	agg := NewAggregator(&fakeFetcher{}, nil, zap.NewNop())
	agg.Seed([]Summary{
		{RoomID: "C", LastMessageAt: at(3)},
		{RoomID: "B", LastMessageAt: at(2)},
		{RoomID: "A", LastMessageAt: at(1), MemberCount: 2},
	})

	updated := agg.ApplyPush("A", "new", at(4), 7)

	assert.Equal(t, []string{"A", "C", "B"}, roomIDs(agg.List()))
	assert.Equal(t, 2, updated.MemberCount)
	assert.Equal(t, 7, updated.UnreadCount)
	assert.Equal(t, "new", updated.LastMessageText)
}

func TestApplyPushSameTimestampKeepsPushOrder(t *testing.T) {
	agg := NewAggregator(&fakeFetcher{}, nil, zap.NewNop())
	agg.Seed([]Summary{{RoomID: "A"}, {RoomID: "B"}})

	agg.ApplyPush("B", "x", at(5), 1)
	agg.ApplyPush("A", "y", at(5), 1)

	assert.Equal(t, []string{"A", "B"}, roomIDs(agg.List()))
}

func TestApplyPushUnseenRoom(t *testing.T) {
	agg := NewAggregator(&fakeFetcher{}, nil, zap.NewNop())
	agg.Seed([]Summary{{RoomID: "A"}})

	agg.ApplyPush("Z", "hello", at(9), 1)

	list := agg.List()
	assert.Equal(t, []string{"Z", "A"}, roomIDs(list))
	assert.Equal(t, 0, list[0].MemberCount)
}

func TestRemove(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("rooms.", 10)
	defer unsub()

	agg := NewAggregator(&fakeFetcher{}, b, zap.NewNop())
	agg.Seed([]Summary{{RoomID: "A"}, {RoomID: "B"}})

	assert.True(t, agg.Remove("A"))
	assert.False(t, agg.Remove("A"))
	assert.Equal(t, []string{"B"}, roomIDs(agg.List()))

	evt := <-ch
	assert.Equal(t, bus.KindRoomsRemoved, evt.Kind)
	assert.Equal(t, "A", evt.Payload)
}

func TestRemoveLeavesPublishedListIntact(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindRoomsUpdated, 10)
	defer unsub()

	f := &fakeFetcher{rooms: []Summary{{RoomID: "a"}, {RoomID: "b"}, {RoomID: "c"}}}
	agg := NewAggregator(f, b, zap.NewNop())
	require.NoError(t, agg.Refresh(context.Background()))

	require.True(t, agg.Remove("a"))
	agg.ApplyPush("c", "new", at(5), 1)

	refreshed := (<-ch).Payload.([]Summary)
	assert.Equal(t, []string{"a", "b", "c"}, roomIDs(refreshed))
	pushed := (<-ch).Payload.([]Summary)
	assert.Equal(t, []string{"c", "b"}, roomIDs(pushed))
	assert.Equal(t, "", refreshed[2].LastMessageText)
}

func TestSeedDedupes(t *testing.T) {
	agg := NewAggregator(&fakeFetcher{}, nil, zap.NewNop())
	agg.Seed([]Summary{{RoomID: "A"}, {RoomID: "A"}, {RoomID: "B"}})

	assert.Equal(t, []string{"A", "B"}, roomIDs(agg.List()))
	_, ok := agg.Get("B")
	assert.True(t, ok)
}
