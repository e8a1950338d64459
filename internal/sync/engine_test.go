package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/store"
	"github.com/taptoon/taptoon-fe/internal/wire"
	"go.uber.org/zap"
)

type nopFetcher struct{}

func (nopFetcher) ListRooms(context.Context) ([]rooms.Summary, error) { return nil, nil }
func (nopFetcher) UnreadCount(context.Context, string) (int, error) { return 0, nil }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEngine(t *testing.T, db *store.DB, b *bus.Bus) (*Engine, *rooms.Aggregator) {
	t.Helper()
	agg := rooms.NewAggregator(nopFetcher{}, b, zap.NewNop())
	n := wire.NewNormalizer("7", "notifications", zap.NewNop())
	return NewEngine(db, agg, n, b, nil), agg
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func TestHandleNotificationMovesRoomToFront(t *testing.T) {
	e, agg := newEngine(t, nil, nil)
	agg.Seed([]rooms.Summary{{RoomID: "3"}, {RoomID: "2"}, {RoomID: "1", MemberCount: 2}})

	e.HandleNotification([]byte(`{"id":50,"chat_room_id":1,"sender_id":9,"message":"hey","created_at":"2025-03-01T10:00:00Z","unread_count":4}`))

	list := agg.List()
	if list[0].RoomID != "1" || list[1].RoomID != "3" || list[2].RoomID != "2" {
		t.Fatalf("order = %v, want [1 3 2]", []string{list[0].RoomID, list[1].RoomID, list[2].RoomID})
	}
	if list[0].LastMessageText != "hey" || list[0].UnreadCount != 4 || list[0].MemberCount != 2 {
		t.Errorf("summary = %+v", list[0])
	}
}

func TestHandleNotificationImagePreview(t *testing.T) {
	e, agg := newEngine(t, nil, nil)

	e.HandleNotification([]byte(`{"id":"a","chat_room_id":"5","original_image_url":"https://img/x.png","unread_count":1}`))

	s, ok := agg.Get("5")
	if !ok {
		t.Fatal("room 5 not created")
	}
	if s.LastMessageText != "[image]" {
		t.Errorf("preview = %q, want [image]", s.LastMessageText)
	}
}

func TestHandleNotificationIgnoresGarbage(t *testing.T) {
	e, agg := newEngine(t, nil, nil)
	agg.Seed([]rooms.Summary{{RoomID: "1"}})

	e.HandleNotification([]byte(`{"message":"no id"}`))
	e.HandleNotification([]byte(`[1,2]`))

	if len(agg.List()) != 1 {
		t.Errorf("got %d rooms, want 1 (unchanged)", len(agg.List()))
	}
}

func TestWarmStartSeedsFromCache(t *testing.T) {
	db := testDB(t)
	if _, err := db.ClaimOwner("7"); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceRooms([]store.Room{{RoomID: "b", LastMessageAt: 2000}, {RoomID: "a", UnreadCount: 3}}); err != nil {
		t.Fatal(err)
	}
	e, agg := newEngine(t, db, nil)

	n, err := e.WarmStart("7")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("seeded %d rooms, want 2", n)
	}
	list := agg.List()
	if list[0].RoomID != "b" || list[1].UnreadCount != 3 {
		t.Errorf("list = %+v", list)
	}
	if !list[1].LastMessageAt.IsZero() {
		t.Errorf("zero timestamp should stay zero, got %v", list[1].LastMessageAt)
	}
}

func TestWarmStartForOtherUserStartsEmpty(t *testing.T) {
	db := testDB(t)
	if _, err := db.ClaimOwner("7"); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceRooms([]store.Room{{RoomID: "a"}}); err != nil {
		t.Fatal(err)
	}
	e, agg := newEngine(t, db, nil)

	n, err := e.WarmStart("8")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(agg.List()) != 0 {
		t.Errorf("seeded %d rooms, want 0 for a different user", n)
	}
}

func TestEngineMirrorsRoomListIntoCache(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e, agg := newEngine(t, db, b)
	e.Start(context.Background())
	defer e.Stop()

	agg.Seed([]rooms.Summary{{RoomID: "1"}, {RoomID: "2"}})
	agg.ApplyPush("2", "latest", time.UnixMilli(5000), 1)

	waitFor(t, "cached push", func() bool {
		cached, _ := db.ListRooms()
		return len(cached) == 2 && cached[0].RoomID == "2" && cached[0].LastMessageText == "latest"
	})

	agg.Remove("1")
	waitFor(t, "cached removal", func() bool {
		cached, _ := db.ListRooms()
		return len(cached) == 1
	})
}

func TestEngineMirrorsRoomMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e, _ := newEngine(t, db, b)
	e.Start(context.Background())
	defer e.Stop()

	now := time.Now()
	b.Publish(bus.Event{Kind: bus.KindRoomHistory, Timestamp: now, Payload: wire.History{
		RoomID: "1",
		Messages: []wire.Message{
			{ID: "m1", RoomID: "1", SenderID: "7", Body: "mine", Kind: wire.KindText, CreatedAt: now},
			{ID: "m2", RoomID: "1", SenderID: "9", Body: "theirs", Kind: wire.KindText, CreatedAt: now},
		},
	}})
	b.Publish(bus.Event{Kind: bus.KindRoomMessage, Timestamp: now, Payload: wire.Message{
		ID: "m3", RoomID: "1", SenderID: "9", Kind: wire.KindImage, OriginalURL: "https://img/o", CreatedAt: now,
	}})
	b.Publish(bus.Event{Kind: bus.KindRoomDeletion, Timestamp: now, Payload: wire.Deletion{MessageID: "m2", RoomID: "1"}})

	var cached []wire.Message
	waitFor(t, "cached messages", func() bool {
		cached, _ = e.CachedMessages("1", "7", 10)
		return len(cached) == 2 && cached[1].ID == "m3"
	})
	if cached[0].ID != "m1" || !cached[0].FromMe {
		t.Errorf("first = %+v, want m1 from me", cached[0])
	}
	if cached[1].Kind != wire.KindImage || cached[1].FromMe {
		t.Errorf("second = %+v, want image from peer", cached[1])
	}
}

func TestEngineWithoutCacheIsInert(t *testing.T) {
	e, _ := newEngine(t, nil, bus.New())
	e.Start(context.Background())
	e.Stop()

	if n, err := e.WarmStart("7"); err != nil || n != 0 {
		t.Errorf("WarmStart = %d, %v; want 0, nil", n, err)
	}
	if msgs, err := e.CachedMessages("1", "7", 10); err != nil || msgs != nil {
		t.Errorf("CachedMessages = %v, %v; want nil, nil", msgs, err)
	}
}
