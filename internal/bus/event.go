package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by prefix
// ("socket.", "room.", "rooms.", "upload.", "outbox.").
const (
	KindSocketStatus      = "socket.status_changed"
	KindSocketDecodeError = "socket.decode_error"
	KindRoomMessage       = "room.message"
	KindRoomDeletion      = "room.deleted_message"
	KindRoomHistory       = "room.history_loaded"
	KindRoomsUpdated      = "rooms.updated"
	KindRoomsRemoved      = "rooms.removed"
	KindUploadChanged     = "upload.changed"
	KindSendAck           = "outbox.sent"
	KindSendFailed        = "outbox.failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
