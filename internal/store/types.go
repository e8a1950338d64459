package store

// Room is the cached summary of one chat room.
type Room struct {
	RoomID          string
	LastMessageText string
	LastMessageAt   int64 // unix millis
	UnreadCount     int
	MemberCount     int
}

// Message is a cached confirmed message.
type Message struct {
	ID           int64 // local arrival order
	RoomID       string
	MsgID        string
	SenderID     string
	Body         string
	Kind         string
	ThumbnailURL string
	OriginalURL  string
	CreatedAt    int64 // unix millis
}
