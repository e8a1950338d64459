package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Kind classifies a chat message.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindImage Kind = "IMAGE"
)

// Message is the canonical chat message, regardless of whether it came
// from a REST page or a socket push.
type Message struct {
	ID           string
	RoomID       string
	SenderID     string
	FromMe       bool
	Body         string
	Kind         Kind
	ThumbnailURL string
	OriginalURL  string
	CreatedAt    time.Time
	UnreadCount  int
	Deleted      bool
}

// Preview returns the text shown for this message in a room list.
func (m *Message) Preview() string {
	if m.Kind == KindImage && m.Body == "" {
		return "[image]"
	}
	return m.Body
}

// Deletion signals that a message was removed on the server.
type Deletion struct {
	MessageID string
	RoomID    string
}

// History is the confirmed history page of a room as fetched over REST.
type History struct {
	RoomID   string
	Messages []Message
}

// Event is the result of normalizing one inbound payload: *Message or Deletion.
type Event interface {
	event()
}

func (*Message) event() {}
func (Deletion) event() {}

// ID is an identifier the backend sends either as a JSON number or a string.
type ID string

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so the backend receives the
// same type it issued.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// payload is the union of every field observed on REST items and socket frames.
type payload struct {
	ID           ID              `json:"id"`
	MongoID      ID              `json:"_id"`
	RoomID       ID              `json:"chat_room_id"`
	SenderID     ID              `json:"sender_id"`
	SenderIDAlt  ID              `json:"senderId"`
	Message      string          `json:"message"`
	ThumbnailURL string          `json:"thumbnail_image_url"`
	OriginalURL  string          `json:"original_image_url"`
	Type         string          `json:"type"`
	CreatedAt    json.RawMessage `json:"created_at"`
	UnreadCount  int             `json:"unread_count"`
	Status       string          `json:"status"`
	IsDeleted    bool            `json:"is_deleted"`
}
