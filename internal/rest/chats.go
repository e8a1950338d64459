package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/wire"
)

var _ rooms.Fetcher = (*Client)(nil)

type roomPayload struct {
	RoomID          wire.ID         `json:"room_id"`
	ChatRoomID      wire.ID         `json:"chat_room_id"`
	LastMessage     string          `json:"last_message"`
	LastMessageTime json.RawMessage `json:"last_message_time"`
	UnreadCount     int             `json:"unread_count"`
	MemberCount     int             `json:"member_count"`
}

// CreateRoom opens a room with the given members and returns its id.
func (c *Client) CreateRoom(ctx context.Context, memberIDs []string) (string, error) {
	const op = "create room"
	if len(memberIDs) == 0 {
		return "", &chaterr.ValidationError{Field: "member_ids", Reason: "at least one member is required"}
	}
	ids := make([]wire.ID, len(memberIDs))
	for i, m := range memberIDs {
		ids[i] = wire.ID(m)
	}
	data, err := c.call(ctx, op, http.MethodPost, "/chats/chat-room", nil, map[string]any{"member_ids": ids})
	if err != nil {
		return "", err
	}
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", &chaterr.DecodeError{Source: op, Err: err}
	}
	id := p.RoomID
	if id == "" {
		id = p.ChatRoomID
	}
	if id == "" {
		return "", &chaterr.DecodeError{Source: op, Field: "room_id"}
	}
	return string(id), nil
}

// ListRooms returns the caller's rooms in server order. Unread counts in the
// listing are kept; the aggregator overwrites them per room.
func (c *Client) ListRooms(ctx context.Context) ([]rooms.Summary, error) {
	const op = "list rooms"
	data, err := c.call(ctx, op, http.MethodGet, "/chats/chat-rooms", nil, nil)
	if err != nil {
		return nil, err
	}
	var items []roomPayload
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &chaterr.DecodeError{Source: op, Err: err}
		}
	}
	out := make([]rooms.Summary, 0, len(items))
	for _, p := range items {
		id := p.RoomID
		if id == "" {
			id = p.ChatRoomID
		}
		if id == "" {
			return nil, &chaterr.DecodeError{Source: op, Field: "room_id"}
		}
		s := rooms.Summary{
			RoomID:          string(id),
			LastMessageText: p.LastMessage,
			UnreadCount:     max(p.UnreadCount, 0),
			MemberCount:     p.MemberCount,
		}
		if t, ok := wire.ParseTimestamp(p.LastMessageTime); ok {
			s.LastMessageAt = t
		}
		out = append(out, s)
	}
	return out, nil
}

// UnreadCount returns the caller's unread count in a room. The endpoint
// answers with either a bare number or the usual envelope.
func (c *Client) UnreadCount(ctx context.Context, roomID string) (int, error) {
	const op = "unread count"
	raw, status, err := c.do(ctx, op, http.MethodGet, roomPath(roomID, "unread"), nil, nil)
	if err != nil {
		return 0, err
	}
	if status >= 200 && status <= 299 {
		if n, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			return max(n, 0), nil
		}
	}
	data, err := decodeEnvelope(op, status, raw)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		var wrapped struct {
			UnreadCount int `json:"unread_count"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return 0, &chaterr.DecodeError{Source: op, Field: "data", Err: err}
		}
		n = wrapped.UnreadCount
	}
	return max(n, 0), nil
}

// Messages returns the raw history page of a room, for wire.Normalizer.ParsePage.
func (c *Client) Messages(ctx context.Context, roomID string) (json.RawMessage, error) {
	data, err := c.call(ctx, "list messages", http.MethodGet, roomPath(roomID, "messages"), nil, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return data, nil
}

// SendMessage posts a text message.
func (c *Client) SendMessage(ctx context.Context, roomID, text string) error {
	_, err := c.call(ctx, "send message", http.MethodPost, roomPath(roomID, "message"), nil, map[string]string{"message": text})
	return err
}

// SendImageMessages posts one image message per uploaded image id.
func (c *Client) SendImageMessages(ctx context.Context, roomID string, imageIDs []string) error {
	if len(imageIDs) == 0 {
		return &chaterr.ValidationError{Field: "image_ids", Reason: "no uploaded images"}
	}
	ids := make([]wire.ID, len(imageIDs))
	for i, id := range imageIDs {
		ids[i] = wire.ID(id)
	}
	_, err := c.call(ctx, "send image messages", http.MethodPost, roomPath(roomID, "image-messages"), nil, map[string]any{"image_ids": ids})
	return err
}

// DeleteRoom removes a room on the backend.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, "delete room", http.MethodDelete, "/chats/chat-room/"+url.PathEscape(roomID), nil, nil)
	return err
}
