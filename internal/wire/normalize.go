package wire

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"go.uber.org/zap"
)

// statusDeleted marks a message removed on the server.
const statusDeleted = "DELETED"

// localLayouts are the zone-less timestamp layouts the backend emits.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// Normalizer maps raw payloads to Events for one caller.
type Normalizer struct {
	callerID string
	source   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewNormalizer creates a normalizer that resolves FromMe against callerID.
// source names the channel or operation the payloads come from, for errors.
func NewNormalizer(callerID, source string, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		callerID: callerID,
		source:   source,
		logger:   logger,
		now:      time.Now,
	}
}

// Normalize parses raw and returns nil if it is not a usable event.
// Failures are logged, never returned.
func (n *Normalizer) Normalize(raw []byte) Event {
	evt, err := n.Parse(raw)
	if err != nil {
		n.logger.Warn("dropping payload", zap.String("source", n.source), zap.Error(err))
		return nil
	}
	return evt
}

// Parse decodes raw into a *Message or a Deletion.
func (n *Normalizer) Parse(raw []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &chaterr.DecodeError{Source: n.source, Err: err}
	}
	return n.fromPayload(&p)
}

// ParsePage decodes a JSON array of messages, as returned by the REST
// history endpoint. Deleted items are skipped; a malformed item fails the page.
func (n *Normalizer) ParsePage(raw []byte) ([]Message, error) {
	var items []payload
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &chaterr.DecodeError{Source: n.source, Err: err}
	}
	msgs := make([]Message, 0, len(items))
	for i := range items {
		evt, err := n.fromPayload(&items[i])
		if err != nil {
			return nil, err
		}
		if m, ok := evt.(*Message); ok {
			msgs = append(msgs, *m)
		}
	}
	return msgs, nil
}

func (n *Normalizer) fromPayload(p *payload) (Event, error) {
	id := p.ID
	if id == "" {
		id = p.MongoID
	}
	if id == "" {
		return nil, &chaterr.DecodeError{Source: n.source, Field: "id"}
	}

	if strings.EqualFold(p.Status, statusDeleted) || p.IsDeleted {
		return Deletion{MessageID: string(id), RoomID: string(p.RoomID)}, nil
	}
	if p.RoomID == "" {
		return nil, &chaterr.DecodeError{Source: n.source, Field: "chat_room_id"}
	}

	sender := p.SenderID
	if sender == "" {
		sender = p.SenderIDAlt
	}

	return &Message{
		ID:           string(id),
		RoomID:       string(p.RoomID),
		SenderID:     string(sender),
		FromMe:       sender != "" && string(sender) == n.callerID,
		Body:         p.Message,
		Kind:         detectKind(p),
		ThumbnailURL: p.ThumbnailURL,
		OriginalURL:  p.OriginalURL,
		CreatedAt:    n.parseTime(p.CreatedAt),
		UnreadCount:  max(p.UnreadCount, 0),
	}, nil
}

func detectKind(p *payload) Kind {
	switch strings.ToUpper(p.Type) {
	case string(KindImage):
		return KindImage
	case string(KindText):
		return KindText
	}
	if p.OriginalURL != "" {
		return KindImage
	}
	return KindText
}

func (n *Normalizer) parseTime(raw json.RawMessage) time.Time {
	if t, ok := ParseTimestamp(raw); ok {
		return t
	}
	return n.now()
}

// ParseTimestamp accepts RFC 3339, zone-less local timestamps and epoch
// milliseconds. ok is false for null, empty or unrecognised values.
func ParseTimestamp(raw json.RawMessage) (t time.Time, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	if raw[0] != '"' {
		if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
