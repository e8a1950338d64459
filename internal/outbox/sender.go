// Package outbox sends what the user composed in a room: the uploaded
// images first, then the text. Nothing is queued; a failed send is reported
// and left for the user to retry.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"go.uber.org/zap"
)

// Backend is the REST side of sending.
type Backend interface {
	SendImageMessages(ctx context.Context, roomID string, imageIDs []string) error
	SendMessage(ctx context.Context, roomID, text string) error
}

// Attachments is the pending image set of a room.
type Attachments interface {
	ReadyIDs() []string
	ClearSent(ids []string)
}

// Result reports what was sent.
type Result struct {
	ImagesSent int
	TextSent   bool
}

// Ack is the payload of outbox.sent events.
type Ack struct {
	RoomID string
	Result Result
}

// Failure is the payload of outbox.failed events.
type Failure struct {
	RoomID string
	Stage  string // "images" or "text"
	Err    error
}

// Sender composes and sends outgoing messages.
type Sender struct {
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSender creates a sender. b may be nil.
func NewSender(backend Backend, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		backend: backend,
		bus:     b,
		logger:  logger,
	}
}

// Send delivers the ready attachments and then text to roomID. The sent
// attachments leave the pending set only once the image send has been
// accepted; blank text is skipped. If the image send fails the text is not sent.
func (s *Sender) Send(ctx context.Context, roomID, text string, atts Attachments) (Result, error) {
	var res Result
	log := s.logger.With(zap.String("room_id", roomID))

	var ids []string
	if atts != nil {
		ids = atts.ReadyIDs()
	}
	hasText := strings.TrimSpace(text) != ""
	if len(ids) == 0 && !hasText {
		return res, &chaterr.ValidationError{Field: "message", Reason: "nothing to send"}
	}

	if len(ids) > 0 {
		if err := s.backend.SendImageMessages(ctx, roomID, ids); err != nil {
			log.Error("failed to send images", zap.Int("count", len(ids)), zap.Error(err))
			s.publish(bus.KindSendFailed, Failure{RoomID: roomID, Stage: "images", Err: err})
			return res, fmt.Errorf("send images: %w", err)
		}
		atts.ClearSent(ids)
		res.ImagesSent = len(ids)
		log.Info("images sent", zap.Int("count", len(ids)))
	}

	if hasText {
		if err := s.backend.SendMessage(ctx, roomID, text); err != nil {
			log.Error("failed to send message", zap.Error(err))
			s.publish(bus.KindSendFailed, Failure{RoomID: roomID, Stage: "text", Err: err})
			return res, fmt.Errorf("send message: %w", err)
		}
		res.TextSent = true
		log.Info("message sent")
	}

	s.publish(bus.KindSendAck, Ack{RoomID: roomID, Result: res})
	return res, nil
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
