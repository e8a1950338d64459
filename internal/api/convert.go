package api

import (
	"fmt"
	"time"

	"github.com/taptoon/taptoon-fe/internal/chat"
	"github.com/taptoon/taptoon-fe/internal/outbox"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/status"
	"github.com/taptoon/taptoon-fe/internal/upload"
	"github.com/taptoon/taptoon-fe/internal/wire"
	"google.golang.org/protobuf/types/known/structpb"
)

func unixMs(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func roomFields(s rooms.Summary) map[string]any {
	return map[string]any{
		"room_id":           s.RoomID,
		"last_message_text": s.LastMessageText,
		"last_message_at":   unixMs(s.LastMessageAt),
		"unread_count":      s.UnreadCount,
		"member_count":      s.MemberCount,
	}
}

func roomList(list []rooms.Summary) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = roomFields(s)
	}
	return out
}

func messageFields(m wire.Message) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"room_id":       m.RoomID,
		"sender_id":     m.SenderID,
		"from_me":       m.FromMe,
		"body":          m.Body,
		"kind":          string(m.Kind),
		"thumbnail_url": m.ThumbnailURL,
		"original_url":  m.OriginalURL,
		"created_at":    unixMs(m.CreatedAt),
	}
}

func messageList(msgs []wire.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageFields(m)
	}
	return out
}

func attachmentFields(a upload.Attachment) map[string]any {
	f := map[string]any{
		"local_ref":    a.LocalRef,
		"file_name":    a.FileName,
		"content_type": a.ContentType,
		"remote_id":    a.RemoteID,
		"status":       string(a.Status),
	}
	if a.Err != nil {
		f["error"] = a.Err.Error()
	}
	return f
}

func attachmentList(atts []upload.Attachment) []any {
	out := make([]any, len(atts))
	for i, a := range atts {
		out[i] = attachmentFields(a)
	}
	return out
}

func timelineList(items []chat.Item) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		switch {
		case it.Message != nil:
			f := messageFields(*it.Message)
			f["type"] = "message"
			out = append(out, f)
		case it.Attachment != nil:
			f := attachmentFields(*it.Attachment)
			f["type"] = "attachment"
			out = append(out, f)
		}
	}
	return out
}

// eventPayload flattens the payload of a bus event.
func eventPayload(payload any) map[string]any {
	switch p := payload.(type) {
	case nil:
		return nil
	case status.StatusChange:
		return map[string]any{"channel": p.Channel, "from": string(p.From), "to": string(p.To)}
	case wire.Message:
		return messageFields(p)
	case *wire.Message:
		return messageFields(*p)
	case wire.Deletion:
		return map[string]any{"room_id": p.RoomID, "msg_id": p.MessageID}
	case wire.History:
		return map[string]any{"room_id": p.RoomID, "messages": len(p.Messages)}
	case []rooms.Summary:
		return map[string]any{"rooms": roomList(p)}
	case rooms.Summary:
		return roomFields(p)
	case upload.Change:
		return map[string]any{"scope": string(p.Scope), "owner_id": p.OwnerID, "attachments": attachmentList(p.Attachments)}
	case outbox.Ack:
		return map[string]any{"room_id": p.RoomID, "images_sent": p.Result.ImagesSent, "text_sent": p.Result.TextSent}
	case outbox.Failure:
		return map[string]any{"room_id": p.RoomID, "stage": p.Stage, "error": errString(p.Err)}
	case error:
		return map[string]any{"error": p.Error()}
	case string: // rooms.removed
		return map[string]any{"room_id": p}
	default:
		return map[string]any{"value": fmt.Sprintf("%v", p)}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

func str(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	if v, ok := in.GetFields()[key]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			return k.StringValue
		case *structpb.Value_NumberValue:
			return fmt.Sprintf("%.0f", k.NumberValue)
		}
	}
	return ""
}

func num(in *structpb.Struct, key string) int {
	if in == nil {
		return 0
	}
	return int(in.GetFields()[key].GetNumberValue())
}

func strList(in *structpb.Struct, key string) []string {
	if in == nil {
		return nil
	}
	var out []string
	for _, v := range in.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
