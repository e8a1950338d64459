package socket

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/taptoon/taptoon-fe/internal/identity"
)

// Channel is one logical socket: the shared notification feed or one room.
type Channel struct {
	Name string // unique, e.g. "notifications" or "room:42"
	Kind string // metric label: "notifications" or "room"
	URL  func(identity.Identity) string
}

// Notifications is the caller's notification feed channel.
func Notifications(wsBase string) Channel {
	base := strings.TrimRight(wsBase, "/")
	return Channel{
		Name: "notifications",
		Kind: "notifications",
		URL: func(id identity.Identity) string {
			return fmt.Sprintf("%s/notifications/%s?token=%s", base, url.PathEscape(id.UserID), url.QueryEscape(id.Token))
		},
	}
}

// Room is the dedicated channel of one chat room.
func Room(wsBase, roomID string) Channel {
	base := strings.TrimRight(wsBase, "/")
	return Channel{
		Name: "room:" + roomID,
		Kind: "room",
		URL: func(id identity.Identity) string {
			return fmt.Sprintf("%s/ws/chat/%s?token=%s", base, url.PathEscape(roomID), url.QueryEscape(id.Token))
		},
	}
}

// Policy bounds automatic reconnects.
type Policy struct {
	BaseDelay  time.Duration
	CapDelay   time.Duration
	MaxRetries int
}

// DefaultPolicy is 1s doubling up to 10s, at most 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  time.Second,
		CapDelay:   10 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns min(BaseDelay * 2^retry, CapDelay).
func (p Policy) Delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retry; i++ {
		if d >= p.CapDelay {
			break
		}
		d *= 2
	}
	if d > p.CapDelay {
		d = p.CapDelay
	}
	return d
}
