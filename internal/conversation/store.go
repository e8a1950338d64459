// Package conversation holds the ordered, deduplicated message list of the
// active chat room.
package conversation

import (
	"sync"

	"github.com/taptoon/taptoon-fe/internal/wire"
)

// Entry is a confirmed message together with its arrival sequence.
type Entry struct {
	wire.Message
	Seq uint64
}

// Store keeps one room's messages in arrival order with unique ids.
type Store struct {
	mu      sync.RWMutex
	roomID  string
	entries []Entry
	index   map[string]int
	nextSeq uint64
}

// New creates an empty store for roomID.
func New(roomID string) *Store {
	return &Store{
		roomID: roomID,
		index:  make(map[string]int),
	}
}

// RoomID returns the room this store belongs to.
func (s *Store) RoomID() string {
	return s.roomID
}

// LoadInitial replaces the contents with a chronological REST page.
// Deleted messages and repeated ids within the page are skipped.
func (s *Store) LoadInitial(page []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]Entry, 0, len(page))
	s.index = make(map[string]int, len(page))
	for _, m := range page {
		if m.Deleted {
			continue
		}
		s.appendLocked(m)
	}
}

// ApplyPush appends m unless an entry with the same id exists.
// Reports whether the store changed.
func (s *Store) ApplyPush(m wire.Message) bool {
	if m.Deleted {
		return s.ApplyDeletion(m.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[m.ID]; ok {
		return false
	}
	s.appendLocked(m)
	return true
}

// ApplyDeletion removes the entry with id. Reports whether one was removed.
func (s *Store) ApplyDeletion(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].ID] = i
	}
	return true
}

// RemovePendingAttachmentMessages drops optimistic entries tied to a
// cancelled attachment. Pending attachments are never inserted here, so
// there is nothing to drop; it returns the number of removed entries (0).
func (s *Store) RemovePendingAttachmentMessages() int {
	return 0
}

// Messages returns a snapshot of the entries in arrival order.
func (s *Store) Messages() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Contains reports whether a message with id is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) appendLocked(m wire.Message) {
	if _, ok := s.index[m.ID]; ok {
		return
	}
	s.nextSeq++
	s.index[m.ID] = len(s.entries)
	s.entries = append(s.entries, Entry{Message: m, Seq: s.nextSeq})
}
