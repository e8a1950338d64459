package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/taptoon/taptoon-fe/internal/bus"
)

// State is the status of one long-lived socket.
type State string

const (
	Closed     State = "CLOSED"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	// Lost is terminal for the current identity: the retry budget is spent.
	Lost State = "LOST"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Closed:     {Connecting, Lost},
	Connecting: {Open, Closed},
	Open:       {Closed},
	Lost:       {Connecting},
}

// Machine tracks and enforces the state of one channel's socket.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for channel starting in Closed. b may be nil.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
		current: Closed,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%s: invalid transition from %s to %s", m.channel, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSocketStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Channel: m.channel,
				From:    from,
				To:      to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Channel string
	From    State
	To      State
}
