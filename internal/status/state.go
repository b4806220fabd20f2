package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/voxline/inboxd/internal/bus"
)

// State represents the push-channel connection state.
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is
// terminal: only an explicit close ends the connection's life, every
// transport failure routes through Reconnecting instead.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Closed},
	Connecting:   {Live, Reconnecting, Closed},
	Live:         {Reconnecting, Closed},
	Reconnecting: {Connecting, Live, Closed},
	Closed:       {},
}

// Machine tracks and enforces push-channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStreamStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
