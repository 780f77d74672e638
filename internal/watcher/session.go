package watcher

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DebounceDelay is the quiet window a mutation burst must leave before the
// page is checked.
const DebounceDelay = 500 * time.Millisecond

// State is the lifecycle position of a watch session.
type State string

const (
	StateIdle     State = "idle"
	StateArmed    State = "armed"
	StatePending  State = "check_pending"
	StateAlerted  State = "alerted"
	StateDetached State = "detached"
)

// Reason records why a session was armed.
type Reason string

const (
	ReasonInitial    Reason = "initial"
	ReasonNavigation Reason = "navigation"
	ReasonReload     Reason = "reload"
	ReasonManual     Reason = "manual"
)

// session is one logical page view. All fields are guarded by Watcher.mu.
type session struct {
	id        string
	reason    Reason
	url       string
	armedAt   time.Time
	alertedAt time.Time

	alerted   bool
	connected bool

	// pending is the single scheduled check; seq identifies the latest
	// schedule so a timer that fired after being replaced does nothing.
	pending *clock.Timer
	seq     uint64

	mutations int
	checks    int
}

func (s *session) state() State {
	switch {
	case s.alerted:
		return StateAlerted
	case !s.connected:
		return StateDetached
	case s.pending != nil:
		return StatePending
	default:
		return StateArmed
	}
}

// cancelPending stops the scheduled check, if any.
func (s *session) cancelPending() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.seq++
}

// disconnect ends mutation observation for the session.
func (s *session) disconnect() {
	s.cancelPending()
	s.connected = false
}

// SessionStatus is a point-in-time copy of a session.
type SessionStatus struct {
	ID        string     `json:"id"`
	Reason    Reason     `json:"reason"`
	URL       string     `json:"url"`
	State     State      `json:"state"`
	ArmedAt   time.Time  `json:"armed_at"`
	AlertedAt *time.Time `json:"alerted_at,omitempty"`
	Mutations int        `json:"mutations"`
	Checks    int        `json:"checks"`
}

func (s *session) status() SessionStatus {
	st := SessionStatus{
		ID:        s.id,
		Reason:    s.reason,
		URL:       s.url,
		State:     s.state(),
		ArmedAt:   s.armedAt,
		Mutations: s.mutations,
		Checks:    s.checks,
	}
	if s.alerted {
		at := s.alertedAt
		st.AlertedAt = &at
	}
	return st
}
