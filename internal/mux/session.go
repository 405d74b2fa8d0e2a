package mux

import (
	"time"

	"github.com/parley-dev/parley/internal/message"
	"github.com/parley-dev/parley/internal/restrict"
	"github.com/parley-dev/parley/internal/suspend"
	"github.com/parley-dev/parley/internal/transport"
	"github.com/parley-dev/parley/pkg/protocol"
)

// SessionStatus is the lifecycle position of one logical session.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusConnecting
	StatusStreaming
	StatusSuspended
	StatusBackground
	StatusTerminated
	StatusError
)

func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusStreaming:
		return "streaming"
	case StatusSuspended:
		return "suspended"
	case StatusBackground:
		return "background"
	case StatusTerminated:
		return "terminated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// bufferedEvent is one event held for a backgrounded session, kept in
// receipt order for replay.
type bufferedEvent struct {
	ev protocol.Event
	at time.Time
}

// Session is one logical agent conversation. All fields are owned by the
// Multiplexer and only touched under its lock; nothing outside this package
// mutates a session directly.
type Session struct {
	id         string
	serverID   string // server-assigned id from the connected ack
	kind       protocol.SessionKind
	status     SessionStatus
	definition string
	model      string

	restrictions restrict.Set
	builder      *message.Builder
	transcript   *message.Transcript
	coordinator  *suspend.Coordinator
	manager      *transport.Manager

	exchangeID     string
	exchangeActive bool
	buffer         []bufferedEvent
}

// runningStatus is the status a session returns to when nothing special is
// going on: streaming while an exchange is open, idle otherwise, suspended
// while an action is pending.
func (s *Session) runningStatus() SessionStatus {
	if s.coordinator.Suspended() {
		return StatusSuspended
	}
	if s.exchangeActive {
		return StatusStreaming
	}
	return StatusIdle
}

// ensureBuilder lazily opens the active message for the current exchange.
func (s *Session) ensureBuilder() *message.Builder {
	if s.builder == nil {
		s.builder = message.NewBuilder()
		s.exchangeActive = true
	}
	return s.builder
}

// Info is a lock-free snapshot of a session for listings and assertions.
type Info struct {
	ID           string
	Kind         protocol.SessionKind
	Status       SessionStatus
	Suspended    bool
	Restrictions restrict.Set
	Buffered     int
	Transcript   []message.Message
}

func (s *Session) info() Info {
	return Info{
		ID:           s.id,
		Kind:         s.kind,
		Status:       s.status,
		Suspended:    s.coordinator.Suspended(),
		Restrictions: s.restrictions,
		Buffered:     len(s.buffer),
		Transcript:   s.transcript.Messages(),
	}
}
