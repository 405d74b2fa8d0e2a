// Package transport owns the physical connection to the agent server: the
// two Conn implementations (request-stream and duplex-socket), the Dialer
// that opens them, and the Manager that runs the connection state machine
// with keepalive, clean/dirty close classification, and backoff reconnect.
package transport

import (
	"context"
	"errors"

	"github.com/parley-dev/parley/pkg/protocol"
)

var (
	ErrBusy              = errors.New("connection attempt already in flight")
	ErrClosed            = errors.New("connection closed")
	ErrAuthRejected      = errors.New("authorization rejected")
	ErrRetriesExhausted  = errors.New("reconnect attempts exhausted")
	ErrSubmitUnsupported = errors.New("outbound message not supported on this transport")
)

// Kind distinguishes the two transports a session can be backed by.
type Kind int

const (
	KindStream Kind = iota
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "request-stream"
	case KindSocket:
		return "duplex-socket"
	default:
		return "unknown"
	}
}

// Dialect returns the protocol vocabulary the transport speaks.
func (k Kind) Dialect() protocol.Dialect {
	if k == KindSocket {
		return protocol.DialectSocket
	}
	return protocol.DialectStream
}

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Endpoint carries everything needed to (re)dial one session's connection.
// Reconnection re-dials with the same Endpoint.
type Endpoint struct {
	BaseURL   string
	SessionID string
	Kind      Kind
	Token     string
}

// Conn is one open transport. Recv returns events in strict arrival order;
// a *protocol.DecodeError return is non-fatal (skip the frame and call Recv
// again), any other error means the connection is down.
type Conn interface {
	Recv(ctx context.Context) (protocol.Event, error)
	Submit(ctx context.Context, msg protocol.Outbound) error
	Close() error
	Kind() Kind
}

// Dialer opens connections. Tests inject fakes; HTTPDialer is the real one.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// recvResult moves one Recv outcome from a reader goroutine to Recv callers
// so blocking reads stay cancellable.
type recvResult struct {
	ev  protocol.Event
	err error
}
