// Package suspend coordinates the suspend/resume handshake: the server
// pauses an exchange to request structured input through a widget, the
// client answers exactly once, the exchange resumes. The one-shot
// resolution channel makes "exactly one response per pending action"
// enforceable rather than a convention.
package suspend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/parley-dev/parley/pkg/protocol"
)

var (
	ErrSuspendPending  = errors.New("a pending action is already awaiting a response")
	ErrNoPendingAction = errors.New("no pending action")
	ErrActionMismatch  = errors.New("response does not match the pending action")
	ErrAlreadyResolved = errors.New("action already resolved")
)

// PendingAction is a server-issued request for structured user input.
type PendingAction struct {
	ActionID   string
	WidgetType string
	Props      json.RawMessage
	// ShowUserResponseAsBubble controls whether the eventual response is
	// echoed into the transcript as a user message.
	ShowUserResponseAsBubble bool
}

// Resolution is the single outcome of a PendingAction: either a user value
// or an abandonment (error, termination, server-forced resume).
type Resolution struct {
	ActionID  string
	Value     json.RawMessage
	Abandoned bool
	Reason    string
}

// pendingState pairs the action with its one-shot channel. resolved flips
// exactly once; the 1-buffered channel delivers the Resolution without
// blocking the resolver.
type pendingState struct {
	action   PendingAction
	resolved atomic.Bool
	ch       chan Resolution
}

// Coordinator tracks suspension for one session.
type Coordinator struct {
	mu             sync.Mutex
	pending        *pendingState
	lastResolvedID string
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Suspended reports whether an action is awaiting its response.
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Pending returns the current pending action, if any.
func (c *Coordinator) Pending() (PendingAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingAction{}, false
	}
	return c.pending.action, true
}

// Suspend registers a new pending action. A duplicate suspension while one
// is unresolved is rejected, guarding against duplicate server events.
func (c *Coordinator) Suspend(action PendingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrSuspendPending
	}
	c.pending = &pendingState{
		action: action,
		ch:     make(chan Resolution, 1),
	}
	return nil
}

// Resolve accepts the single user response for the pending action. The
// second attempt for an id that already resolved fails with
// ErrAlreadyResolved; a mismatched id leaves the pending action untouched.
func (c *Coordinator) Resolve(actionID string, value json.RawMessage) (Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		if actionID != "" && actionID == c.lastResolvedID {
			return Resolution{}, ErrAlreadyResolved
		}
		return Resolution{}, ErrNoPendingAction
	}
	if c.pending.action.ActionID != actionID {
		return Resolution{}, ErrActionMismatch
	}
	if !c.pending.resolved.CompareAndSwap(false, true) {
		return Resolution{}, ErrAlreadyResolved
	}

	res := Resolution{ActionID: actionID, Value: value}
	c.pending.ch <- res
	c.lastResolvedID = actionID
	c.pending = nil
	return res, nil
}

// ForceResume clears suspension unconditionally. Used for run_resumed:
// server state is authoritative even when local bookkeeping disagrees.
// Returns the abandoned action when one was pending.
func (c *Coordinator) ForceResume(reason string) (PendingAction, bool) {
	return c.abandon(reason)
}

// Abandon is the fail-safe path for errors and termination, so a session
// can never end while still suspended.
func (c *Coordinator) Abandon(reason string) (PendingAction, bool) {
	return c.abandon(reason)
}

func (c *Coordinator) abandon(reason string) (PendingAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingAction{}, false
	}
	action := c.pending.action
	if c.pending.resolved.CompareAndSwap(false, true) {
		c.pending.ch <- Resolution{ActionID: action.ActionID, Abandoned: true, Reason: reason}
	}
	c.lastResolvedID = action.ActionID
	c.pending = nil
	return action, true
}

// Await blocks until the current pending action resolves or ctx ends.
func (c *Coordinator) Await(ctx context.Context) (Resolution, error) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	if pending == nil {
		return Resolution{}, ErrNoPendingAction
	}
	select {
	case res := <-pending.ch:
		return res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// FreeTextAllowed decides whether free-text input stays open while an
// action is pending. Templated sessions lock input (the widget mandates
// structured responses); reactive sessions keep it when their restriction
// set grants free typing.
func FreeTextAllowed(kind protocol.SessionKind, canFreeType bool) bool {
	if kind == protocol.SessionTemplated {
		return false
	}
	return canFreeType
}
