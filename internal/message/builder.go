// Package message assembles the assistant output of one exchange from
// incremental protocol events. Builder owns the message currently being
// produced; Transcript collects finished messages and applies the
// merge-forward rule for tool-only fragments.
package message

import (
	"errors"
	"fmt"
	"sync"
)

type Status int

const (
	StatusThinking Status = iota
	StatusStreaming
	StatusToolCalling
	StatusComplete
	StatusError
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusThinking:
		return "thinking"
	case StatusStreaming:
		return "streaming"
	case StatusToolCalling:
		return "tool_calling"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status freezes the message. Terminal
// messages are immutable and ready to be folded into the Transcript.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

var (
	ErrInvalidTransition = errors.New("invalid message status transition")
	ErrFinalized         = errors.New("message already finalized")
)

func NewInvalidTransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// validTransitions encodes the status machine. Statuses advance
// monotonically except for the tool-calling/streaming oscillation while
// tools execute mid-stream.
var validTransitions = map[Status][]Status{
	StatusThinking:    {StatusStreaming, StatusToolCalling, StatusComplete, StatusError, StatusCancelled},
	StatusStreaming:   {StatusToolCalling, StatusComplete, StatusError, StatusCancelled},
	StatusToolCalling: {StatusStreaming, StatusComplete, StatusError, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CallStatus tracks one announced tool call through its execution.
type CallStatus int

const (
	CallPending CallStatus = iota
	CallExecuting
	CallSucceeded
	CallFailed
)

func (c CallStatus) String() string {
	switch c {
	case CallPending:
		return "pending"
	case CallExecuting:
		return "executing"
	case CallSucceeded:
		return "succeeded"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type ToolCall struct {
	CallID string
	Name   string
	Status CallStatus
}

type ToolResult struct {
	CallID      string
	Name        string
	Success     bool
	Summary     string
	ErrorDetail string
	ElapsedMs   int64
}

// Placeholder texts used when a message is frozen without server content.
const (
	CancelledPlaceholder = "Request cancelled."
	ErrorPlaceholder     = "Something went wrong while generating this response."
)

// Builder accumulates the in-flight assistant message. Content is
// append-only until a terminal status freezes it; terminal operations are
// idempotent so replaying a buffered terminal event is a no-op.
type Builder struct {
	mu          sync.RWMutex
	content     string
	toolCalls   []ToolCall
	toolResults []ToolResult
	status      Status
}

func NewBuilder() *Builder {
	return &Builder{status: StatusThinking}
}

func (b *Builder) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// AppendContent adds a content chunk and moves the message to streaming.
func (b *Builder) AppendContent(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return ErrFinalized
	}
	b.content += text
	b.status = StatusStreaming
	return nil
}

// AddToolCalls records announced tool invocations without touching content.
func (b *Builder) AddToolCalls(calls []ToolCall) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return ErrFinalized
	}
	for _, c := range calls {
		c.Status = CallPending
		b.toolCalls = append(b.toolCalls, c)
	}
	return nil
}

// ToolExecuting marks the correlated call as running and the message as
// tool-calling. It is a pure status signal.
func (b *Builder) ToolExecuting(callID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return ErrFinalized
	}
	for i := range b.toolCalls {
		if b.toolCalls[i].CallID == callID {
			b.toolCalls[i].Status = CallExecuting
			break
		}
	}
	if b.status != StatusToolCalling && !CanTransition(b.status, StatusToolCalling) {
		return NewInvalidTransitionError(b.status, StatusToolCalling)
	}
	b.status = StatusToolCalling
	return nil
}

// AddToolResult appends a result correlated by call id and returns the
// message to streaming.
func (b *Builder) AddToolResult(res ToolResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return ErrFinalized
	}
	b.toolResults = append(b.toolResults, res)
	for i := range b.toolCalls {
		if b.toolCalls[i].CallID == res.CallID {
			if res.Success {
				b.toolCalls[i].Status = CallSucceeded
			} else {
				b.toolCalls[i].Status = CallFailed
			}
			break
		}
	}
	b.status = StatusStreaming
	return nil
}

// Complete freezes the message as complete. A non-empty finalText is the
// server-authoritative content and replaces whatever accumulated locally.
// Completing an already-complete message is a no-op.
func (b *Builder) Complete(finalText string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	if finalText != "" {
		b.content = finalText
	}
	b.status = StatusComplete
}

// Cancel freezes the message at its current content, or the cancellation
// placeholder when nothing streamed yet. Idempotent.
func (b *Builder) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	if b.content == "" {
		b.content = CancelledPlaceholder
	}
	b.status = StatusCancelled
}

// Fail freezes the message with an explanatory placeholder. Idempotent.
func (b *Builder) Fail(placeholder string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	if placeholder == "" {
		placeholder = ErrorPlaceholder
	}
	b.content = placeholder
	b.status = StatusError
}

// Snapshot is a point-in-time, lock-free copy of the message.
type Snapshot struct {
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Status      Status
}

func (b *Builder) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	calls := make([]ToolCall, len(b.toolCalls))
	copy(calls, b.toolCalls)
	results := make([]ToolResult, len(b.toolResults))
	copy(results, b.toolResults)

	return Snapshot{
		Content:     b.content,
		ToolCalls:   calls,
		ToolResults: results,
		Status:      b.status,
	}
}
