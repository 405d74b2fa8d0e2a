package protocol

// Dialect identifies which wire vocabulary a connection speaks. The
// request-stream dialect carries SSE blocks with the full event names; the
// duplex-socket dialect carries JSON frames with a reduced, renamed set of
// the same semantics. Both resolve into the one Kind enum below.
type Dialect int

const (
	DialectStream Dialect = iota
	DialectSocket
)

func (d Dialect) String() string {
	switch d {
	case DialectStream:
		return "stream"
	case DialectSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Kind is the closed set of protocol events a connection can deliver.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindStreamStarted
	KindThinking
	KindContentChunk
	KindToolCallsDetected
	KindToolExecuting
	KindToolResult
	KindMessageComplete
	KindMessageAdded
	KindStreamComplete
	KindCancelled
	KindError
	KindClientAction
	KindRunSuspended
	KindRunResumed
	KindState
	KindTemplateConfig
	KindTemplateProgress
	KindTemplateComplete
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindStreamStarted:
		return "stream_started"
	case KindThinking:
		return "assistant_thinking"
	case KindContentChunk:
		return "content_chunk"
	case KindToolCallsDetected:
		return "tool_calls_detected"
	case KindToolExecuting:
		return "tool_executing"
	case KindToolResult:
		return "tool_result"
	case KindMessageComplete:
		return "message_complete"
	case KindMessageAdded:
		return "message_added"
	case KindStreamComplete:
		return "stream_complete"
	case KindCancelled:
		return "cancelled"
	case KindError:
		return "error"
	case KindClientAction:
		return "client_action"
	case KindRunSuspended:
		return "run_suspended"
	case KindRunResumed:
		return "run_resumed"
	case KindState:
		return "state"
	case KindTemplateConfig:
		return "template_config"
	case KindTemplateProgress:
		return "template_progress"
	case KindTemplateComplete:
		return "template_complete"
	case KindPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends the current exchange or session.
// A connection that closes right after delivering a terminal event closed
// cleanly and must not be re-dialed.
func (k Kind) Terminal() bool {
	switch k {
	case KindStreamComplete, KindTemplateComplete, KindCancelled:
		return true
	default:
		return false
	}
}

// streamKinds maps request-stream event names onto Kinds.
var streamKinds = map[string]Kind{
	"stream_started":      KindStreamStarted,
	"assistant_thinking":  KindThinking,
	"content_chunk":       KindContentChunk,
	"tool_calls_detected": KindToolCallsDetected,
	"tool_executing":      KindToolExecuting,
	"tool_result":         KindToolResult,
	"message_complete":    KindMessageComplete,
	"message_added":       KindMessageAdded,
	"stream_complete":     KindStreamComplete,
	"cancelled":           KindCancelled,
	"error":               KindError,
	"client_action":       KindClientAction,
	"run_suspended":       KindRunSuspended,
	"run_resumed":         KindRunResumed,
	"state":               KindState,
	"connected":           KindConnected,
	"template_config":     KindTemplateConfig,
	"template_progress":   KindTemplateProgress,
	"template_complete":   KindTemplateComplete,
}

// socketKinds maps duplex-socket frame types onto Kinds. The socket dialect
// is a reduced, renamed variant of the stream vocabulary.
var socketKinds = map[string]Kind{
	"connected":        KindConnected,
	"content":          KindContentChunk,
	"widget":           KindClientAction,
	"progress":         KindTemplateProgress,
	"message_complete": KindMessageComplete,
	"complete":         KindStreamComplete,
	"message_added":    KindMessageAdded,
	"template_config":  KindTemplateConfig,
	"tool_call":        KindToolCallsDetected,
	"tool_result":      KindToolResult,
	"error":            KindError,
	"pong":             KindPong,
}

// KindForName resolves a wire event name in the given dialect.
func KindForName(d Dialect, name string) (Kind, bool) {
	var k Kind
	var ok bool
	switch d {
	case DialectStream:
		k, ok = streamKinds[name]
	case DialectSocket:
		k, ok = socketKinds[name]
	}
	return k, ok
}
