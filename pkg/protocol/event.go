package protocol

import (
	"encoding/json"
	"time"
)

// SessionKind distinguishes free-form chat sessions from template-driven
// ones. Restriction defaults and the free-text policy hang off it.
type SessionKind int

const (
	SessionReactive SessionKind = iota
	SessionTemplated
)

func (k SessionKind) String() string {
	switch k {
	case SessionReactive:
		return "reactive"
	case SessionTemplated:
		return "templated"
	default:
		return "unknown"
	}
}

// ParseSessionKind maps a configuration string onto a SessionKind.
// Unrecognised values fall back to reactive.
func ParseSessionKind(s string) SessionKind {
	switch s {
	case "templated", "proactive", "template":
		return SessionTemplated
	default:
		return SessionReactive
	}
}

// Event is one decoded protocol event. SessionID is the local session key
// the receiving connection is bound to, stamped by the transport layer;
// payload-level server session ids live inside Data.
type Event struct {
	Kind       Kind
	SessionID  string
	ReceivedAt time.Time
	Data       any
}

type ConnectedData struct {
	SessionID string `json:"session_id,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
}

type StreamStartedData struct {
	SessionID  string `json:"session_id,omitempty"`
	ExchangeID string `json:"exchange_id,omitempty"`
	Model      string `json:"model,omitempty"`
}

type ThinkingData struct {
	Hint string `json:"hint,omitempty"`
}

type ContentChunkData struct {
	Text string `json:"text"`
}

// ToolCall is one tool invocation announced by the agent.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolCallsDetectedData struct {
	Calls []ToolCall `json:"calls"`
}

type ToolExecutingData struct {
	CallID string `json:"call_id"`
	Name   string `json:"name,omitempty"`
}

type ToolResultData struct {
	CallID      string `json:"call_id"`
	Name        string `json:"name,omitempty"`
	Success     bool   `json:"success"`
	Summary     string `json:"summary,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
}

type MessageCompleteData struct {
	MessageID string `json:"message_id,omitempty"`
	// Content is the server-authoritative final text. Empty means the
	// locally accumulated text stands.
	Content string `json:"content,omitempty"`
}

type MessageAddedData struct {
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

type StreamCompleteData struct {
	Reason string `json:"reason,omitempty"`
}

type CancelledData struct {
	Reason string `json:"reason,omitempty"`
}

// Error codes the client gives special treatment.
const (
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeRateLimited  = "rate_limited"
)

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Terminal reports whether the error ends the exchange with no reconnect:
// auth failures go to the auth collaborator, rate limits to the user.
func (d ErrorData) Terminal() bool {
	return d.Code == ErrorCodeUnauthorized || d.Code == ErrorCodeRateLimited
}

type ClientActionData struct {
	ActionID   string          `json:"action_id"`
	WidgetType string          `json:"widget_type"`
	Props      json.RawMessage `json:"props,omitempty"`
	// ShowUserResponseAsBubble defaults to true on the wire; Decode
	// normalises the absent case.
	ShowUserResponseAsBubble bool `json:"show_user_response_as_bubble"`
}

type RunSuspendedData struct {
	Reason string `json:"reason,omitempty"`
}

type RunResumedData struct {
	Reason string `json:"reason,omitempty"`
}

type StateData struct {
	Status string `json:"status"`
}

// RestrictionOverrides carries the server-configured restriction flags.
// Nil fields keep the kind-derived default.
type RestrictionOverrides struct {
	CanSwitchSessions *bool `json:"can_switch_sessions,omitempty"`
	CanAccessHistory  *bool `json:"can_access_history,omitempty"`
	CanFreeTypeText   *bool `json:"can_free_type_text,omitempty"`
	CanEndEarly       *bool `json:"can_end_early,omitempty"`
}

type TemplateConfigData struct {
	TemplateID   string                `json:"template_id,omitempty"`
	Title        string                `json:"title,omitempty"`
	Restrictions *RestrictionOverrides `json:"restrictions,omitempty"`
}

type TemplateProgressData struct {
	Step  int    `json:"step"`
	Total int    `json:"total,omitempty"`
	Label string `json:"label,omitempty"`
}

type TemplateCompleteData struct {
	Summary string `json:"summary,omitempty"`
}

type PongData struct{}

type UnknownData struct {
	Name string
	Raw  json.RawMessage
}
