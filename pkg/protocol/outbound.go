package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Outbound wire messages. On the socket dialect each is written as one JSON
// text frame discriminated by Type; on the stream dialect the transport maps
// each to its side-channel HTTP call.
// ─────────────────────────────────────────────────────────────────────────────

// Outbound is implemented by every client-to-server message.
type Outbound interface {
	// OutboundType returns the wire discriminator ("start",
	// "widget_response", "cancel", "ping").
	OutboundType() string
}

// StartExchange opens a new exchange: user text plus the agent selector.
type StartExchange struct {
	Type       string `json:"type"` // "start"
	ExchangeID string `json:"exchange_id"`
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text"`
	Definition string `json:"definition,omitempty"`
	Model      string `json:"model,omitempty"`
}

// NewStartExchange builds a StartExchange with a fresh correlation id.
func NewStartExchange(sessionID, text, definition, model string) StartExchange {
	return StartExchange{
		Type:       "start",
		ExchangeID: uuid.New().String(),
		SessionID:  sessionID,
		Text:       text,
		Definition: definition,
		Model:      model,
	}
}

// WidgetResponse answers a pending client action.
type WidgetResponse struct {
	Type      string          `json:"type"` // "widget_response"
	SessionID string          `json:"session_id,omitempty"`
	ActionID  string          `json:"action_id"`
	Value     json.RawMessage `json:"value"`
}

func NewWidgetResponse(sessionID, actionID string, value json.RawMessage) WidgetResponse {
	return WidgetResponse{
		Type:      "widget_response",
		SessionID: sessionID,
		ActionID:  actionID,
		Value:     value,
	}
}

// CancelExchange aborts the exchange in flight. The server confirms with a
// cancelled event.
type CancelExchange struct {
	Type       string `json:"type"` // "cancel"
	SessionID  string `json:"session_id,omitempty"`
	ExchangeID string `json:"exchange_id,omitempty"`
}

func NewCancelExchange(sessionID, exchangeID string) CancelExchange {
	return CancelExchange{
		Type:       "cancel",
		SessionID:  sessionID,
		ExchangeID: exchangeID,
	}
}

// Ping is the socket keepalive. The server answers with a pong frame.
type Ping struct {
	Type string `json:"type"` // "ping"
}

func NewPing() Ping {
	return Ping{Type: "ping"}
}

func (m StartExchange) OutboundType() string  { return m.Type }
func (m WidgetResponse) OutboundType() string { return m.Type }
func (m CancelExchange) OutboundType() string { return m.Type }
func (m Ping) OutboundType() string           { return m.Type }
