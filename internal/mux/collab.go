package mux

import (
	"context"

	"github.com/parley-dev/parley/internal/message"
	"github.com/parley-dev/parley/internal/suspend"
)

// Renderer paints session output. Calls arrive only for the foreground
// session, serialized in event order; RenderMessage is an update of the one
// in-flight bubble, not an append.
type Renderer interface {
	RenderMessage(sessionID string, snap message.Snapshot)
	RenderWidget(sessionID string, action suspend.PendingAction)
	Notice(sessionID, text string)
}

// AuthNotifier hears about in-band authorization failures. Refreshing
// credentials or forcing re-login is its problem, not the multiplexer's.
type AuthNotifier interface {
	NotifyTokenExpired()
}

// History fetches server-owned conversation history on demand. The client
// caches nothing beyond the in-flight message.
type History interface {
	GetConversation(ctx context.Context, conversationID string) ([]message.Message, error)
}

// NopRenderer discards all output. Useful for tests and background tooling.
type NopRenderer struct{}

func (NopRenderer) RenderMessage(string, message.Snapshot)     {}
func (NopRenderer) RenderWidget(string, suspend.PendingAction) {}
func (NopRenderer) Notice(string, string)                      {}
