package mux

import (
	"fmt"

	"github.com/parley-dev/parley/internal/message"
	"github.com/parley-dev/parley/internal/restrict"
	"github.com/parley-dev/parley/internal/suspend"
	"github.com/parley-dev/parley/pkg/protocol"
)

const authPlaceholder = "Your session is no longer authorized. Please sign in again."

// deliver applies one event to a session through the live path. Buffered
// replay goes through the exact same function, so terminal handling must be
// idempotent. Callers hold m.mu.
func (m *Multiplexer) deliver(s *Session, ev protocol.Event) {
	switch ev.Kind {
	case protocol.KindConnected:
		if d, ok := ev.Data.(protocol.ConnectedData); ok && d.SessionID != "" {
			s.serverID = d.SessionID
		}

	case protocol.KindStreamStarted:
		if d, ok := ev.Data.(protocol.StreamStartedData); ok {
			if d.SessionID != "" {
				s.serverID = d.SessionID
			}
			if d.ExchangeID != "" {
				s.exchangeID = d.ExchangeID
			}
		}
		s.ensureBuilder()
		s.status = StatusStreaming

	case protocol.KindThinking:
		s.ensureBuilder()
		s.status = StatusStreaming
		m.renderer.RenderMessage(s.id, s.builder.Snapshot())

	case protocol.KindContentChunk:
		d, _ := ev.Data.(protocol.ContentChunkData)
		b := s.ensureBuilder()
		if err := b.AppendContent(d.Text); err != nil {
			m.logger.Warn("content chunk after terminal message",
				"session_id", s.id, "error", err)
			return
		}
		s.status = StatusStreaming
		m.renderer.RenderMessage(s.id, b.Snapshot())

	case protocol.KindToolCallsDetected:
		d, _ := ev.Data.(protocol.ToolCallsDetectedData)
		b := s.ensureBuilder()
		calls := make([]message.ToolCall, 0, len(d.Calls))
		for _, c := range d.Calls {
			calls = append(calls, message.ToolCall{CallID: c.CallID, Name: c.Name})
		}
		if err := b.AddToolCalls(calls); err != nil {
			m.logger.Warn("tool calls after terminal message", "session_id", s.id, "error", err)
			return
		}
		m.renderer.RenderMessage(s.id, b.Snapshot())

	case protocol.KindToolExecuting:
		d, _ := ev.Data.(protocol.ToolExecutingData)
		b := s.ensureBuilder()
		if err := b.ToolExecuting(d.CallID); err != nil {
			m.logger.Warn("tool executing ignored", "session_id", s.id, "error", err)
			return
		}
		m.renderer.RenderMessage(s.id, b.Snapshot())

	case protocol.KindToolResult:
		d, _ := ev.Data.(protocol.ToolResultData)
		b := s.ensureBuilder()
		if err := b.AddToolResult(message.ToolResult{
			CallID:      d.CallID,
			Name:        d.Name,
			Success:     d.Success,
			Summary:     d.Summary,
			ErrorDetail: d.ErrorDetail,
			ElapsedMs:   d.ElapsedMs,
		}); err != nil {
			m.logger.Warn("tool result ignored", "session_id", s.id, "error", err)
			return
		}
		m.renderer.RenderMessage(s.id, b.Snapshot())

	case protocol.KindMessageComplete:
		if s.builder == nil {
			return // already folded, replay duplicate
		}
		d, _ := ev.Data.(protocol.MessageCompleteData)
		s.builder.Complete(d.Content)
		snap := s.builder.Snapshot()
		m.renderer.RenderMessage(s.id, snap)
		s.transcript.AddSnapshot(snap)
		s.builder = nil

	case protocol.KindMessageAdded:
		d, _ := ev.Data.(protocol.MessageAddedData)
		s.transcript.Add(message.Message{
			Role:    d.Role,
			Content: d.Content,
			Status:  message.StatusComplete,
		})

	case protocol.KindStreamComplete:
		m.finishExchange(s, StatusIdle)

	case protocol.KindTemplateComplete:
		m.finishExchange(s, StatusTerminated)
		if d, ok := ev.Data.(protocol.TemplateCompleteData); ok && d.Summary != "" {
			m.renderer.Notice(s.id, d.Summary)
		}

	case protocol.KindCancelled:
		if !s.exchangeActive && s.builder == nil {
			return // replay duplicate
		}
		if s.builder != nil {
			s.builder.Cancel()
			snap := s.builder.Snapshot()
			m.renderer.RenderMessage(s.id, snap)
			s.transcript.AddSnapshot(snap)
			s.builder = nil
		}
		s.transcript.Finalize()
		s.exchangeActive = false
		s.status = StatusIdle

	case protocol.KindError:
		m.handleError(s, ev)

	case protocol.KindClientAction:
		d, _ := ev.Data.(protocol.ClientActionData)
		action := suspend.PendingAction{
			ActionID:                 d.ActionID,
			WidgetType:               d.WidgetType,
			Props:                    d.Props,
			ShowUserResponseAsBubble: d.ShowUserResponseAsBubble,
		}
		if err := s.coordinator.Suspend(action); err != nil {
			// Duplicate suspension from the server: keep the original.
			m.logger.Warn("duplicate suspension ignored",
				"session_id", s.id, "action_id", d.ActionID, "error", err)
			return
		}
		s.status = StatusSuspended
		m.renderer.RenderWidget(s.id, action)

	case protocol.KindRunSuspended:
		s.status = StatusSuspended

	case protocol.KindRunResumed:
		// Server state is authoritative: clear local bookkeeping even when
		// no response was ever submitted.
		if _, had := s.coordinator.ForceResume("run resumed by server"); had {
			m.metrics.WidgetResolved()
		}
		s.status = s.runningStatus()

	case protocol.KindState:
		if d, ok := ev.Data.(protocol.StateData); ok {
			m.logger.Debug("server state", "session_id", s.id, "status", d.Status)
		}

	case protocol.KindTemplateConfig:
		d, _ := ev.Data.(protocol.TemplateConfigData)
		if d.Restrictions != nil {
			s.restrictions = restrict.Apply(s.restrictions, d.Restrictions)
		}
		if d.Title != "" {
			m.renderer.Notice(s.id, d.Title)
		}

	case protocol.KindTemplateProgress:
		if d, ok := ev.Data.(protocol.TemplateProgressData); ok {
			m.renderer.Notice(s.id, progressText(d))
		}

	case protocol.KindPong:
		// Dropped at the transport layer; nothing to do if one leaks through.

	default:
		m.logger.Warn("unhandled event kind", "session_id", s.id, "kind", ev.Kind.String())
	}
}

// finishExchange folds any open message and closes out the exchange.
// Replaying the terminal event a second time is a no-op.
func (m *Multiplexer) finishExchange(s *Session, after SessionStatus) {
	if !s.exchangeActive && s.builder == nil {
		if s.status != after && after == StatusTerminated {
			s.status = after
		}
		return
	}
	if s.builder != nil {
		s.builder.Complete("")
		snap := s.builder.Snapshot()
		m.renderer.RenderMessage(s.id, snap)
		s.transcript.AddSnapshot(snap)
		s.builder = nil
	}
	s.transcript.Finalize()
	s.exchangeActive = false
	if s.coordinator.Suspended() {
		// An exchange can't end suspended; the action is dead.
		if _, had := s.coordinator.Abandon("exchange completed"); had {
			m.metrics.WidgetResolved()
		}
	}
	s.status = after
}

// handleError applies the error taxonomy: auth errors go to the auth
// collaborator, rate limits discard the active message, everything else
// freezes the message with a placeholder. All of them clear suspension so
// the session can never end up stuck suspended after a failure.
func (m *Multiplexer) handleError(s *Session, ev protocol.Event) {
	d, _ := ev.Data.(protocol.ErrorData)

	if _, had := s.coordinator.Abandon("exchange failed"); had {
		m.metrics.WidgetResolved()
	}

	switch d.Code {
	case protocol.ErrorCodeUnauthorized:
		if m.cfg.Auth != nil {
			m.cfg.Auth.NotifyTokenExpired()
		}
		if s.builder != nil {
			s.builder.Fail(authPlaceholder)
			snap := s.builder.Snapshot()
			m.renderer.RenderMessage(s.id, snap)
			s.transcript.AddSnapshot(snap)
			s.builder = nil
		}
		s.exchangeActive = false
		s.status = StatusError

	case protocol.ErrorCodeRateLimited:
		// Discard the active message entirely, surface the limit.
		s.builder = nil
		s.exchangeActive = false
		s.status = StatusIdle
		m.renderer.Notice(s.id, "Rate limited: "+d.Message)

	default:
		if s.builder != nil {
			s.builder.Fail("")
			snap := s.builder.Snapshot()
			m.renderer.RenderMessage(s.id, snap)
			s.transcript.AddSnapshot(snap)
			s.builder = nil
		}
		s.exchangeActive = false
		s.status = StatusError
		if d.Message != "" {
			m.renderer.Notice(s.id, "Error: "+d.Message)
		}
	}
}

func progressText(d protocol.TemplateProgressData) string {
	if d.Total > 0 {
		return fmt.Sprintf("Step %d of %d: %s", d.Step, d.Total, d.Label)
	}
	return fmt.Sprintf("Step %d: %s", d.Step, d.Label)
}
