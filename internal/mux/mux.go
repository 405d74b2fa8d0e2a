// Package mux multiplexes concurrent agent sessions over independent
// connections. Exactly one session is foreground at a time: its events
// drive the message builder, the suspend coordinator, and the renderer
// directly, while every other session's events queue in a per-session
// buffer for ordered replay on activation.
package mux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parley-dev/parley/internal/message"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/restrict"
	"github.com/parley-dev/parley/internal/suspend"
	"github.com/parley-dev/parley/internal/transport"
	"github.com/parley-dev/parley/pkg/protocol"
)

var (
	ErrSwitchDenied    = errors.New("active session does not allow switching")
	ErrEndEarlyDenied  = errors.New("session does not allow ending early")
	ErrFreeTextDenied  = errors.New("session does not allow free-text input")
	ErrHistoryDenied   = errors.New("session does not allow browsing history")
	ErrUnknownSession  = errors.New("unknown session")
	ErrNoActiveSession = errors.New("no active session")
	ErrShuttingDown    = errors.New("multiplexer is shutting down")
)

const inboxSize = 256

// Config wires a Multiplexer. Dialer and BaseURL are required; nil
// collaborators degrade to no-ops.
type Config struct {
	Dialer  transport.Dialer
	BaseURL string
	Token   string

	Renderer Renderer
	Auth     AuthNotifier
	History  History
	Logger   *slog.Logger
	Metrics  *metrics.Set
}

// StartOptions describes one new session.
type StartOptions struct {
	Kind       protocol.SessionKind
	Transport  transport.Kind
	Overrides  *protocol.RestrictionOverrides
	Definition string
	Model      string
}

// Multiplexer owns the session map and the single active session id. A
// single consumer goroutine drains the inbox every connection sinks into,
// so the live-versus-buffer routing decision is atomic per event.
type Multiplexer struct {
	cfg      Config
	renderer Renderer
	logger   *slog.Logger
	metrics  *metrics.Set

	mu       sync.Mutex
	sessions map[string]*Session
	activeID string

	inbox  chan protocol.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Multiplexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = NopRenderer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Multiplexer{
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
		inbox:    make(chan protocol.Event, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(1)
	go m.consume()
	return m
}

// consume is the single inbox reader. Routing runs under the lock: the
// session that is active when an event is dequeued gets it live, everyone
// else buffers.
func (m *Multiplexer) consume() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.inbox:
			m.route(ev)
		}
	}
}

func (m *Multiplexer) route(ev protocol.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[ev.SessionID]
	if !ok {
		m.logger.Debug("dropping event for unknown session",
			"session_id", ev.SessionID, "kind", ev.Kind.String())
		return
	}
	if ev.SessionID == m.activeID {
		m.deliver(s, ev)
		return
	}
	s.buffer = append(s.buffer, bufferedEvent{ev: ev, at: time.Now()})
	m.metrics.EventBuffered()
}

// StartSession creates a session, connects its transport, and brings it to
// the foreground. Starting while a no-switch session is active fails with
// ErrSwitchDenied before anything is created.
func (m *Multiplexer) StartSession(ctx context.Context, opts StartOptions) (string, error) {
	if m.ctx.Err() != nil {
		return "", ErrShuttingDown
	}

	m.mu.Lock()
	if m.activeID != "" {
		if cur := m.sessions[m.activeID]; cur != nil && !cur.restrictions.CanSwitchSessions {
			m.mu.Unlock()
			return "", ErrSwitchDenied
		}
	}
	id := ulid.Make().String()
	s := &Session{
		id:           id,
		kind:         opts.Kind,
		status:       StatusConnecting,
		definition:   opts.Definition,
		model:        opts.Model,
		restrictions: restrict.Derive(opts.Kind, opts.Overrides),
		transcript:   message.NewTranscript(),
		coordinator:  suspend.NewCoordinator(),
	}
	s.manager = transport.NewManager(transport.ManagerConfig{
		Dialer: m.cfg.Dialer,
		Endpoint: transport.Endpoint{
			BaseURL:   m.cfg.BaseURL,
			SessionID: id,
			Kind:      opts.Transport,
			Token:     m.cfg.Token,
		},
		Sink:    m.sink,
		OnDown:  func(err error) { m.sessionDown(id, err) },
		Logger:  m.logger,
		Metrics: m.metrics,
	})
	m.sessions[id] = s
	m.mu.Unlock()

	if err := s.manager.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return "", err
	}

	m.mu.Lock()
	if m.activeID != "" {
		if cur := m.sessions[m.activeID]; cur != nil {
			cur.status = StatusBackground
		}
	}
	m.activate(s)
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", id, "kind", opts.Kind.String(),
		"transport", opts.Transport.String())
	return id, nil
}

// sink is handed to every connection manager. It blocks when the inbox is
// full, preserving per-session order end to end.
func (m *Multiplexer) sink(ev protocol.Event) {
	select {
	case m.inbox <- ev:
	case <-m.ctx.Done():
	}
}

// sessionDown marks a session whose connection is gone for good.
func (m *Multiplexer) sessionDown(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.status = StatusError
	s.exchangeActive = false
	if _, had := s.coordinator.Abandon("connection lost"); had {
		m.metrics.WidgetResolved()
	}
	if id == m.activeID {
		m.renderer.Notice(id, fmt.Sprintf("connection lost: %v", err))
	}
}

// SwitchTo brings a session to the foreground and replays its buffered
// events in receipt order through the live path.
func (m *Multiplexer) SwitchTo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if id == m.activeID {
		return nil
	}
	if m.activeID != "" {
		cur := m.sessions[m.activeID]
		if cur != nil && !cur.restrictions.CanSwitchSessions {
			return ErrSwitchDenied
		}
		if cur != nil {
			cur.status = StatusBackground
		}
	}

	replayed := m.activate(target)
	m.logger.Debug("session activated", "session_id", id, "replayed", replayed)
	return nil
}

// activate makes s the foreground session and replays its buffer in
// receipt order through the live path. Callers hold m.mu.
func (m *Multiplexer) activate(s *Session) int {
	m.activeID = s.id
	s.status = s.runningStatus()

	buffered := s.buffer
	s.buffer = nil
	for _, be := range buffered {
		m.metrics.EventReplayed()
		m.deliver(s, be.ev)
	}
	return len(buffered)
}

// Deactivate backgrounds the active session without activating another.
// Its connection keeps running and events buffer.
func (m *Multiplexer) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return
	}
	if s := m.sessions[m.activeID]; s != nil {
		s.status = StatusBackground
	}
	m.activeID = ""
}

// Terminate closes a session for good: connection closed, pending action
// abandoned, buffered events dropped, session removed.
func (m *Multiplexer) Terminate(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	if !s.restrictions.CanEndEarly {
		m.mu.Unlock()
		return ErrEndEarlyDenied
	}
	if _, had := s.coordinator.Abandon("session terminated"); had {
		m.metrics.WidgetResolved()
	}
	s.status = StatusTerminated
	s.buffer = nil
	delete(m.sessions, id)
	if m.activeID == id {
		m.activeID = ""
	}
	manager := s.manager
	m.mu.Unlock()

	// Closing waits for the receive goroutine; never hold the lock here.
	if manager != nil {
		_ = manager.Close()
	}
	m.logger.Info("session terminated", "session_id", id)
	return nil
}

// SendText starts or continues an exchange on the active session with
// free-form user text, subject to the restriction set and, while
// suspended, the free-text policy for the session kind.
func (m *Multiplexer) SendText(ctx context.Context, text string) error {
	m.mu.Lock()
	s := m.sessions[m.activeID]
	if s == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if s.coordinator.Suspended() {
		if !suspend.FreeTextAllowed(s.kind, s.restrictions.CanFreeTypeText) {
			m.mu.Unlock()
			return ErrFreeTextDenied
		}
	} else if !s.restrictions.CanFreeTypeText {
		m.mu.Unlock()
		return ErrFreeTextDenied
	}
	start := protocol.NewStartExchange(s.serverOrLocalID(), text, s.definition, s.model)
	s.exchangeID = start.ExchangeID
	manager := s.manager
	m.mu.Unlock()

	if err := manager.Submit(ctx, start); err != nil {
		return fmt.Errorf("start exchange: %w", err)
	}
	return nil
}

// SubmitWidgetResponse resolves the pending action exactly once and
// forwards the structured value to the server.
func (m *Multiplexer) SubmitWidgetResponse(ctx context.Context, sessionID, actionID string, value json.RawMessage) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	res, err := s.coordinator.Resolve(actionID, value)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	s.status = s.runningStatus()
	manager := s.manager
	serverID := s.serverOrLocalID()
	m.mu.Unlock()

	m.metrics.WidgetResolved()
	if err := manager.Submit(ctx, protocol.NewWidgetResponse(serverID, res.ActionID, res.Value)); err != nil {
		return fmt.Errorf("submit widget response: %w", err)
	}
	return nil
}

// CancelActive aborts the active session's in-flight exchange: the server
// is told out of band, the message freezes with a cancellation placeholder,
// and the drop that may follow counts as clean. Background sessions are
// untouched.
func (m *Multiplexer) CancelActive(ctx context.Context) error {
	m.mu.Lock()
	s := m.sessions[m.activeID]
	if s == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if s.builder != nil {
		s.builder.Cancel()
		m.renderer.RenderMessage(s.id, s.builder.Snapshot())
		s.transcript.AddSnapshot(s.builder.Snapshot())
		s.builder = nil
	}
	s.exchangeActive = false
	s.status = StatusIdle
	manager := s.manager
	exchangeID := s.exchangeID
	serverID := s.serverOrLocalID()
	m.mu.Unlock()

	if err := manager.Submit(ctx, protocol.NewCancelExchange(serverID, exchangeID)); err != nil {
		return fmt.Errorf("cancel exchange: %w", err)
	}
	return nil
}

// FetchHistory loads a persisted conversation through the history
// collaborator, gated by the active session's restriction set.
func (m *Multiplexer) FetchHistory(ctx context.Context, conversationID string) ([]message.Message, error) {
	m.mu.Lock()
	s := m.sessions[m.activeID]
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if !s.restrictions.CanAccessHistory {
		m.mu.Unlock()
		return nil, ErrHistoryDenied
	}
	m.mu.Unlock()

	if m.cfg.History == nil {
		return nil, nil
	}
	return m.cfg.History.GetConversation(ctx, conversationID)
}

// ActiveID returns the foreground session id, empty when idle.
func (m *Multiplexer) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Sessions lists a snapshot of every session.
func (m *Multiplexer) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	return out
}

// Session returns a snapshot of one session.
func (m *Multiplexer) Session(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Info{}, ErrUnknownSession
	}
	return s.info(), nil
}

// Shutdown closes every connection and stops the consumer.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	managers := make([]*transport.Manager, 0, len(m.sessions))
	for _, s := range m.sessions {
		if _, had := s.coordinator.Abandon("shutting down"); had {
			m.metrics.WidgetResolved()
		}
		s.status = StatusTerminated
		managers = append(managers, s.manager)
	}
	m.sessions = make(map[string]*Session)
	m.activeID = ""
	m.mu.Unlock()

	for _, mgr := range managers {
		if mgr != nil {
			_ = mgr.Close()
		}
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) serverOrLocalID() string {
	if s.serverID != "" {
		return s.serverID
	}
	return s.id
}
