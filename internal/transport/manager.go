package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/pkg/protocol"
)

// MaxReconnectAttempts caps automatic redials after a dirty close.
const MaxReconnectAttempts = 5

// ManagerConfig wires one Manager. Sink receives every decoded event in
// arrival order; OnDown fires when the connection is lost for good.
type ManagerConfig struct {
	Dialer   Dialer
	Endpoint Endpoint
	Sink     func(protocol.Event)
	OnDown   func(err error)
	Logger   *slog.Logger
	Metrics  *metrics.Set
}

// Manager owns one session's physical connection: the state machine
// disconnected -> connecting -> open -> (closing | disconnected), clean
// versus dirty close classification, and the reconnect policy. Never more
// than one connect attempt is in flight at a time.
type Manager struct {
	dialer  Dialer
	ep      Endpoint
	sink    func(protocol.Event)
	onDown  func(err error)
	logger  *slog.Logger
	metrics *metrics.Set

	mu               sync.Mutex
	state            State
	conn             Conn
	reconnectAttempt int
	lastTerminal     bool // last delivered event ended the exchange
	cleanNext        bool // next drop is expected (cancel submitted)
	closeRequested   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:  cfg.Dialer,
		ep:      cfg.Endpoint,
		sink:    cfg.Sink,
		onDown:  cfg.OnDown,
		logger:  logger,
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempt
}

// Connect dials the endpoint and starts the receive loop. It fails fast
// with ErrBusy while a connection is already connecting or open.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.ep)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", m.ep.Kind, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateOpen
	m.reconnectAttempt = 0
	m.lastTerminal = false
	m.cleanNext = false
	m.mu.Unlock()

	m.logger.Debug("connection open",
		"session_id", m.ep.SessionID, "transport", m.ep.Kind.String())

	m.wg.Add(1)
	go m.run(conn)
	return nil
}

// Submit forwards an outbound message on the open connection. Submitting a
// cancel marks the next drop clean: a cancelled exchange must not redial.
func (m *Manager) Submit(ctx context.Context, msg protocol.Outbound) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	if _, isCancel := msg.(protocol.CancelExchange); isCancel && open {
		m.cleanNext = true
	}
	m.mu.Unlock()

	if !open || conn == nil {
		return ErrClosed
	}
	return conn.Submit(ctx, msg)
}

// run drives one connection until it drops, then classifies the drop and
// either stops (clean) or walks the reconnect schedule (dirty).
func (m *Manager) run(conn Conn) {
	defer m.wg.Done()
	for {
		err := m.recvUntilDrop(conn)
		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		clean := m.closeRequested || m.lastTerminal || m.cleanNext
		m.mu.Unlock()

		if clean {
			m.logger.Debug("connection closed cleanly", "session_id", m.ep.SessionID)
			m.setState(StateDisconnected)
			return
		}

		m.logger.Info("connection dropped, reconnecting",
			"session_id", m.ep.SessionID, "error", err)
		next, ok := m.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// recvUntilDrop pumps events into the sink until the connection fails.
// Decode errors are dropped frames, never fatal.
func (m *Manager) recvUntilDrop(conn Conn) error {
	for {
		ev, err := conn.Recv(m.ctx)
		if err != nil {
			var derr *protocol.DecodeError
			if errors.As(err, &derr) {
				m.logger.Warn("dropping undecodable frame",
					"session_id", m.ep.SessionID, "error", derr)
				m.metrics.DecodeFailure()
				continue
			}
			return err
		}

		m.mu.Lock()
		m.lastTerminal = ev.Kind.Terminal()
		if ed, ok := ev.Data.(protocol.ErrorData); ok && ed.Terminal() {
			// Auth and rate-limit errors end the exchange in-band.
			m.lastTerminal = true
		}
		m.mu.Unlock()

		m.metrics.EventDecoded(ev.Kind.String())
		if m.sink != nil {
			m.sink(ev)
		}
	}
}

// reconnect walks the capped exponential backoff schedule: 1s, 2s, 4s, 8s,
// 16s, then gives up. A successful open resets the attempt counter so the
// next dirty close starts over at 1s.
func (m *Manager) reconnect() (Conn, bool) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.Reset()

	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		m.mu.Lock()
		m.state = StateConnecting
		m.reconnectAttempt = attempt
		m.mu.Unlock()

		if err := m.sleep(m.ctx, b.NextBackOff()); err != nil {
			return nil, false
		}

		m.metrics.ReconnectAttempt()
		m.logger.Debug("reconnect attempt",
			"session_id", m.ep.SessionID, "attempt", attempt)

		conn, err := m.dialer.Dial(m.ctx, m.ep)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				m.setState(StateDisconnected)
				m.down(err)
				return nil, false
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.state = StateOpen
		m.reconnectAttempt = 0
		m.mu.Unlock()
		m.logger.Info("reconnected", "session_id", m.ep.SessionID, "attempt", attempt)
		return conn, true
	}

	m.setState(StateDisconnected)
	m.down(ErrRetriesExhausted)
	return nil, false
}

func (m *Manager) down(err error) {
	m.logger.Warn("connection down for good", "session_id", m.ep.SessionID, "error", err)
	if m.onDown != nil {
		m.onDown(err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Close is the explicit, always-clean shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closeRequested = true
	m.state = StateClosing
	conn := m.conn
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	m.wg.Wait()
	m.setState(StateDisconnected)
	return nil
}
