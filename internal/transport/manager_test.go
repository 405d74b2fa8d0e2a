package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-dev/parley/pkg/protocol"
)

// fakeConn is a scriptable Conn fed through a channel of recv outcomes.
type fakeConn struct {
	results chan recvResult

	mu        sync.Mutex
	submitted []protocol.Outbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{results: make(chan recvResult, 16)}
}

func (f *fakeConn) push(ev protocol.Event) { f.results <- recvResult{ev: ev} }
func (f *fakeConn) pushErr(err error)      { f.results <- recvResult{err: err} }
func (f *fakeConn) Kind() Kind             { return KindSocket }
func (f *fakeConn) Close() error           { return nil }

func (f *fakeConn) Recv(ctx context.Context) (protocol.Event, error) {
	select {
	case res := <-f.results:
		return res.ev, res.err
	case <-ctx.Done():
		return protocol.Event{}, ctx.Err()
	}
}

func (f *fakeConn) Submit(_ context.Context, msg protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, msg)
	return nil
}

// fakeDialer pops one scripted outcome per Dial call.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	dials    int
}

type dialOutcome struct {
	conn Conn
	err  error
}

func (d *fakeDialer) Dial(context.Context, Endpoint) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.outcomes) == 0 {
		return nil, errors.New("no scripted outcome")
	}
	out := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	return out.conn, out.err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// delayRecorder replaces the manager's sleep so tests observe backoff
// delays without waiting them out.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func recordSleeps(m *Manager) *delayRecorder {
	r := &delayRecorder{}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		r.mu.Lock()
		r.delays = append(r.delays, d)
		r.mu.Unlock()
		return ctx.Err()
	}
	return r
}

func (r *delayRecorder) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func testEndpoint() Endpoint {
	return Endpoint{BaseURL: "http://agent.test", SessionID: "s1", Kind: KindSocket}
}

func contentEvent(text string) protocol.Event {
	return protocol.Event{Kind: protocol.KindContentChunk, Data: protocol.ContentChunkData{Text: text}}
}

func TestConnect_Busy(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}
	m := NewManager(ManagerConfig{Dialer: dialer, Endpoint: testEndpoint()})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Connect err = %v, want ErrBusy", err)
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
}

func TestSinkReceivesEventsInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}

	events := make(chan protocol.Event, 8)
	m := NewManager(ManagerConfig{
		Dialer:   dialer,
		Endpoint: testEndpoint(),
		Sink:     func(ev protocol.Event) { events <- ev },
	})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.push(contentEvent("a"))
	conn.push(contentEvent("b"))

	for _, want := range []string{"a", "b"} {
		select {
		case ev := <-events:
			if ev.Data.(protocol.ContentChunkData).Text != want {
				t.Errorf("event text = %v, want %q", ev.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for chunk %q", want)
		}
	}
}

func TestDecodeErrorsAreSkipped(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}

	events := make(chan protocol.Event, 8)
	m := NewManager(ManagerConfig{
		Dialer:   dialer,
		Endpoint: testEndpoint(),
		Sink:     func(ev protocol.Event) { events <- ev },
	})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.pushErr(&protocol.DecodeError{Dialect: protocol.DialectSocket, Name: "junk", Err: protocol.ErrUnknownEvent})
	conn.push(contentEvent("survived"))

	select {
	case ev := <-events:
		if ev.Data.(protocol.ContentChunkData).Text != "survived" {
			t.Errorf("event = %+v, want the chunk after the dropped frame", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event after decode error never arrived")
	}
	if got := m.State(); got != StateOpen {
		t.Errorf("State = %v, decode errors must not drop the connection", got)
	}
}

func TestDirtyClose_BackoffScheduleThenGiveUp(t *testing.T) {
	conn := newFakeConn()
	// One good dial, then every reconnect attempt fails.
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{conn: conn},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
	}}

	down := make(chan error, 1)
	m := NewManager(ManagerConfig{
		Dialer:   dialer,
		Endpoint: testEndpoint(),
		OnDown:   func(err error) { down <- err },
	})
	defer m.Close()
	delays := recordSleeps(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.pushErr(errors.New("connection reset"))

	select {
	case err := <-down:
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("OnDown err = %v, want ErrRetriesExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDown never fired")
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	got := delays.snapshot()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i, d := range got {
		if d != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i])
		}
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected after giving up", got)
	}
}

func TestDirtyClose_SuccessResetsAttemptCounter(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	// Dirty drop, attempt 1 fails, attempt 2 succeeds.
	dialer := &fakeDialer{outcomes: []dialOutcome{
		{conn: conn1},
		{err: errors.New("refused")},
		{conn: conn2},
	}}

	events := make(chan protocol.Event, 8)
	m := NewManager(ManagerConfig{
		Dialer:   dialer,
		Endpoint: testEndpoint(),
		Sink:     func(ev protocol.Event) { events <- ev },
	})
	defer m.Close()
	delays := recordSleeps(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn1.pushErr(errors.New("connection reset"))

	// The replacement connection carries events again.
	conn2.push(contentEvent("back"))
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}

	if got := m.ReconnectAttempt(); got != 0 {
		t.Errorf("ReconnectAttempt = %d, want 0 after successful open", got)
	}

	// A second dirty close starts the schedule over at 1000ms.
	conn2.pushErr(errors.New("connection reset again"))
	deadline := time.Now().Add(2 * time.Second)
	for len(delays.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("delays = %v, want the second schedule to start", delays.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := delays.snapshot()
	if got[0] != time.Second || got[2] != time.Second {
		t.Errorf("delays = %v, want both schedules starting at 1s", got)
	}
}

func TestTerminalEventMakesCloseClean(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}

	m := NewManager(ManagerConfig{Dialer: dialer, Endpoint: testEndpoint(), Sink: func(protocol.Event) {}})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.push(protocol.Event{Kind: protocol.KindStreamComplete, Data: protocol.StreamCompleteData{}})
	conn.pushErr(errors.New("server closed the pipe"))

	waitForState(t, m, StateDisconnected)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, clean close must not redial", got)
	}
}

func TestCancelSubmitMakesCloseClean(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}

	m := NewManager(ManagerConfig{Dialer: dialer, Endpoint: testEndpoint(), Sink: func(protocol.Event) {}})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Submit(context.Background(), protocol.NewCancelExchange("s1", "e1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	conn.pushErr(errors.New("dropped after cancel"))

	waitForState(t, m, StateDisconnected)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, cancelled exchange must not redial", got)
	}
}

func TestInBandAuthErrorMakesCloseClean(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{outcomes: []dialOutcome{{conn: conn}}}

	m := NewManager(ManagerConfig{Dialer: dialer, Endpoint: testEndpoint(), Sink: func(protocol.Event) {}})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.push(protocol.Event{Kind: protocol.KindError, Data: protocol.ErrorData{
		Message: "token expired", Code: protocol.ErrorCodeUnauthorized,
	}})
	conn.pushErr(errors.New("dropped after auth error"))

	waitForState(t, m, StateDisconnected)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, auth failure must not redial", got)
	}
}

func TestSubmitOnClosedManager(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(ManagerConfig{Dialer: dialer, Endpoint: testEndpoint()})
	if err := m.Submit(context.Background(), protocol.NewPing()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit err = %v, want ErrClosed", err)
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if m.State() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("State = %v, want %v", m.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
