package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/internal/frame"
	"github.com/parley-dev/parley/pkg/protocol"
)

// DefaultPingInterval is the app-level keepalive period on duplex sockets.
const DefaultPingInterval = 30 * time.Second

const socketReadLimit = 4 * 1024 * 1024 // 4 MB

// socketConn wraps a gorilla WebSocket connection: mutex-guarded writes, a
// periodic app-level ping, and a reader goroutine that decodes incoming
// frames. Pong frames are consumed here and never surface to callers.
type socketConn struct {
	c       *websocket.Conn
	ep      Endpoint
	results chan recvResult

	mu     sync.Mutex // guards writes
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSocketConn(c *websocket.Conn, ep Endpoint, pingInterval time.Duration) *socketConn {
	c.SetReadLimit(socketReadLimit)
	sc := &socketConn{
		c:       c,
		ep:      ep,
		results: make(chan recvResult, 1),
		done:    make(chan struct{}),
	}
	go sc.readLoop()
	if pingInterval > 0 {
		go sc.pingLoop(pingInterval)
	}
	return sc
}

func (c *socketConn) Kind() Kind { return KindSocket }

func (c *socketConn) readLoop() {
	defer close(c.results)
	for {
		_, data, err := c.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrClosed
			}
			c.deliver(recvResult{err: err})
			return
		}
		frm, ferr := frame.DecodeSocket(data)
		if ferr != nil {
			c.deliver(recvResult{err: &protocol.DecodeError{Dialect: protocol.DialectSocket, Err: ferr}})
			continue
		}
		ev, derr := protocol.Decode(protocol.DialectSocket, frm.Name, frm.Data)
		if derr != nil {
			c.deliver(recvResult{err: derr})
			continue
		}
		if ev.Kind == protocol.KindPong {
			continue
		}
		ev.SessionID = c.ep.SessionID
		if !c.deliver(recvResult{ev: ev}) {
			return
		}
	}
}

func (c *socketConn) deliver(res recvResult) bool {
	select {
	case c.results <- res:
		return true
	case <-c.done:
		return false
	}
}

func (c *socketConn) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.write(protocol.NewPing()); err != nil {
				return
			}
		}
	}
}

func (c *socketConn) Recv(ctx context.Context) (protocol.Event, error) {
	select {
	case res, ok := <-c.results:
		if !ok {
			return protocol.Event{}, ErrClosed
		}
		return res.ev, res.err
	case <-c.done:
		return protocol.Event{}, ErrClosed
	case <-ctx.Done():
		return protocol.Event{}, ctx.Err()
	}
}

// Submit writes the outbound message as one JSON text frame.
func (c *socketConn) Submit(_ context.Context, msg protocol.Outbound) error {
	return c.write(msg)
}

func (c *socketConn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("socket marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.c.WriteMessage(websocket.TextMessage, data)
}

func (c *socketConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		deadline := time.Now().Add(time.Second)
		_ = c.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.mu.Unlock()
		close(c.done)
		_ = c.c.Close()
	})
	return nil
}
