package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/parley-dev/parley/internal/frame"
	"github.com/parley-dev/parley/pkg/protocol"
)

// streamConn consumes a long-lived SSE response body. Outbound messages go
// out as side-channel POSTs; the stream itself is receive-only and has no
// client-initiated keepalive.
type streamConn struct {
	client  *http.Client
	ep      Endpoint
	body    io.ReadCloser
	results chan recvResult

	closeOnce sync.Once
	closed    chan struct{}
}

func newStreamConn(client *http.Client, ep Endpoint, body io.ReadCloser) *streamConn {
	c := &streamConn{
		client:  client,
		ep:      ep,
		body:    body,
		results: make(chan recvResult, 1),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *streamConn) Kind() Kind { return KindStream }

// readLoop scans SSE blocks off the response body and decodes each into an
// event. Decode failures are forwarded as results so Recv callers can skip
// them; a read error ends the loop.
func (c *streamConn) readLoop() {
	defer close(c.results)
	sc := frame.NewScanner(c.body)
	for {
		frm, err := sc.Next()
		if err != nil {
			if err == io.EOF {
				err = ErrClosed
			}
			c.deliver(recvResult{err: err})
			return
		}
		ev, derr := protocol.Decode(protocol.DialectStream, frm.Name, frm.Data)
		if derr != nil {
			c.deliver(recvResult{err: derr})
			continue
		}
		ev.SessionID = c.ep.SessionID
		if !c.deliver(recvResult{ev: ev}) {
			return
		}
	}
}

func (c *streamConn) deliver(res recvResult) bool {
	select {
	case c.results <- res:
		return true
	case <-c.closed:
		return false
	}
}

func (c *streamConn) Recv(ctx context.Context) (protocol.Event, error) {
	select {
	case res, ok := <-c.results:
		if !ok {
			return protocol.Event{}, ErrClosed
		}
		return res.ev, res.err
	case <-c.closed:
		return protocol.Event{}, ErrClosed
	case <-ctx.Done():
		return protocol.Event{}, ctx.Err()
	}
}

// Submit maps each outbound message to its side-channel HTTP call.
func (c *streamConn) Submit(ctx context.Context, msg protocol.Outbound) error {
	switch m := msg.(type) {
	case protocol.StartExchange:
		return c.post(ctx, "messages", m)
	case protocol.WidgetResponse:
		return c.post(ctx, "widget-response", m)
	case protocol.CancelExchange:
		return c.post(ctx, "cancel", m)
	default:
		return fmt.Errorf("%w: %s on request-stream", ErrSubmitUnsupported, msg.OutboundType())
	}
}

func (c *streamConn) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/%s", c.ep.BaseURL, c.ep.SessionID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.ep.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
	case resp.StatusCode >= 400:
		return fmt.Errorf("post %s: unexpected status %s", path, resp.Status)
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.body.Close()
	})
	return nil
}
