package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// HTTPDialer opens real connections: a GET with an SSE Accept header for
// request-stream endpoints, a WebSocket upgrade for duplex sockets.
type HTTPDialer struct {
	Client       *http.Client
	WS           *websocket.Dialer
	PingInterval time.Duration
}

func NewHTTPDialer() *HTTPDialer {
	return &HTTPDialer{
		Client:       &http.Client{},
		WS:           websocket.DefaultDialer,
		PingInterval: DefaultPingInterval,
	}
}

func (d *HTTPDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	switch ep.Kind {
	case KindSocket:
		return d.dialSocket(ctx, ep)
	default:
		return d.dialStream(ctx, ep)
	}
}

func (d *HTTPDialer) dialStream(ctx context.Context, ep Endpoint) (Conn, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/events", ep.BaseURL, ep.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("dial stream: unexpected status %s", resp.Status)
	}
	return newStreamConn(client, ep, resp.Body), nil
}

func (d *HTTPDialer) dialSocket(ctx context.Context, ep Endpoint) (Conn, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/socket", wsURL(ep.BaseURL), ep.SessionID)
	var header http.Header
	if ep.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + ep.Token}}
	}

	wsd := d.WS
	if wsd == nil {
		wsd = websocket.DefaultDialer
	}
	conn, resp, err := wsd.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
		}
		return nil, fmt.Errorf("dial socket: %w", err)
	}

	interval := d.PingInterval
	if interval == 0 {
		interval = DefaultPingInterval
	}
	return newSocketConn(conn, ep, interval), nil
}

// wsURL rewrites an http(s) base URL to its ws(s) equivalent.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
