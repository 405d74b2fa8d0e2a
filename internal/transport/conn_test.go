package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/pkg/protocol"
)

func TestStreamConn_RecvDecodesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/events") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: content_chunk\ndata: {\"text\":\"one\"}\n\n")
		fmt.Fprintf(w, "event: content_chunk\ndata: {\"text\":\"two\"}\n\n")
		fmt.Fprintf(w, "event: stream_complete\ndata: {}\n\n")
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	conn, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s1", Kind: KindStream})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, want := range []string{"one", "two"} {
		ev, err := conn.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if ev.Kind != protocol.KindContentChunk {
			t.Fatalf("Kind = %v, want content_chunk", ev.Kind)
		}
		if got := ev.Data.(protocol.ContentChunkData).Text; got != want {
			t.Errorf("text = %q, want %q", got, want)
		}
		if ev.SessionID != "s1" {
			t.Errorf("SessionID = %q, want stamped s1", ev.SessionID)
		}
	}

	ev, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv terminal: %v", err)
	}
	if ev.Kind != protocol.KindStreamComplete {
		t.Errorf("Kind = %v, want stream_complete", ev.Kind)
	}
}

func TestStreamConn_UnknownEventIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: not_a_real_event\ndata: {}\n\n")
		fmt.Fprintf(w, "event: content_chunk\ndata: {\"text\":\"after\"}\n\n")
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	conn, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s1", Kind: KindStream})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = conn.Recv(ctx)
	var derr *protocol.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("Recv err = %v, want *DecodeError", err)
	}

	// The stream keeps going past the bad frame.
	ev, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv after decode error: %v", err)
	}
	if got := ev.Data.(protocol.ContentChunkData).Text; got != "after" {
		t.Errorf("text = %q, want %q", got, "after")
	}
}

func TestStreamConn_SubmitSideChannel(t *testing.T) {
	posts := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts <- r.URL.Path
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	conn, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s1", Kind: KindStream})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	if err := conn.Submit(ctx, protocol.NewStartExchange("s1", "hello", "", "")); err != nil {
		t.Fatalf("Submit start: %v", err)
	}
	if err := conn.Submit(ctx, protocol.NewWidgetResponse("s1", "a1", json.RawMessage(`"v"`))); err != nil {
		t.Fatalf("Submit widget: %v", err)
	}
	if err := conn.Submit(ctx, protocol.NewCancelExchange("s1", "")); err != nil {
		t.Fatalf("Submit cancel: %v", err)
	}
	if err := conn.Submit(ctx, protocol.NewPing()); !errors.Is(err, ErrSubmitUnsupported) {
		t.Fatalf("Submit ping err = %v, want ErrSubmitUnsupported", err)
	}

	want := []string{"/v1/sessions/s1/messages", "/v1/sessions/s1/widget-response", "/v1/sessions/s1/cancel"}
	for _, path := range want {
		select {
		case got := <-posts:
			if got != path {
				t.Errorf("post path = %q, want %q", got, path)
			}
		case <-time.After(time.Second):
			t.Fatalf("no POST for %s", path)
		}
	}
}

func TestStreamDial_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	_, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s1", Kind: KindStream})
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Dial err = %v, want ErrAuthRejected", err)
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestSocketConn_RecvAndSubmit(t *testing.T) {
	received := make(chan map[string]any, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		// Pong first: the transport layer must swallow it.
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong","data":{}}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"content","data":{"text":"hi"}}`))

		// Then echo back whatever the client submits.
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				received <- msg
			}
		}
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	conn, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s2", Kind: KindSocket})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != protocol.KindContentChunk {
		t.Fatalf("Kind = %v, want content_chunk (pong must be dropped)", ev.Kind)
	}
	if ev.SessionID != "s2" {
		t.Errorf("SessionID = %q, want s2", ev.SessionID)
	}

	if err := conn.Submit(ctx, protocol.NewStartExchange("s2", "hello", "", "")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case msg := <-received:
		if msg["type"] != "start" || msg["text"] != "hello" {
			t.Errorf("server received %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the submit")
	}
}

func TestSocketConn_Keepalive(t *testing.T) {
	pings := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil && msg["type"] == "ping" {
				pings <- struct{}{}
			}
		}
	}))
	defer srv.Close()

	d := NewHTTPDialer()
	d.PingInterval = 20 * time.Millisecond
	conn, err := d.Dial(context.Background(), Endpoint{BaseURL: srv.URL, SessionID: "s3", Kind: KindSocket})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("no keepalive ping arrived")
	}
}

func TestWSURL(t *testing.T) {
	if got := wsURL("http://host:1234"); got != "ws://host:1234" {
		t.Errorf("wsURL http = %q", got)
	}
	if got := wsURL("https://host"); got != "wss://host" {
		t.Errorf("wsURL https = %q", got)
	}
}
