// Package agenttest is a scriptable in-process agent server speaking both
// protocol dialects. Tests and the parley-stub binary point a client at it:
// scripted event sequences play back per exchange, the widget handshake
// round-trips, and a small conversation store backs the history endpoint.
package agenttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/internal/frame"
)

// Step is one scripted server event, named in the stream dialect. Steps
// are translated automatically when a client is connected over the socket
// dialect; steps with no socket equivalent are skipped there.
type Step struct {
	Name  string
	Data  any
	Delay time.Duration
}

// EchoScript is the default exchange script: echo the user text back as a
// single streamed message.
func EchoScript(_, text string) []Step {
	return []Step{
		{Name: "stream_started", Data: map[string]any{}},
		{Name: "content_chunk", Data: map[string]any{"text": "Echo: " + text}},
		{Name: "message_complete", Data: map[string]any{}},
		{Name: "stream_complete", Data: map[string]any{}},
	}
}

// streamToSocket maps stream-dialect event names onto the reduced socket
// vocabulary. Unmapped names have no socket representation.
var streamToSocket = map[string]string{
	"connected":           "connected",
	"content_chunk":       "content",
	"client_action":       "widget",
	"template_progress":   "progress",
	"message_complete":    "message_complete",
	"stream_complete":     "complete",
	"template_complete":   "complete",
	"cancelled":           "complete",
	"message_added":       "message_added",
	"template_config":     "template_config",
	"tool_calls_detected": "tool_call",
	"tool_result":         "tool_result",
	"error":               "error",
}

type emitted struct {
	name string
	data any
}

// subscriber receives a session's events. Slow subscribers are dropped
// rather than blocking the emitter.
type subscriber struct {
	ch chan emitted
}

type sessionState struct {
	subscribers map[*subscriber]struct{}
}

// ConversationMessage is one entry served by the history endpoint.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Server implements http.Handler.
type Server struct {
	router chi.Router

	mu            sync.Mutex
	sessions      map[string]*sessionState
	conversations map[string][]ConversationMessage

	onExchange func(sessionID, text string) []Step
	onWidget   func(sessionID, actionID string, value json.RawMessage) []Step
	onCancel   func(sessionID string) []Step
}

func New() *Server {
	s := &Server{
		sessions:      make(map[string]*sessionState),
		conversations: make(map[string][]ConversationMessage),
		onExchange:    EchoScript,
		onWidget: func(_, _ string, _ json.RawMessage) []Step {
			return []Step{{Name: "run_resumed", Data: map[string]any{}}}
		},
		onCancel: func(string) []Step {
			return []Step{{Name: "cancelled", Data: map[string]any{}}}
		},
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions/{id}/events", s.handleSSE)
		r.Get("/sessions/{id}/socket", s.handleSocket)
		r.Post("/sessions/{id}/messages", s.handleMessage)
		r.Post("/sessions/{id}/widget-response", s.handleWidgetResponse)
		r.Post("/sessions/{id}/cancel", s.handleCancel)
		r.Get("/conversations/{id}", s.handleConversation)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ScriptExchange replaces the per-exchange reply script.
func (s *Server) ScriptExchange(fn func(sessionID, text string) []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExchange = fn
}

// ScriptWidgetResponse replaces the widget-response follow-up script.
func (s *Server) ScriptWidgetResponse(fn func(sessionID, actionID string, value json.RawMessage) []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWidget = fn
}

// AddConversation seeds the history store.
func (s *Server) AddConversation(id string, msgs []ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = msgs
}

// Emit pushes one event to every subscriber of a session.
func (s *Server) Emit(sessionID, name string, data any) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(state.subscribers))
	for sub := range state.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- emitted{name: name, data: data}:
		default:
			// Slow subscriber; drop rather than stall the script.
		}
	}
}

func (s *Server) subscribe(sessionID string) *subscriber {
	sub := &subscriber{ch: make(chan emitted, 64)}
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &sessionState{subscribers: make(map[*subscriber]struct{})}
		s.sessions[sessionID] = state
	}
	state.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sessionID string, sub *subscriber) {
	s.mu.Lock()
	if state, ok := s.sessions[sessionID]; ok {
		delete(state.subscribers, sub)
	}
	s.mu.Unlock()
}

// playScript emits each step of a script in order, honoring delays.
func (s *Server) playScript(sessionID string, steps []Step) {
	for _, step := range steps {
		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}
		s.Emit(sessionID, step.Name, step.Data)
	}
}

// handleSSE streams a session's events in the stream dialect. The
// subscription is registered before headers flush so no event is lost
// between the 200 and the first write.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := s.subscribe(sessionID)
	defer s.unsubscribe(sessionID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.Emit(sessionID, "connected", map[string]any{"session_id": sessionID, "protocol": "stream"})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.ch:
			data, err := json.Marshal(ev.data)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleSocket serves the duplex dialect: scripted events go out as
// {"type","data"} frames, inbound frames drive the same scripts as the
// stream side-channel POSTs.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.subscribe(sessionID)
	defer s.unsubscribe(sessionID, sub)

	var writeMu sync.Mutex
	writeFrame := func(name string, data any) error {
		payload, err := frame.EncodeSocket(name, data)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			select {
			case <-quit:
				return
			case ev := <-sub.ch:
				name, ok := streamToSocket[ev.name]
				if !ok {
					continue
				}
				if err := writeFrame(name, ev.data); err != nil {
					return
				}
			}
		}
	}()

	_ = writeFrame("connected", map[string]any{"session_id": sessionID, "protocol": "socket"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type     string          `json:"type"`
			Text     string          `json:"text"`
			ActionID string          `json:"action_id"`
			Value    json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			_ = writeFrame("pong", map[string]any{})
		case "start":
			s.mu.Lock()
			script := s.onExchange
			s.mu.Unlock()
			go s.playScript(sessionID, script(sessionID, msg.Text))
		case "widget_response":
			s.mu.Lock()
			script := s.onWidget
			s.mu.Unlock()
			go s.playScript(sessionID, script(sessionID, msg.ActionID, msg.Value))
		case "cancel":
			s.mu.Lock()
			script := s.onCancel
			s.mu.Unlock()
			go s.playScript(sessionID, script(sessionID))
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	script := s.onExchange
	s.mu.Unlock()
	go s.playScript(sessionID, script(sessionID, body.Text))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWidgetResponse(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var body struct {
		ActionID string          `json:"action_id"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	script := s.onWidget
	s.mu.Unlock()
	go s.playScript(sessionID, script(sessionID, body.ActionID, body.Value))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	s.mu.Lock()
	script := s.onCancel
	s.mu.Unlock()
	go s.playScript(sessionID, script(sessionID))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	msgs, ok := s.conversations[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "messages": msgs})
}
