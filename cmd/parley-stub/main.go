// parley-stub runs the scriptable agent server standalone so the parley CLI
// has something to talk to without a real agent backend. It echoes every
// exchange and, with --widget, asks for a confirmation widget first.
//
// Usage:
//
//	parley-stub --addr :8123
//	parley chat --server http://localhost:8123
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/parley-dev/parley/internal/agenttest"
)

func main() {
	addr := flag.String("addr", ":8123", "listen address")
	widget := flag.Bool("widget", false, "ask for a confirmation widget before answering")
	delay := flag.Duration("delay", 30*time.Millisecond, "delay between streamed chunks")
	flag.Parse()

	srv := agenttest.New()
	srv.ScriptExchange(func(_, text string) []agenttest.Step {
		if *widget {
			return []agenttest.Step{
				{Name: "stream_started", Data: map[string]any{}},
				{Name: "client_action", Data: map[string]any{
					"action_id":   "confirm-1",
					"widget_type": "confirm",
					"props":       map[string]any{"question": "Proceed with: " + text + "?"},
				}},
				{Name: "run_suspended", Data: map[string]any{}},
			}
		}
		return echoSteps(text, *delay)
	})
	srv.ScriptWidgetResponse(func(_, actionID string, value json.RawMessage) []agenttest.Step {
		steps := []agenttest.Step{{Name: "run_resumed", Data: map[string]any{}}}
		return append(steps, echoSteps("confirmed "+actionID+" with "+string(value), *delay)...)
	})
	srv.AddConversation("demo", []agenttest.ConversationMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hello yourself"},
	})

	slog.Info("stub agent listening", "addr", *addr, "widget", *widget)
	if err := http.ListenAndServe(*addr, srv); err != nil {
		fmt.Fprintf(os.Stderr, "parley-stub: %v\n", err)
		os.Exit(1)
	}
}

// echoSteps streams the reply word by word so the client's incremental
// accumulation is visible.
func echoSteps(text string, delay time.Duration) []agenttest.Step {
	steps := []agenttest.Step{
		{Name: "stream_started", Data: map[string]any{}},
		{Name: "assistant_thinking", Data: map[string]any{}},
		{Name: "content_chunk", Data: map[string]any{"text": "Echo: "}, Delay: delay},
	}
	for _, word := range splitWords(text) {
		steps = append(steps, agenttest.Step{
			Name:  "content_chunk",
			Data:  map[string]any{"text": word},
			Delay: delay,
		})
	}
	steps = append(steps,
		agenttest.Step{Name: "message_complete", Data: map[string]any{}},
		agenttest.Step{Name: "stream_complete", Data: map[string]any{}},
	)
	return steps
}

// splitWords keeps the separating spaces attached so concatenating the
// chunks reproduces the input.
func splitWords(s string) []string {
	var words []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			words = append(words, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}
