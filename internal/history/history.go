// Package history fetches persisted conversations from the agent server.
// History is server-owned; the client never caches more than the one
// in-flight message, so every browse is a fresh fetch.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/parley-dev/parley/internal/message"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrUnauthorized = errors.New("history access unauthorized")
)

// Client talks to the conversations endpoint.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{}}
}

// wire shapes for the conversations endpoint.
type conversationResponse struct {
	ID       string        `json:"id"`
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	ToolCalls   []wireToolCall   `json:"tool_calls,omitempty"`
	ToolResults []wireToolResult `json:"tool_results,omitempty"`
}

type wireToolCall struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

type wireToolResult struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name,omitempty"`
	Success   bool   `json:"success"`
	Summary   string `json:"summary,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// GetConversation loads one persisted conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID string) ([]message.Message, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s", c.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch conversation: unexpected status %s", resp.Status)
	}

	var body conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}

	msgs := make([]message.Message, 0, len(body.Messages))
	for _, wm := range body.Messages {
		m := message.Message{
			Role:    wm.Role,
			Content: wm.Content,
			Status:  message.StatusComplete,
		}
		for _, tc := range wm.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, message.ToolCall{
				CallID: tc.CallID, Name: tc.Name, Status: message.CallSucceeded,
			})
		}
		for _, tr := range wm.ToolResults {
			m.ToolResults = append(m.ToolResults, message.ToolResult{
				CallID: tr.CallID, Name: tr.Name, Success: tr.Success,
				Summary: tr.Summary, ElapsedMs: tr.ElapsedMs,
			})
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
