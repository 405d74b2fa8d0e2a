package message

import (
	"errors"
	"testing"
)

func TestBuilder_ChunksAccumulateInOrder(t *testing.T) {
	b := NewBuilder()
	if err := b.AppendContent("Hello"); err != nil {
		t.Fatalf("AppendContent: %v", err)
	}
	if err := b.AppendContent(" world"); err != nil {
		t.Fatalf("AppendContent: %v", err)
	}
	b.Complete("")

	snap := b.Snapshot()
	if snap.Content != "Hello world" {
		t.Errorf("Content = %q, want %q", snap.Content, "Hello world")
	}
	if snap.Status != StatusComplete {
		t.Errorf("Status = %v, want complete", snap.Status)
	}
}

func TestBuilder_ServerFinalTextWins(t *testing.T) {
	b := NewBuilder()
	_ = b.AppendContent("Hello wor")
	b.Complete("Hello world!")
	if got := b.Snapshot().Content; got != "Hello world!" {
		t.Errorf("Content = %q, want server-authoritative text", got)
	}
}

func TestBuilder_CompleteIsIdempotent(t *testing.T) {
	b := NewBuilder()
	_ = b.AppendContent("done")
	b.Complete("")
	b.Complete("other text")
	if got := b.Snapshot().Content; got != "done" {
		t.Errorf("Content = %q, want frozen %q", got, "done")
	}
	if got := b.Status(); got != StatusComplete {
		t.Errorf("Status = %v, want complete", got)
	}
}

func TestBuilder_AppendAfterTerminalRejected(t *testing.T) {
	b := NewBuilder()
	b.Cancel()
	if err := b.AppendContent("late"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("AppendContent after cancel: err = %v, want ErrFinalized", err)
	}
	if got := b.Snapshot().Content; got != CancelledPlaceholder {
		t.Errorf("Content = %q, want cancellation placeholder", got)
	}
}

func TestBuilder_CancelKeepsStreamedContent(t *testing.T) {
	b := NewBuilder()
	_ = b.AppendContent("partial answer")
	b.Cancel()
	snap := b.Snapshot()
	if snap.Content != "partial answer" {
		t.Errorf("Content = %q, want streamed content kept", snap.Content)
	}
	if snap.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", snap.Status)
	}
}

func TestBuilder_FailUsesPlaceholder(t *testing.T) {
	b := NewBuilder()
	_ = b.AppendContent("half an ans")
	b.Fail("")
	snap := b.Snapshot()
	if snap.Content != ErrorPlaceholder {
		t.Errorf("Content = %q, want error placeholder", snap.Content)
	}
	if snap.Status != StatusError {
		t.Errorf("Status = %v, want error", snap.Status)
	}
}

func TestBuilder_ToolOscillation(t *testing.T) {
	b := NewBuilder()
	_ = b.AppendContent("Let me check. ")
	if err := b.AddToolCalls([]ToolCall{{CallID: "c1", Name: "search"}}); err != nil {
		t.Fatalf("AddToolCalls: %v", err)
	}
	if err := b.ToolExecuting("c1"); err != nil {
		t.Fatalf("ToolExecuting: %v", err)
	}
	if got := b.Status(); got != StatusToolCalling {
		t.Fatalf("Status = %v, want tool_calling", got)
	}
	if err := b.AddToolResult(ToolResult{CallID: "c1", Name: "search", Success: true, Summary: "3 hits"}); err != nil {
		t.Fatalf("AddToolResult: %v", err)
	}
	if got := b.Status(); got != StatusStreaming {
		t.Fatalf("Status = %v, want streaming after result", got)
	}
	_ = b.AppendContent("Found it.")
	b.Complete("")

	snap := b.Snapshot()
	if snap.Content != "Let me check. Found it." {
		t.Errorf("Content = %q, tool events must not reset content", snap.Content)
	}
	if len(snap.ToolCalls) != 1 || snap.ToolCalls[0].Status != CallSucceeded {
		t.Errorf("ToolCalls = %+v, want one succeeded call", snap.ToolCalls)
	}
	if len(snap.ToolResults) != 1 || snap.ToolResults[0].CallID != "c1" {
		t.Errorf("ToolResults = %+v, want one result for c1", snap.ToolResults)
	}
}

func TestBuilder_FailedToolResultMarksCall(t *testing.T) {
	b := NewBuilder()
	_ = b.AddToolCalls([]ToolCall{{CallID: "c2", Name: "fetch"}})
	_ = b.AddToolResult(ToolResult{CallID: "c2", Success: false, ErrorDetail: "timeout"})
	snap := b.Snapshot()
	if snap.ToolCalls[0].Status != CallFailed {
		t.Errorf("call status = %v, want failed", snap.ToolCalls[0].Status)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusThinking, StatusStreaming, true},
		{StatusStreaming, StatusToolCalling, true},
		{StatusToolCalling, StatusStreaming, true},
		{StatusStreaming, StatusComplete, true},
		{StatusComplete, StatusStreaming, false},
		{StatusCancelled, StatusComplete, false},
		{StatusError, StatusStreaming, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
