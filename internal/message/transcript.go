package message

// Message is one finished entry in an exchange transcript.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Status      Status
}

// hasToolData reports whether the message carries tool calls or results.
func (m Message) hasToolData() bool {
	return len(m.ToolCalls) > 0 || len(m.ToolResults) > 0
}

// Transcript collects the finished messages of one exchange. An
// empty-content message bearing only tool data is never rendered as a
// standalone bubble: it is held back and merged into the next message that
// does carry content. Finalize flushes any unmerged tool data as a trailing
// tool-only message so nothing is lost when the stream ends.
type Transcript struct {
	messages []Message
	pending  *Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Add folds one finished message into the transcript.
func (t *Transcript) Add(m Message) {
	if m.Content == "" {
		if !m.hasToolData() {
			return // empty bubble, drop
		}
		if t.pending == nil {
			held := m
			t.pending = &held
			return
		}
		t.pending.ToolCalls = append(t.pending.ToolCalls, m.ToolCalls...)
		t.pending.ToolResults = append(t.pending.ToolResults, m.ToolResults...)
		return
	}

	if t.pending != nil {
		m.ToolCalls = append(append([]ToolCall{}, t.pending.ToolCalls...), m.ToolCalls...)
		m.ToolResults = append(append([]ToolResult{}, t.pending.ToolResults...), m.ToolResults...)
		t.pending = nil
	}
	t.messages = append(t.messages, m)
}

// AddSnapshot folds a frozen Builder snapshot in as an assistant message.
func (t *Transcript) AddSnapshot(s Snapshot) {
	t.Add(Message{
		Role:        "assistant",
		Content:     s.Content,
		ToolCalls:   s.ToolCalls,
		ToolResults: s.ToolResults,
		Status:      s.Status,
	})
}

// Len reports the number of flushed messages, excluding held-back tool data.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Messages returns a copy of the flushed messages.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Finalize ends the exchange. Unmerged tool data becomes a synthesized
// trailing message carrying only that data.
func (t *Transcript) Finalize() []Message {
	if t.pending != nil {
		t.messages = append(t.messages, *t.pending)
		t.pending = nil
	}
	return t.Messages()
}
