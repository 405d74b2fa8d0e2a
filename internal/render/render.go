// Package render paints session output on a terminal. It implements the
// multiplexer's Renderer interface: repeated RenderMessage calls update the
// one in-flight message, so only the unseen tail of the content is written.
package render

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/parley-dev/parley/internal/message"
	"github.com/parley-dev/parley/internal/suspend"
)

var (
	noticePrefix = color.New(color.FgHiBlue).Sprint("i")
	widgetPrefix = color.New(color.FgHiYellow).Sprint("?")
	errPrefix    = color.New(color.FgHiRed).Sprint("✗")
	toolStyle    = color.New(color.FgHiCyan).SprintFunc()
	dimStyle     = color.New(color.Faint).SprintFunc()
)

// Terminal writes to Out/ErrOut with color. Safe for concurrent use.
type Terminal struct {
	Out    io.Writer
	ErrOut io.Writer

	mu      sync.Mutex
	printed map[string]int // per session: content bytes already written
	tools   map[string]int // per session: tool results already written
}

func NewTerminal() *Terminal {
	return &Terminal{
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
		printed: make(map[string]int),
		tools:   make(map[string]int),
	}
}

// RenderMessage writes the unseen part of the in-flight message. Terminal
// statuses flush the message and reset the per-session cursor.
func (t *Terminal) RenderMessage(sessionID string, snap message.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := t.printed[sessionID]
	if len(snap.Content) > seen {
		fmt.Fprint(t.Out, snap.Content[seen:])
		t.printed[sessionID] = len(snap.Content)
	}

	seenTools := t.tools[sessionID]
	for _, res := range snap.ToolResults[min(seenTools, len(snap.ToolResults)):] {
		mark := "ok"
		if !res.Success {
			mark = "failed: " + res.ErrorDetail
		}
		fmt.Fprintf(t.Out, "\n%s\n", toolStyle(fmt.Sprintf("[tool %s %s (%dms)]", res.Name, mark, res.ElapsedMs)))
	}
	if len(snap.ToolResults) > seenTools {
		t.tools[sessionID] = len(snap.ToolResults)
	}

	if snap.Status.Terminal() {
		switch snap.Status {
		case message.StatusCancelled:
			fmt.Fprintf(t.Out, "\n%s\n", dimStyle("(cancelled)"))
		case message.StatusError:
			fmt.Fprintf(t.ErrOut, "\n%s %s\n", errPrefix, "response failed")
		default:
			fmt.Fprintln(t.Out)
		}
		delete(t.printed, sessionID)
		delete(t.tools, sessionID)
	}
}

// RenderWidget prompts for a pending structured-input action.
func (t *Terminal) RenderWidget(sessionID string, action suspend.PendingAction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.Out, "\n%s input requested (%s, action %s)\n",
		widgetPrefix, action.WidgetType, action.ActionID)
	if len(action.Props) > 0 {
		fmt.Fprintf(t.Out, "%s\n", dimStyle(string(action.Props)))
	}
}

// Notice writes a one-line session notice.
func (t *Terminal) Notice(sessionID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.Out, "%s %s\n", noticePrefix, text)
}
