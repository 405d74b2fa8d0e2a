// Package frame splits raw transport bytes into protocol frames: blank-line
// delimited SSE blocks on request-stream connections, one JSON envelope per
// text message on duplex sockets. Frames carry a name and raw payload bytes;
// interpreting them is the protocol package's job.
package frame

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one undecoded protocol frame in arrival order.
type Frame struct {
	ID   string
	Name string
	Data []byte
}

// maxLineSize bounds a single SSE line. Payloads beyond this indicate a
// broken peer, not a legitimate event.
const maxLineSize = 1024 * 1024

// Scanner reads server-sent-event blocks from a byte stream. A block is a
// run of field lines terminated by a blank line; `event:` names the frame
// (defaulting to "message"), multiple `data:` lines are joined with a
// newline, `id:` is carried through, and comment lines are dropped. A
// partial block at EOF is discarded.
type Scanner struct {
	s *bufio.Scanner
}

func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{s: s}
}

// Next returns the next complete frame. It blocks until a blank line
// completes a block, and returns io.EOF when the stream ends.
func (sc *Scanner) Next() (Frame, error) {
	var (
		id        string
		eventName string
		dataLines []string
		sawField  bool
	)
	for sc.s.Scan() {
		line := strings.TrimSuffix(sc.s.Text(), "\r")

		if line == "" {
			if !sawField {
				continue // separator run between blocks
			}
			name := eventName
			if name == "" {
				name = "message"
			}
			frm := Frame{ID: id, Name: name}
			if len(dataLines) > 0 {
				frm.Data = []byte(strings.Join(dataLines, "\n"))
			}
			return frm, nil
		}

		if strings.HasPrefix(line, ":") {
			continue // comment / heartbeat
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = value
			sawField = true
		case "data":
			dataLines = append(dataLines, value)
			sawField = true
		case "id":
			id = value
			sawField = true
		default:
			// Unknown fields are ignored per the SSE contract.
		}
	}
	if err := sc.s.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// socketEnvelope is the duplex-socket frame shape: a type discriminator and
// an opaque payload.
type socketEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeSocket parses one socket text frame into a Frame.
func DecodeSocket(b []byte) (Frame, error) {
	var env socketEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return Frame{Name: env.Type, Data: env.Data}, nil
}

// EncodeSocket builds the socket frame bytes for an event name and payload.
func EncodeSocket(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(socketEnvelope{Type: name, Data: raw})
}
