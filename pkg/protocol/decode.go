package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownEvent = errors.New("unknown event name")

// DecodeError reports one undecodable frame. Frames failing to decode are
// dropped by the transport layer; a DecodeError never aborts a stream.
type DecodeError struct {
	Dialect Dialect
	Name    string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame %q: %v", e.Dialect, e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// clientActionWire exists to apply the show_user_response_as_bubble default
// (absent means true) before the payload reaches callers.
type clientActionWire struct {
	ActionID                 string          `json:"action_id"`
	WidgetType               string          `json:"widget_type"`
	Props                    json.RawMessage `json:"props,omitempty"`
	ShowUserResponseAsBubble *bool           `json:"show_user_response_as_bubble,omitempty"`
}

var emptyObject = []byte("{}")

// Decode turns one wire frame into a typed Event. Every frame either decodes
// or yields a *DecodeError; Decode never panics and never drops silently.
func Decode(d Dialect, name string, data []byte) (Event, error) {
	kind, ok := KindForName(d, name)
	if !ok {
		return Event{}, &DecodeError{Dialect: d, Name: name, Err: ErrUnknownEvent}
	}
	if len(data) == 0 {
		data = emptyObject
	}

	ev := Event{Kind: kind, ReceivedAt: time.Now()}

	var err error
	switch kind {
	case KindConnected:
		ev.Data, err = unmarshalData[ConnectedData](data)
	case KindStreamStarted:
		ev.Data, err = unmarshalData[StreamStartedData](data)
	case KindThinking:
		ev.Data, err = unmarshalData[ThinkingData](data)
	case KindContentChunk:
		ev.Data, err = unmarshalData[ContentChunkData](data)
	case KindToolCallsDetected:
		ev.Data, err = unmarshalData[ToolCallsDetectedData](data)
	case KindToolExecuting:
		ev.Data, err = unmarshalData[ToolExecutingData](data)
	case KindToolResult:
		ev.Data, err = unmarshalData[ToolResultData](data)
	case KindMessageComplete:
		ev.Data, err = unmarshalData[MessageCompleteData](data)
	case KindMessageAdded:
		ev.Data, err = unmarshalData[MessageAddedData](data)
	case KindStreamComplete:
		ev.Data, err = unmarshalData[StreamCompleteData](data)
	case KindCancelled:
		ev.Data, err = unmarshalData[CancelledData](data)
	case KindError:
		ev.Data, err = unmarshalData[ErrorData](data)
	case KindClientAction:
		var wire clientActionWire
		if err = json.Unmarshal(data, &wire); err == nil {
			ev.Data = ClientActionData{
				ActionID:                 wire.ActionID,
				WidgetType:               wire.WidgetType,
				Props:                    wire.Props,
				ShowUserResponseAsBubble: wire.ShowUserResponseAsBubble == nil || *wire.ShowUserResponseAsBubble,
			}
		}
	case KindRunSuspended:
		ev.Data, err = unmarshalData[RunSuspendedData](data)
	case KindRunResumed:
		ev.Data, err = unmarshalData[RunResumedData](data)
	case KindState:
		ev.Data, err = unmarshalData[StateData](data)
	case KindTemplateConfig:
		ev.Data, err = unmarshalData[TemplateConfigData](data)
	case KindTemplateProgress:
		ev.Data, err = unmarshalData[TemplateProgressData](data)
	case KindTemplateComplete:
		ev.Data, err = unmarshalData[TemplateCompleteData](data)
	case KindPong:
		ev.Data = PongData{}
	default:
		return Event{}, &DecodeError{Dialect: d, Name: name, Err: ErrUnknownEvent}
	}
	if err != nil {
		return Event{}, &DecodeError{Dialect: d, Name: name, Err: err}
	}
	return ev, nil
}

func unmarshalData[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
